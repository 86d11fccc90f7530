package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEvent records one mutating call against the task/device/settings
// surface (TaskManager, IOManager, settings writes). No Update is exposed
// anywhere in this package; the only Delete is PruneOlderThan's retention
// sweep.
type AuditEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	Action     string          `json:"action"`               // "task.add", "task.delete", "camera.add", "setting.set", ...
	TargetType string          `json:"target_type,omitempty"` // "task", "io", "setting", "session"
	TargetID   string          `json:"target_id,omitempty"`   // task_id, io_id, setting key, session_id
	Result     string          `json:"result"`                // "ok" or "error"
	ReasonCode string          `json:"reason_code,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FailoverEvent wraps an AuditEvent for JSONL disk spooling.
type FailoverEvent struct {
	EventID   string     `json:"event_id"`
	Payload   AuditEvent `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
}

// AuditFilter narrows QueryEvents.
type AuditFilter struct {
	TargetType string
	Action     string
	Result     string
	Limit      int
	Cursor     string // ID-based cursor
}

type Service struct {
	DB *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}
