package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"
)

func (s *Service) WriteEvent(ctx context.Context, evt AuditEvent) error {
	// Idempotency: if EventID is unset, generate it.
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}

	query := `
		INSERT INTO audit_logs (
			event_id, action, target_type, target_id,
			result, reason_code, request_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := s.DB.ExecContext(ctx, query,
		evt.EventID.String(), evt.Action, evt.TargetType, evt.TargetID,
		evt.Result, evt.ReasonCode, evt.RequestID, string(evt.Metadata), evt.CreatedAt,
	)

	if err != nil {
		log.Printf("[Audit] DB write failed: %v. Spooling event %s", err, evt.EventID)
		if spoolErr := SpoolEvent(evt); spoolErr != nil {
			log.Printf("[Audit] CRITICAL: spool failed for event %s: %v", evt.EventID, spoolErr)
			return fmt.Errorf("audit critical failure: %v", spoolErr)
		}
		return nil // swallow DB error once spooled
	}

	return nil
}

// No Update methods exposed; rows are removed only by PruneOlderThan
// (retention.go).

// QueryEvents implements filters and cursor pagination, paging on sqlite's
// implicit rowid so no separate surrogate id column is needed.
func (s *Service) QueryEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, string, error) {
	q := `SELECT rowid, event_id, action, target_type, target_id, result, created_at, metadata
	      FROM audit_logs WHERE 1 = 1`
	var args []interface{}

	if f.TargetType != "" {
		q += " AND target_type = ?"
		args = append(args, f.TargetType)
	}
	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.Result != "" {
		q += " AND result = ?"
		args = append(args, f.Result)
	}
	if f.Cursor != "" {
		q += " AND rowid < ?"
		args = append(args, f.Cursor)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var events []AuditEvent
	var lastRowID string

	for rows.Next() {
		var evt AuditEvent
		var meta []byte
		var rowID int64
		var eventID string
		if err := rows.Scan(&rowID, &eventID, &evt.Action, &evt.TargetType, &evt.TargetID, &evt.Result, &evt.CreatedAt, &meta); err != nil {
			return nil, "", err
		}
		evt.EventID = uuid.MustParse(eventID)
		if len(meta) > 0 {
			evt.Metadata = json.RawMessage(meta)
		}
		events = append(events, evt)
		lastRowID = fmt.Sprintf("%d", rowID)
	}

	return events, lastRowID, nil
}

func (s *Service) ExportEvents(ctx context.Context, f AuditFilter, w io.Writer) error {
	rows, err := s.DB.QueryContext(ctx, `SELECT event_id, action, target_type, target_id, result, created_at, metadata FROM audit_logs ORDER BY rowid ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	const maxRecords = 10000 // safety bound on one export stream

	for rows.Next() {
		if count >= maxRecords {
			break
		}
		var evt AuditEvent
		var meta []byte
		var eventID string
		if err := rows.Scan(&eventID, &evt.Action, &evt.TargetType, &evt.TargetID, &evt.Result, &evt.CreatedAt, &meta); err != nil {
			return err
		}
		evt.EventID = uuid.MustParse(eventID)
		if len(meta) > 0 {
			evt.Metadata = json.RawMessage(meta)
		}
		if err := enc.Encode(evt); err != nil {
			return err
		}
		count++
	}
	return nil
}
