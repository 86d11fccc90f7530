// Package data is the TaskStore: the durable relational store for tasks,
// notes, network cameras, settings, and sessions.
package data

import (
	"context"
	"database/sql"
	"errors"

	"github.com/technosupport/vms-watch/internal/crypto"
)

var ErrNotFound = errors.New("data: record not found")

// DBTX is satisfied by *sql.DB and *sql.Tx so store methods can run inside
// or outside an explicit transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type TaskStatus string

const (
	StatusActive     TaskStatus = "active"
	StatusDone       TaskStatus = "done"
	StatusTerminated TaskStatus = "terminated"
)

type NoteEntry struct {
	Content   string
	Timestamp int64 // seconds since epoch
}

type Task struct {
	TaskID     string
	TaskNumber int
	TaskDesc   string
	Notes      []NoteEntry
	Done       bool
	IOID       string
	Status     TaskStatus
}

type DeviceSource string

const (
	SourceLocal   DeviceSource = "local"
	SourceNetwork DeviceSource = "network"
)

type Device struct {
	IOID     string
	Category string
	Name     string
	Source   DeviceSource
	URL      string
	PullURL  string
}

type Setting struct {
	Key   string
	Value string
}

type Session struct {
	SessionID string
	Title     string
	CreatedAt int64
}

// Store wraps a DBTX with the TaskStore operations.
type Store struct {
	DB DBTX

	// Keyring, when set, seals network camera URLs and sensitive settings
	// values at rest with envelope encryption. Nil means no encryption (e.g. tests, or a
	// deployment that hasn't provisioned MASTER_KEYS yet).
	Keyring *crypto.Keyring
}

func NewStore(db DBTX) *Store {
	return &Store{DB: db}
}

// NewStoreWithKeyring is NewStore plus a keyring for at-rest encryption
// of network camera URLs and sensitive settings.
func NewStoreWithKeyring(db DBTX, kr *crypto.Keyring) *Store {
	return &Store{DB: db, Keyring: kr}
}
