package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Sessions are opaque to the core — stored only so an external chat
// collaborator can list/resume conversations.

func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	if sess.CreatedAt == 0 {
		sess.CreatedAt = time.Now().Unix()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sessions (session_id, title, created_at) VALUES (?, ?, ?)`,
		sess.SessionID, sess.Title, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("data: save session %s: %w", sess.SessionID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	err := s.DB.QueryRowContext(ctx, `SELECT session_id, title, created_at FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.SessionID, &sess.Title, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("data: get session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT session_id, title, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("data: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.SessionID, &sess.Title, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
