package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveTask inserts a new task row. Callers assign task_id before calling
// (TaskManager owns the max(existing)+1 counter).
func (s *Store) SaveTask(ctx context.Context, t Task) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (task_id, task_number, task_desc, done, io_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.TaskNumber, t.TaskDesc, t.Done, t.IOID, string(t.Status), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("data: save task %s: %w", t.TaskID, err)
	}
	return nil
}

// UpdateTaskDone sets done and, if status is non-empty, status too.
func (s *Store) UpdateTaskDone(ctx context.Context, taskID string, done bool, status TaskStatus) error {
	if status == "" {
		_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET done = ? WHERE task_id = ?`, done, taskID)
		if err != nil {
			return fmt.Errorf("data: update task done %s: %w", taskID, err)
		}
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET done = ?, status = ? WHERE task_id = ?`, done, string(status), taskID)
	if err != nil {
		return fmt.Errorf("data: update task done/status %s: %w", taskID, err)
	}
	return nil
}

func (s *Store) UpdateTaskDesc(ctx context.Context, taskID, desc string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET task_desc = ? WHERE task_id = ?`, desc, taskID)
	if err != nil {
		return fmt.Errorf("data: update task desc %s: %w", taskID, err)
	}
	return nil
}

// DeleteTask removes the task row; task_notes cascades via the foreign key.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("data: delete task %s: %w", taskID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveNote appends an immutable note to a task.
func (s *Store) SaveNote(ctx context.Context, taskID string, note NoteEntry) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO task_notes (task_id, content, timestamp) VALUES (?, ?, ?)`,
		taskID, note.Content, note.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("data: save note for task %s: %w", taskID, err)
	}
	return nil
}

// LoadAllTasks loads every task joined with its notes, ordered by numeric
// task_id, notes ordered by insertion (equivalently timestamp).
func (s *Store) LoadAllTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT task_id, task_number, task_desc, done, io_id, status
		FROM tasks ORDER BY CAST(task_id AS INTEGER) ASC`)
	if err != nil {
		return nil, fmt.Errorf("data: load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	byID := make(map[string]*Task)
	for rows.Next() {
		var t Task
		var status string
		if err := rows.Scan(&t.TaskID, &t.TaskNumber, &t.TaskDesc, &t.Done, &t.IOID, &status); err != nil {
			return nil, fmt.Errorf("data: scan task: %w", err)
		}
		t.Status = TaskStatus(status)
		tasks = append(tasks, t)
	}
	for i := range tasks {
		byID[tasks[i].TaskID] = &tasks[i]
	}

	noteRows, err := s.DB.QueryContext(ctx, `
		SELECT task_id, content, timestamp FROM task_notes ORDER BY task_id, timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("data: load notes: %w", err)
	}
	defer noteRows.Close()

	for noteRows.Next() {
		var taskID string
		var n NoteEntry
		if err := noteRows.Scan(&taskID, &n.Content, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("data: scan note: %w", err)
		}
		if t, ok := byID[taskID]; ok {
			t.Notes = append(t.Notes, n)
		}
	}

	return tasks, nil
}

// GetMaxTaskID returns the largest existing numeric task_id, or -1 if none
// exist; the caller's next id is always this value + 1.
func (s *Store) GetMaxTaskID(ctx context.Context) (int, error) {
	var max sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT MAX(CAST(task_id AS INTEGER)) FROM tasks`).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("data: get max task id: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// TerminateActiveTasks marks every not-done task as terminated on startup
// recovery and returns the count affected.
func (s *Store) TerminateActiveTasks(ctx context.Context) (int, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE done = 0`, string(StatusTerminated))
	if err != nil {
		return 0, fmt.Errorf("data: terminate active tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
