package ingestor

import (
	"sync"
	"time"

	"github.com/technosupport/vms-watch/internal/data"
)

// TaskHandle is a concurrency-safe handle to one task, held by pointer by
// both the TaskManager and the ingestor running its device. Rather than
// sharing a bare *data.Task (which would race TaskManager's edit_task
// against the ingestor's note appends), every field access goes through a
// mutex; task_desc is last-writer-wins by design, notes are append-only.
type TaskHandle struct {
	mu   sync.Mutex
	task data.Task
}

func NewTaskHandle(t data.Task) *TaskHandle {
	return &TaskHandle{task: t}
}

// Snapshot returns a copy of the task as of this call.
func (h *TaskHandle) Snapshot() data.Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := h.task
	cp.Notes = append([]data.NoteEntry(nil), h.task.Notes...)
	return cp
}

func (h *TaskHandle) TaskID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task.TaskID
}

func (h *TaskHandle) TaskNumber() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task.TaskNumber
}

func (h *TaskHandle) SetTaskNumber(n int) {
	h.mu.Lock()
	h.task.TaskNumber = n
	h.mu.Unlock()
}

func (h *TaskHandle) Desc() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task.TaskDesc
}

func (h *TaskHandle) SetDesc(desc string) {
	h.mu.Lock()
	h.task.TaskDesc = desc
	h.mu.Unlock()
}

func (h *TaskHandle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task.Done
}

func (h *TaskHandle) SetDone(done bool) {
	h.mu.Lock()
	h.task.Done = done
	h.mu.Unlock()
}

// LatestNote returns the most recently appended note, if any.
func (h *TaskHandle) LatestNote() (data.NoteEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.task.Notes) == 0 {
		return data.NoteEntry{}, false
	}
	return h.task.Notes[len(h.task.Notes)-1], true
}

// AppendNote appends a new note with the current time and returns it.
func (h *TaskHandle) AppendNote(content string) data.NoteEntry {
	n := data.NoteEntry{Content: content, Timestamp: time.Now().Unix()}
	h.mu.Lock()
	h.task.Notes = append(h.task.Notes, n)
	h.mu.Unlock()
	return n
}
