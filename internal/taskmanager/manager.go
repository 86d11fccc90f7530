// Package taskmanager owns Task objects in memory, arbitrates
// VideoStreamIngestor lifetimes, and brokers VLM provider hot-swaps.
package taskmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/vms-watch/internal/audit"
	"github.com/technosupport/vms-watch/internal/capture"
	"github.com/technosupport/vms-watch/internal/data"
	"github.com/technosupport/vms-watch/internal/ingestor"
	"github.com/technosupport/vms-watch/internal/modelprovider"
)

var (
	ErrNotCamera      = errors.New("taskmanager: io_id is not a camera")
	ErrNotFound       = errors.New("taskmanager: task not found")
	ErrDeviceGone     = errors.New("taskmanager: io_id not known to IOManager")
	ErrAlreadyStopped = errors.New("taskmanager: task is already stopped")
)

// Store is the subset of data.Store the manager needs for task persistence.
type Store interface {
	SaveTask(ctx context.Context, t data.Task) error
	UpdateTaskDone(ctx context.Context, taskID string, done bool, status data.TaskStatus) error
	UpdateTaskDesc(ctx context.Context, taskID, desc string) error
	DeleteTask(ctx context.Context, taskID string) error
	SaveNote(ctx context.Context, taskID string, note data.NoteEntry) error
	LoadAllTasks(ctx context.Context) ([]data.Task, error)
	GetMaxTaskID(ctx context.Context) (int, error)
	TerminateActiveTasks(ctx context.Context) (int, error)
}

// IOManager is the subset of iomanager.Manager needed to validate and
// source a device for a new ingestor.
type IOManager interface {
	Get(ioID string) (data.Device, bool)
}

// Auditor is the subset of audit.Service used for lifecycle events.
type Auditor interface {
	WriteEvent(ctx context.Context, evt audit.AuditEvent) error
}

// SourceFactory builds the concrete capture.Source for a device, chosen by
// the caller so tests can substitute fakes without touching ffmpeg.
type SourceFactory func(dev data.Device) capture.Source

// ProviderFactory builds a Provider for a model name; normally
// modelprovider.New bound to the engine's credentials and rate limiter.
type ProviderFactory func(model string) (modelprovider.Provider, error)

// DetectionHook is invoked after a task update is durably applied. Panics
// and errors inside the hook are caught and logged, never propagated.
type DetectionHook func(task data.Task, newNote string)

// ReloadResult is returned by ReloadModelProvider.
type ReloadResult struct {
	ProviderClass    string
	UpdatedIngestors int
	FailedIngestors  []string
}

// Manager is the TaskManager: source of truth for Task objects in memory.
type Manager struct {
	store         Store
	io            IOManager
	auditor       Auditor
	sourceFactory SourceFactory
	ingestorCfg   ingestor.Config
	dispatcher    ingestor.ActionDispatcher

	mu         sync.RWMutex
	nextTaskID int
	tasks      map[string]*ingestor.TaskHandle // task_id -> handle
	ingestors  map[string]*ingestor.Ingestor    // io_id -> ingestor

	provider *modelprovider.Switcher

	hookMu sync.RWMutex
	hook   DetectionHook

	log *log.Logger
}

// New performs startup recovery: any task left with done=false is rewritten
// to status=terminated (it remains visible but without a running ingestor),
// then loads every task into memory and sets the task_id counter to
// max_existing + 1.
func New(ctx context.Context, store Store, io IOManager, auditor Auditor, sourceFactory SourceFactory, dispatcher ingestor.ActionDispatcher, ingestorCfg ingestor.Config, initialProvider modelprovider.Provider) (*Manager, error) {
	if _, err := store.TerminateActiveTasks(ctx); err != nil {
		return nil, fmt.Errorf("taskmanager: startup recovery: %w", err)
	}

	rows, err := store.LoadAllTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskmanager: loading tasks: %w", err)
	}

	maxID, err := store.GetMaxTaskID(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskmanager: reading max task id: %w", err)
	}

	m := &Manager{
		store:         store,
		io:            io,
		auditor:       auditor,
		sourceFactory: sourceFactory,
		ingestorCfg:   ingestorCfg,
		dispatcher:    dispatcher,
		tasks:         make(map[string]*ingestor.TaskHandle, len(rows)),
		ingestors:     make(map[string]*ingestor.Ingestor),
		provider:      modelprovider.NewSwitcher(initialProvider),
		nextTaskID:    maxID + 1,
		log:           log.New(log.Writer(), "[TaskManager] ", log.LstdFlags),
	}
	for _, t := range rows {
		m.tasks[t.TaskID] = ingestor.NewTaskHandle(t)
	}
	return m, nil
}

func (m *Manager) SetDetectionHook(hook DetectionHook) {
	m.hookMu.Lock()
	m.hook = hook
	m.hookMu.Unlock()
}

func (m *Manager) fireDetectionHook(h *ingestor.TaskHandle, newNote string) {
	m.hookMu.RLock()
	hook := m.hook
	m.hookMu.RUnlock()
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Printf("on_detection_event hook panicked: %v", r)
		}
	}()
	hook(h.Snapshot(), newNote)
}

// onTaskUpdated persists a task mutation produced by an ingestor and fires
// the detection hook. Wired as the OnTaskUpdated callback for every
// ingestor this manager constructs.
func (m *Manager) onTaskUpdated(h *ingestor.TaskHandle, newNote string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := h.Snapshot()
	if newNote != "" {
		if err := m.store.SaveNote(ctx, snap.TaskID, data.NoteEntry{Content: newNote, Timestamp: time.Now().Unix()}); err != nil {
			m.log.Printf("persisting note for task %s: %v", snap.TaskID, err)
		}
	}
	if snap.Done {
		if err := m.store.UpdateTaskDone(ctx, snap.TaskID, true, data.StatusDone); err != nil {
			m.log.Printf("persisting done for task %s: %v", snap.TaskID, err)
		}
	}
	m.fireDetectionHook(h, newNote)
}

// AddTask validates io_id via IOManager, assigns the next task_id, persists
// it, ensures an ingestor exists for io_id (constructing one if absent),
// and hands the new task to it.
func (m *Manager) AddTask(ctx context.Context, ioID, desc string) (string, error) {
	dev, ok := m.io.Get(ioID)
	if !ok {
		return "", ErrDeviceGone
	}
	if dev.Category != "camera" {
		return "", ErrNotCamera
	}

	m.mu.Lock()
	taskID := strconv.Itoa(m.nextTaskID)
	m.nextTaskID++

	task := data.Task{
		TaskID:   taskID,
		TaskDesc: desc,
		Done:     false,
		IOID:     ioID,
		Status:   data.StatusActive,
	}
	handle := ingestor.NewTaskHandle(task)
	m.tasks[taskID] = handle

	in := m.ensureIngestorLocked(dev)
	m.mu.Unlock()

	if err := m.store.SaveTask(ctx, task); err != nil {
		return "", fmt.Errorf("taskmanager: persisting task %s: %w", taskID, err)
	}

	in.AddTask(handle)
	m.audit(ctx, "task.add", "task", taskID, map[string]any{"io_id": ioID, "desc": desc})
	return taskID, nil
}

// ensureIngestorLocked returns the ingestor for dev.IOID, constructing one
// if absent. Callers must hold m.mu.
func (m *Manager) ensureIngestorLocked(dev data.Device) *ingestor.Ingestor {
	if in, ok := m.ingestors[dev.IOID]; ok {
		return in
	}

	src := m.sourceFactory(dev)
	in := ingestor.New(dev.IOID, src, m.ingestorCfg, m.provider, m.dispatcher, m.onTaskUpdated)
	m.ingestors[dev.IOID] = in
	return in
}

func (m *Manager) GetTask(taskID string) (data.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.tasks[taskID]
	if !ok {
		return data.Task{}, false
	}
	return h.Snapshot(), true
}

// ListTasks returns every task, or only those bound to ioID when non-empty.
func (m *Manager) ListTasks(ioID string) []data.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]data.Task, 0, len(m.tasks))
	for _, h := range m.tasks {
		snap := h.Snapshot()
		if ioID != "" && snap.IOID != ioID {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// StopTask removes the task from its ingestor, marks it done, and tears
// down the ingestor if it now has zero tasks. The row remains visible.
func (m *Manager) StopTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	h, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	snap := h.Snapshot()
	if snap.Done || snap.Status == data.StatusDone {
		m.mu.Unlock()
		return fmt.Errorf("Task '%s' is already stopped: %w", taskID, ErrAlreadyStopped)
	}
	in := m.ingestors[snap.IOID]
	m.mu.Unlock()

	if in != nil {
		in.RemoveTask(snap.TaskDesc)
		m.teardownIfIdle(snap.IOID, in)
	}
	h.SetDone(true)

	if err := m.store.UpdateTaskDone(ctx, taskID, true, data.StatusDone); err != nil {
		return fmt.Errorf("taskmanager: stop task %s: %w", taskID, err)
	}
	m.audit(ctx, "task.stop", "task", taskID, nil)
	return nil
}

// DeleteTask behaves like StopTask but also removes the row, its notes, and
// the in-memory handle entirely.
func (m *Manager) DeleteTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	h, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	snap := h.Snapshot()
	in := m.ingestors[snap.IOID]
	delete(m.tasks, taskID)
	m.mu.Unlock()

	if in != nil {
		in.RemoveTask(snap.TaskDesc)
		m.teardownIfIdle(snap.IOID, in)
	}

	if err := m.store.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("taskmanager: delete task %s: %w", taskID, err)
	}
	m.audit(ctx, "task.delete", "task", taskID, nil)
	return nil
}

func (m *Manager) teardownIfIdle(ioID string, in *ingestor.Ingestor) {
	if len(in.GetTasksList()) > 0 {
		return
	}
	m.mu.Lock()
	delete(m.ingestors, ioID)
	m.mu.Unlock()
	in.Stop()
}

// UpdateTaskStatus is the rarely-used direct done-flag setter.
func (m *Manager) UpdateTaskStatus(ctx context.Context, taskID string, done bool) error {
	m.mu.RLock()
	h, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	h.SetDone(done)
	return m.store.UpdateTaskDone(ctx, taskID, done, "")
}

// EditTask mutates the task's description in the store and, via the shared
// handle, in the live ingestor immediately.
func (m *Manager) EditTask(ctx context.Context, taskID, newDesc string) error {
	m.mu.RLock()
	h, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	h.SetDesc(newDesc)
	if err := m.store.UpdateTaskDesc(ctx, taskID, newDesc); err != nil {
		return fmt.Errorf("taskmanager: edit task %s: %w", taskID, err)
	}
	return nil
}

// ReloadModelProvider constructs a new provider via newProviderFn, assigns
// it to the manager, and hot-swaps every live ingestor. Per-ingestor swap
// failures are caught and reported rather than raised outward.
func (m *Manager) ReloadModelProvider(model string, newProviderFn ProviderFactory) (ReloadResult, error) {
	p, err := newProviderFn(model)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("taskmanager: building provider %q: %w", model, err)
	}
	m.provider.Swap(p)

	m.mu.RLock()
	ingestors := make(map[string]*ingestor.Ingestor, len(m.ingestors))
	for k, v := range m.ingestors {
		ingestors[k] = v
	}
	m.mu.RUnlock()

	res := ReloadResult{ProviderClass: model}
	for ioID, in := range ingestors {
		if !m.safeSetProvider(in, p) {
			res.FailedIngestors = append(res.FailedIngestors, ioID)
			continue
		}
		res.UpdatedIngestors++
	}
	return res, nil
}

func (m *Manager) safeSetProvider(in *ingestor.Ingestor, p modelprovider.Provider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Printf("set_model_provider panic: %v", r)
			ok = false
		}
	}()
	in.SetModelProvider(p)
	return true
}

// ListIODs returns every io_id with a live ingestor, satisfying
// health.IngestorLister.
func (m *Manager) ListIODs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.ingestors))
	for ioID := range m.ingestors {
		out = append(out, ioID)
	}
	return out
}

// LastOutputAt returns the timestamp of ioID's ingestor's most recent
// output, satisfying health.IngestorLister.
func (m *Manager) LastOutputAt(ioID string) (time.Time, bool) {
	m.mu.RLock()
	in, ok := m.ingestors[ioID]
	m.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	entry, ok := in.GetLatestOutput()
	if !ok {
		return time.Time{}, false
	}
	return entry.At, true
}

func (m *Manager) GetLatestFrameForDevice(ioID string) (capture.Frame, bool) {
	m.mu.RLock()
	in, ok := m.ingestors[ioID]
	m.mu.RUnlock()
	if !ok {
		return capture.Frame{}, false
	}
	return in.GetLatestFrame()
}

// Shutdown stops every live ingestor.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ingestors := m.ingestors
	m.ingestors = make(map[string]*ingestor.Ingestor)
	m.mu.Unlock()

	for _, in := range ingestors {
		in.Stop()
	}
}

func (m *Manager) audit(ctx context.Context, action, targetType, targetID string, meta map[string]any) {
	if m.auditor == nil {
		return
	}
	var raw json.RawMessage
	if meta != nil {
		raw, _ = json.Marshal(meta)
	}
	_ = m.auditor.WriteEvent(ctx, audit.AuditEvent{
		EventID:    uuid.New(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Result:     "ok",
		Metadata:   raw,
		CreatedAt:  time.Now(),
	})
}
