package taskmanager_test

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vms-watch/internal/audit"
	"github.com/technosupport/vms-watch/internal/capture"
	"github.com/technosupport/vms-watch/internal/data"
	"github.com/technosupport/vms-watch/internal/ingestor"
	"github.com/technosupport/vms-watch/internal/modelprovider"
	"github.com/technosupport/vms-watch/internal/taskmanager"
)

type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]data.Task
	notes map[string][]data.NoteEntry
	maxID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]data.Task), notes: make(map[string][]data.NoteEntry)}
}

func (s *fakeStore) SaveTask(ctx context.Context, t data.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.TaskID] = t
	return nil
}

func (s *fakeStore) UpdateTaskDone(ctx context.Context, taskID string, done bool, status data.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return data.ErrNotFound
	}
	t.Done = done
	if status != "" {
		t.Status = status
	}
	s.tasks[taskID] = t
	return nil
}

func (s *fakeStore) UpdateTaskDesc(ctx context.Context, taskID, desc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return data.ErrNotFound
	}
	t.TaskDesc = desc
	s.tasks[taskID] = t
	return nil
}

func (s *fakeStore) DeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	delete(s.notes, taskID)
	return nil
}

func (s *fakeStore) SaveNote(ctx context.Context, taskID string, note data.NoteEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[taskID] = append(s.notes[taskID], note)
	return nil
}

func (s *fakeStore) LoadAllTasks(ctx context.Context) ([]data.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]data.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) GetMaxTaskID(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxID, nil
}

func (s *fakeStore) TerminateActiveTasks(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tasks {
		if !t.Done {
			t.Status = data.StatusTerminated
			s.tasks[id] = t
			n++
		}
	}
	return n, nil
}

type fakeIOManager struct {
	devices map[string]data.Device
}

func (m *fakeIOManager) Get(ioID string) (data.Device, bool) {
	d, ok := m.devices[ioID]
	return d, ok
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []audit.AuditEvent
}

func (a *fakeAuditor) WriteEvent(ctx context.Context, evt audit.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, evt)
	return nil
}

type fakeSource struct{}

func (s *fakeSource) Open(ctx context.Context) error { return nil }

func (s *fakeSource) Read(ctx context.Context) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 5, G: 5, B: 5, A: 255})
		}
	}
	return img, nil
}

func (s *fakeSource) Close() error { return nil }

type fakeProvider struct{ out modelprovider.VideoIngestorOutput }

func (p *fakeProvider) Generate(ctx context.Context, imgB64, prompt string, schema json.RawMessage) (modelprovider.VideoIngestorOutput, error) {
	return p.out, nil
}

func newTestManager(t *testing.T, devices map[string]data.Device) (*taskmanager.Manager, *fakeStore, *fakeAuditor) {
	t.Helper()
	store := newFakeStore()
	auditor := &fakeAuditor{}
	io := &fakeIOManager{devices: devices}
	srcFactory := func(dev data.Device) capture.Source { return &fakeSource{} }
	dispatcher := func(ctx context.Context, action string) error { return nil }

	m, err := taskmanager.New(context.Background(), store, io, auditor, srcFactory, dispatchFunc(dispatcher), ingestor.DefaultConfig(), &fakeProvider{})
	require.NoError(t, err)
	return m, store, auditor
}

// dispatchFunc adapts a plain func to ingestor.ActionDispatcher.
type dispatchFunc func(ctx context.Context, action string) error

func (f dispatchFunc) Dispatch(ctx context.Context, action string) error { return f(ctx, action) }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestManager_AddTaskPersistsAndStartsIngestor(t *testing.T) {
	m, store, auditor := newTestManager(t, map[string]data.Device{
		"cam-1": {IOID: "cam-1", Category: "camera", Source: data.SourceLocal},
	})
	defer m.Shutdown()

	taskID, err := m.AddTask(context.Background(), "cam-1", "watch the door")
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	waitFor(t, time.Second, func() bool {
		_, ok := store.tasks[taskID]
		return ok
	})

	task, ok := m.GetTask(taskID)
	require.True(t, ok)
	require.Equal(t, "watch the door", task.TaskDesc)

	require.Len(t, auditor.events, 1)
	require.Equal(t, "task.add", auditor.events[0].Action)
}

func TestManager_AddTaskRejectsNonCamera(t *testing.T) {
	m, _, _ := newTestManager(t, map[string]data.Device{
		"light-1": {IOID: "light-1", Category: "light"},
	})
	defer m.Shutdown()

	_, err := m.AddTask(context.Background(), "light-1", "turn on at dusk")
	require.ErrorIs(t, err, taskmanager.ErrNotCamera)
}

func TestManager_AddTaskUnknownDevice(t *testing.T) {
	m, _, _ := newTestManager(t, map[string]data.Device{})
	defer m.Shutdown()

	_, err := m.AddTask(context.Background(), "ghost", "desc")
	require.ErrorIs(t, err, taskmanager.ErrDeviceGone)
}

func TestManager_EditTaskUpdatesStoreAndHandle(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]data.Device{
		"cam-1": {IOID: "cam-1", Category: "camera", Source: data.SourceLocal},
	})
	defer m.Shutdown()

	taskID, err := m.AddTask(context.Background(), "cam-1", "old desc")
	require.NoError(t, err)

	require.NoError(t, m.EditTask(context.Background(), taskID, "new desc"))

	task, ok := m.GetTask(taskID)
	require.True(t, ok)
	require.Equal(t, "new desc", task.TaskDesc)
	require.Equal(t, "new desc", store.tasks[taskID].TaskDesc)
}

func TestManager_StopTaskSecondCallReturnsErrAlreadyStopped(t *testing.T) {
	m, _, _ := newTestManager(t, map[string]data.Device{
		"cam-1": {IOID: "cam-1", Category: "camera", Source: data.SourceLocal},
	})
	defer m.Shutdown()

	taskID, err := m.AddTask(context.Background(), "cam-1", "watch door")
	require.NoError(t, err)

	require.NoError(t, m.StopTask(context.Background(), taskID))
	require.ErrorIs(t, m.StopTask(context.Background(), taskID), taskmanager.ErrAlreadyStopped)
}

func TestManager_DeleteTaskRemovesRowAndStopsIdleIngestor(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]data.Device{
		"cam-1": {IOID: "cam-1", Category: "camera", Source: data.SourceLocal},
	})
	defer m.Shutdown()

	taskID, err := m.AddTask(context.Background(), "cam-1", "watch door")
	require.NoError(t, err)

	require.NoError(t, m.DeleteTask(context.Background(), taskID))

	_, ok := m.GetTask(taskID)
	require.False(t, ok)
	_, ok = store.tasks[taskID]
	require.False(t, ok)
	require.Empty(t, m.ListIODs())
}

func TestManager_StartupRecoveryLeavesNoActiveUnfinishedTask(t *testing.T) {
	store := newFakeStore()
	store.tasks["1"] = data.Task{TaskID: "1", TaskDesc: "stale", Done: false, IOID: "cam-1", Status: data.StatusActive}
	store.maxID = 1
	auditor := &fakeAuditor{}
	io := &fakeIOManager{devices: map[string]data.Device{"cam-1": {IOID: "cam-1", Category: "camera"}}}
	srcFactory := func(dev data.Device) capture.Source { return &fakeSource{} }

	m, err := taskmanager.New(context.Background(), store, io, auditor, srcFactory, dispatchFunc(func(ctx context.Context, action string) error { return nil }), ingestor.DefaultConfig(), &fakeProvider{})
	require.NoError(t, err)
	defer m.Shutdown()

	require.Equal(t, data.StatusTerminated, store.tasks["1"].Status)

	task, ok := m.GetTask("1")
	require.True(t, ok)
	require.Equal(t, "stale", task.TaskDesc)

	next, err := m.AddTask(context.Background(), "cam-1", "fresh")
	require.NoError(t, err)
	require.Equal(t, "2", next)
}

func TestManager_ReloadModelProviderSwapsLiveIngestors(t *testing.T) {
	m, _, _ := newTestManager(t, map[string]data.Device{
		"cam-1": {IOID: "cam-1", Category: "camera", Source: data.SourceLocal},
	})
	defer m.Shutdown()

	_, err := m.AddTask(context.Background(), "cam-1", "watch door")
	require.NoError(t, err)

	res, err := m.ReloadModelProvider("gpt-4o", func(model string) (modelprovider.Provider, error) {
		return &fakeProvider{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.UpdatedIngestors)
	require.Empty(t, res.FailedIngestors)
}

func TestManager_ReloadModelProviderPropagatesFactoryError(t *testing.T) {
	m, _, _ := newTestManager(t, map[string]data.Device{})
	defer m.Shutdown()

	_, err := m.ReloadModelProvider("bad-model", func(model string) (modelprovider.Provider, error) {
		return nil, errors.New("unknown model")
	})
	require.Error(t, err)
}
