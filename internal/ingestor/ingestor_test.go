package ingestor_test

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

	"github.com/technosupport/vms-watch/internal/data"
	"github.com/technosupport/vms-watch/internal/ingestor"
	"github.com/technosupport/vms-watch/internal/modelprovider"
)

// fakeSource produces a fixed image every Read, optionally erroring the
// first N times to exercise the reconnect path.
type fakeSource struct {
	mu       sync.Mutex
	img      image.Image
	openErr  error
	opened   bool
	closed   bool
	failN    int
	readDone int
}

func newFakeSource() *fakeSource {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 10, B: 10, A: 255})
		}
	}
	return &fakeSource{img: img}
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = true
	return nil
}

func (s *fakeSource) Read(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readDone < s.failN {
		s.readDone++
		return nil, errors.New("fake read failure")
	}
	s.readDone++
	return s.img, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	out   modelprovider.VideoIngestorOutput
	err   error
}

func (p *fakeProvider) Generate(ctx context.Context, imageJPEGBase64, prompt string, schema json.RawMessage) (modelprovider.VideoIngestorOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.out, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeDispatcher struct {
	mu      sync.Mutex
	actions []string
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, action string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, action)
	return nil
}

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

func TestIngestor_ProducesOutputOnFirstFrame(t *testing.T) {
	src := newFakeSource()
	provider := &fakeProvider{out: modelprovider.VideoIngestorOutput{
		TaskUpdates: []modelprovider.TaskUpdate{{TaskNumber: 0, TaskNote: "saw something", TaskDone: false}},
	}}
	dispatcher := &fakeDispatcher{}

	in := ingestor.New("0", src, ingestor.DefaultConfig(), modelprovider.NewSwitcher(provider), dispatcher, nil)
	h := ingestor.NewTaskHandle(data.Task{TaskID: "1", TaskDesc: "count claps"})
	in.AddTask(h)
	defer in.Stop()

	waitFor(t, 2*time.Second, func() bool { return in.GetTotalOutputCount() >= 1 })

	note, ok := h.LatestNote()
	require.True(t, ok)
	require.Equal(t, "saw something", note.Content)
}

func TestIngestor_DedupeSkipsRepeatedFrames(t *testing.T) {
	src := newFakeSource()
	provider := &fakeProvider{out: modelprovider.VideoIngestorOutput{}}
	in := ingestor.New("0", src, ingestor.DefaultConfig(), modelprovider.NewSwitcher(provider), &fakeDispatcher{}, nil)
	h := ingestor.NewTaskHandle(data.Task{TaskID: "1", TaskDesc: "watch door"})
	in.AddTask(h)
	defer in.Stop()

	waitFor(t, 2*time.Second, func() bool { return provider.callCount() >= 1 })
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, 1, provider.callCount(), "identical frames after the first must not trigger additional inference")
}

func TestIngestor_EditTaskPropagatesToHandle(t *testing.T) {
	src := newFakeSource()
	in := ingestor.New("0", src, ingestor.DefaultConfig(), modelprovider.NewSwitcher(&fakeProvider{}), &fakeDispatcher{}, nil)
	h := ingestor.NewTaskHandle(data.Task{TaskID: "1", TaskDesc: "old desc"})
	in.AddTask(h)
	defer in.Stop()

	ok := in.EditTask("old desc", "new desc")
	require.True(t, ok)
	require.Equal(t, "new desc", h.Desc())
}

func TestIngestor_RemoveTaskRenumbers(t *testing.T) {
	src := newFakeSource()
	in := ingestor.New("0", src, ingestor.DefaultConfig(), modelprovider.NewSwitcher(&fakeProvider{}), &fakeDispatcher{}, nil)
	a := ingestor.NewTaskHandle(data.Task{TaskID: "1", TaskDesc: "a"})
	b := ingestor.NewTaskHandle(data.Task{TaskID: "2", TaskDesc: "b"})
	in.AddTask(a)
	in.AddTask(b)
	defer in.Stop()

	in.RemoveTask("a")
	require.Equal(t, 0, b.TaskNumber())
}

func TestIngestor_StopIsIdempotent(t *testing.T) {
	src := newFakeSource()
	in := ingestor.New("0", src, ingestor.DefaultConfig(), modelprovider.NewSwitcher(&fakeProvider{}), &fakeDispatcher{}, nil)
	in.AddTask(ingestor.NewTaskHandle(data.Task{TaskID: "1", TaskDesc: "x"}))
	in.Stop()
	in.Stop()
}

func TestIngestor_SystemActionsReachDispatcher(t *testing.T) {
	src := newFakeSource()
	provider := &fakeProvider{out: modelprovider.VideoIngestorOutput{
		SystemActions: []modelprovider.SystemAction{{TakeAction: "open_door"}},
	}}
	dispatcher := &fakeDispatcher{}
	in := ingestor.New("0", src, ingestor.DefaultConfig(), modelprovider.NewSwitcher(provider), dispatcher, nil)
	in.AddTask(ingestor.NewTaskHandle(data.Task{TaskID: "1", TaskDesc: "watch door"}))
	defer in.Stop()

	waitFor(t, 2*time.Second, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.actions) >= 1
	})
}
