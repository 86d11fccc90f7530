// Package ingestor implements the per-camera VideoStreamIngestor: the
// capture -> dedupe -> prompt -> VLM inference -> apply -> dispatch loop.
package ingestor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/technosupport/vms-watch/internal/capture"
	"github.com/technosupport/vms-watch/internal/modelprovider"
)

type state int

const (
	stateStopped state = iota
	stateOpening
	stateWarming
	stateReading
	stateValidated
	stateInferring
	stateApplying
	stateReconnect
	stateErrorNoted
)

// ActionDispatcher is the subset of internal/actiondispatcher an ingestor's
// action worker needs.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, action string) error
}

// OnTaskUpdated is invoked synchronously after a task's notes/done flag are
// mutated in response to a model output, so the caller (TaskManager) can
// persist the change and fire its own on_detection_event hook.
type OnTaskUpdated func(h *TaskHandle, newNote string)

// OutputEntry is one committed result in the output history ring.
type OutputEntry struct {
	TaskUpdates   []modelprovider.TaskUpdate
	SystemActions []modelprovider.SystemAction
	Frame         capture.Frame
	Prompt        string
	At            time.Time
}

// Ingestor is one VideoStreamIngestor: one instance per io_id, owning a
// capture handle exclusively for its lifetime.
type Ingestor struct {
	ioID   string
	source capture.Source
	cfg    Config

	log *log.Logger

	provider      *modelprovider.Switcher
	dispatcher    ActionDispatcher
	onTaskUpdated OnTaskUpdated

	tasksMu sync.RWMutex
	tasks   []*TaskHandle

	historyMu  sync.Mutex
	history    *lru.Cache[int, OutputEntry]
	historySeq int
	totalCount uint64

	frameMu     sync.RWMutex
	latestFrame capture.Frame
	lastFrame   capture.Frame

	actionQueue chan string

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped chan struct{}
}

// New constructs an Ingestor for io_id against source, with no tasks and
// not running. Callers add tasks via AddTask, which auto-starts the engine.
// A zero-value cfg is filled in with DefaultConfig().
func New(ioID string, source capture.Source, cfg Config, provider *modelprovider.Switcher, dispatcher ActionDispatcher, onTaskUpdated OnTaskUpdated) *Ingestor {
	if cfg.HistoryCapacity <= 0 {
		cfg = DefaultConfig()
	}
	hist, err := lru.New[int, OutputEntry](cfg.HistoryCapacity)
	if err != nil {
		// Only fails for a non-positive size, which DefaultConfig never sets.
		panic(fmt.Sprintf("ingestor: building history cache: %v", err))
	}
	return &Ingestor{
		ioID:          ioID,
		source:        source,
		cfg:           cfg,
		log:           log.New(log.Writer(), fmt.Sprintf("[Ingestor io=%s] ", ioID), log.LstdFlags),
		provider:      provider,
		dispatcher:    dispatcher,
		onTaskUpdated: onTaskUpdated,
		history:       hist,
		actionQueue:   make(chan string, ActionQueueDepth),
	}
}

// AddTask appends h to the tasks list, assigns its task_number, and starts
// the engine if it is not already running.
func (in *Ingestor) AddTask(h *TaskHandle) {
	in.tasksMu.Lock()
	h.SetTaskNumber(len(in.tasks))
	in.tasks = append(in.tasks, h)
	in.tasksMu.Unlock()

	in.Start()
}

// RemoveTask removes the task whose description equals desc and renumbers
// the remainder contiguously from zero. Unknown descriptions are a no-op
// with a warning logged — removal is best-effort, not a hard failure.
func (in *Ingestor) RemoveTask(desc string) {
	in.tasksMu.Lock()
	defer in.tasksMu.Unlock()

	idx := -1
	for i, h := range in.tasks {
		if h.Desc() == desc {
			idx = i
			break
		}
	}
	if idx < 0 {
		in.log.Printf("remove_task: no task with desc %q, ignoring", desc)
		return
	}
	in.tasks = append(in.tasks[:idx], in.tasks[idx+1:]...)
	for i, h := range in.tasks {
		h.SetTaskNumber(i)
	}
}

// EditTask mutates the description of the task currently named oldDesc,
// preserving its notes. Shared-reference semantics mean this is visible to
// the TaskManager's own copy of the same handle immediately.
func (in *Ingestor) EditTask(oldDesc, newDesc string) bool {
	in.tasksMu.RLock()
	defer in.tasksMu.RUnlock()
	for _, h := range in.tasks {
		if h.Desc() == oldDesc {
			h.SetDesc(newDesc)
			return true
		}
	}
	return false
}

// SetModelProvider hot-swaps the provider used on the next inference.
func (in *Ingestor) SetModelProvider(p modelprovider.Provider) {
	in.provider.Swap(p)
}

func (in *Ingestor) GetTasksList() []*TaskHandle {
	in.tasksMu.RLock()
	defer in.tasksMu.RUnlock()
	out := make([]*TaskHandle, len(in.tasks))
	copy(out, in.tasks)
	return out
}

func (in *Ingestor) GetLatestOutput() (OutputEntry, bool) {
	in.historyMu.Lock()
	defer in.historyMu.Unlock()
	if in.historySeq == 0 {
		return OutputEntry{}, false
	}
	return in.history.Peek(in.historySeq - 1)
}

func (in *Ingestor) GetOutputHistory() []OutputEntry {
	in.historyMu.Lock()
	defer in.historyMu.Unlock()
	keys := in.history.Keys()
	out := make([]OutputEntry, 0, len(keys))
	for _, k := range keys {
		if v, ok := in.history.Peek(k); ok {
			out = append(out, v)
		}
	}
	return out
}

func (in *Ingestor) GetTotalOutputCount() uint64 {
	in.historyMu.Lock()
	defer in.historyMu.Unlock()
	return in.totalCount
}

func (in *Ingestor) GetLatestFrame() (capture.Frame, bool) {
	in.frameMu.RLock()
	defer in.frameMu.RUnlock()
	return in.latestFrame, in.latestFrame.Pix != nil
}

// Start is idempotent: a second call while already running is a no-op.
func (in *Ingestor) Start() {
	in.runMu.Lock()
	defer in.runMu.Unlock()
	if in.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	in.cancel = cancel
	in.running = true
	in.stopped = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	in.group = g
	g.Go(func() error { in.captureLoop(gctx); return nil })
	g.Go(func() error { in.actionLoop(gctx); return nil })

	go func() {
		_ = g.Wait()
		close(in.stopped)
	}()
}

// Stop is idempotent: cancels both workers, waits up to ShutdownGrace,
// drains the action queue, and releases the capture handle.
func (in *Ingestor) Stop() {
	in.runMu.Lock()
	if !in.running {
		in.runMu.Unlock()
		return
	}
	in.running = false
	cancel := in.cancel
	stopped := in.stopped
	in.runMu.Unlock()

	cancel()

	select {
	case <-stopped:
	case <-time.After(ShutdownGrace):
		in.log.Printf("shutdown: worker pair did not exit within %s", ShutdownGrace)
	}

	discarded := 0
drain:
	for {
		select {
		case <-in.actionQueue:
			discarded++
		default:
			break drain
		}
	}
	if discarded > 0 {
		in.log.Printf("shutdown: discarded %d unsent actions", discarded)
	}

	_ = in.source.Close()
}

func (in *Ingestor) captureLoop(ctx context.Context) {
	st := stateStopped
	var localFailures, networkFailures int
	warmupLeft := in.cfg.WarmupReads
	var pendingFrame capture.Frame
	var pendingOutput modelprovider.VideoIngestorOutput
	var pendingPrompt string

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch st {
		case stateStopped:
			st = stateOpening

		case stateOpening:
			if err := in.source.Open(ctx); err != nil {
				in.log.Printf("open failed: %v", err)
				st = stateErrorNoted
				continue
			}
			warmupLeft = in.cfg.WarmupReads
			st = stateWarming

		case stateWarming:
			if warmupLeft <= 0 {
				st = stateReading
				continue
			}
			if _, err := in.source.Read(ctx); err != nil {
				warmupLeft--
				time.Sleep(readFailSleep)
				continue
			}
			warmupLeft--

		case stateReading:
			img, err := in.source.Read(ctx)
			if err != nil {
				localFailures++
				networkFailures++
				if localFailures >= in.cfg.LocalReconnectThreshold || networkFailures >= in.cfg.NetworkReconnectThreshold {
					st = stateReconnect
					continue
				}
				time.Sleep(readFailSleep)
				continue
			}
			localFailures, networkFailures = 0, 0

			frame, err := capture.Prepare(img, in.cfg.TargetWidth, in.cfg.TargetHeight)
			if err != nil {
				in.log.Printf("frame prepare failed: %v", err)
				continue
			}
			in.frameMu.Lock()
			in.latestFrame = frame
			in.frameMu.Unlock()

			pendingFrame = frame
			st = stateValidated

		case stateValidated:
			in.frameMu.RLock()
			last := in.lastFrame
			in.frameMu.RUnlock()

			if capture.IsDuplicate(pendingFrame, last, in.cfg.DedupeThreshold) {
				st = stateReading
				time.Sleep(dedupeSleep)
				continue
			}
			st = stateInferring

		case stateInferring:
			out, prompt, err := in.infer(ctx, pendingFrame)
			if err != nil {
				in.log.Printf("inference error, frame skipped: %v", err)
				st = stateReading
				continue
			}
			pendingOutput = out
			pendingPrompt = prompt
			st = stateApplying

		case stateApplying:
			in.apply(pendingFrame, pendingOutput, pendingPrompt)
			in.frameMu.Lock()
			in.lastFrame = pendingFrame
			in.frameMu.Unlock()
			st = stateReading

		case stateReconnect:
			_ = in.source.Close()
			localFailures, networkFailures = 0, 0
			select {
			case <-ctx.Done():
				return
			case <-time.After(ReconnectBackoff):
			}
			st = stateOpening

		case stateErrorNoted:
			in.noteErrorOnAllTasks("camera unavailable: open failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(ReconnectBackoff):
			}
			st = stateOpening
		}
	}
}

func (in *Ingestor) noteErrorOnAllTasks(msg string) {
	for _, h := range in.GetTasksList() {
		note := h.AppendNote(msg)
		if in.onTaskUpdated != nil {
			in.onTaskUpdated(h, note.Content)
		}
	}
}

// infer runs ModelProvider.generate on a worker goroutine so the capture
// loop itself never blocks on the (possibly slow) synchronous SDK call.
func (in *Ingestor) infer(ctx context.Context, frame capture.Frame) (modelprovider.VideoIngestorOutput, string, error) {
	tasks := in.GetTasksList()
	if len(tasks) == 0 {
		return modelprovider.VideoIngestorOutput{}, "", fmt.Errorf("ingestor: no active tasks")
	}
	prompt, warn := buildPrompt(tasks)
	if warn {
		in.log.Printf("prompt length %d exceeds warning threshold", len(prompt))
	}

	type result struct {
		out modelprovider.VideoIngestorOutput
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		out, err := in.provider.Generate(ctx, frame.JPEGBase64, prompt, modelprovider.Schema)
		resCh <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return modelprovider.VideoIngestorOutput{}, prompt, ctx.Err()
	case r := <-resCh:
		return r.out, prompt, r.err
	}
}

// apply commits one inference result atomically per frame: task notes are
// appended, system actions are enqueued, and the history ring is updated.
func (in *Ingestor) apply(frame capture.Frame, out modelprovider.VideoIngestorOutput, prompt string) {
	tasks := in.GetTasksList()
	byNumber := make(map[int]*TaskHandle, len(tasks))
	for _, h := range tasks {
		byNumber[h.TaskNumber()] = h
	}

	for _, u := range out.TaskUpdates {
		h, ok := byNumber[u.TaskNumber]
		if !ok {
			continue
		}
		var note string
		if u.TaskNote != "" {
			n := h.AppendNote(u.TaskNote)
			note = n.Content
		}
		if u.TaskDone {
			h.SetDone(true)
		}
		if in.onTaskUpdated != nil && (note != "" || u.TaskDone) {
			in.onTaskUpdated(h, note)
		}
	}

	for _, a := range out.SystemActions {
		select {
		case in.actionQueue <- a.TakeAction:
		default:
			in.log.Printf("action queue full, dropping action %q", a.TakeAction)
		}
	}

	in.historyMu.Lock()
	in.history.Add(in.historySeq, OutputEntry{
		TaskUpdates:   out.TaskUpdates,
		SystemActions: out.SystemActions,
		Frame:         frame,
		Prompt:        prompt,
		At:            time.Now(),
	})
	in.historySeq++
	in.totalCount++
	in.historyMu.Unlock()
}

func (in *Ingestor) actionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-in.actionQueue:
			dctx, cancel := context.WithTimeout(ctx, ActionPollTimeout*10)
			if in.dispatcher != nil {
				if err := in.dispatcher.Dispatch(dctx, action); err != nil {
					in.log.Printf("action dispatch failed: %v", err)
				}
			}
			cancel()
		case <-time.After(ActionPollTimeout):
			// solely re-checks ctx.Done() above
		}
	}
}
