package health_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vms-watch/internal/health"
)

type fakeLister struct {
	mu      sync.Mutex
	outputs map[string]time.Time
}

func (f *fakeLister) ListIODs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.outputs))
	for id := range f.outputs {
		out = append(out, id)
	}
	return out
}

func (f *fakeLister) LastOutputAt(ioID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.outputs[ioID]
	return t, ok
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

func TestMonitor_ClassifiesOnlineAndStale(t *testing.T) {
	lister := &fakeLister{outputs: map[string]time.Time{
		"fresh": time.Now(),
		"old":   time.Now().Add(-time.Hour),
	}}
	m := health.NewMonitor(lister, 20*time.Millisecond, time.Minute)
	m.Start()
	defer m.Stop()

	waitFor(t, time.Second, func() bool {
		_, ok := m.Report("fresh")
		return ok
	})

	fresh, ok := m.Report("fresh")
	require.True(t, ok)
	require.Equal(t, health.StatusOnline, fresh.Status)

	old, ok := m.Report("old")
	require.True(t, ok)
	require.Equal(t, health.StatusStale, old.Status)
}

func TestMonitor_UnknownForNoOutputYet(t *testing.T) {
	m := health.NewMonitor(&neverSeenLister{ids: []string{"cam-1"}}, 20*time.Millisecond, time.Minute)
	m.Start()
	defer m.Stop()

	waitFor(t, time.Second, func() bool {
		_, ok := m.Report("cam-1")
		return ok
	})

	r, ok := m.Report("cam-1")
	require.True(t, ok)
	require.Equal(t, health.StatusUnknown, r.Status)
}

type neverSeenLister struct{ ids []string }

func (n *neverSeenLister) ListIODs() []string                        { return n.ids }
func (n *neverSeenLister) LastOutputAt(ioID string) (time.Time, bool) { return time.Time{}, false }

func TestMonitor_StaleIODsCollectsStaleAndUnknown(t *testing.T) {
	lister := &fakeLister{outputs: map[string]time.Time{
		"old": time.Now().Add(-time.Hour),
	}}
	m := health.NewMonitor(lister, 20*time.Millisecond, time.Minute)
	m.Start()
	defer m.Stop()

	waitFor(t, time.Second, func() bool {
		return len(m.StaleIODs(nil)) > 0
	})
}
