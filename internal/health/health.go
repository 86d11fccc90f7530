// Package health tracks per-camera ingestor staleness: whether an
// io_id's VideoStreamIngestor has produced output recently. This is
// additive instrumentation over TaskManager, not a core operation — an
// ingestor with zero tasks is simply absent from the report.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status classifies one io_id's staleness at the moment of a check.
type Status string

const (
	StatusOnline  Status = "online"  // produced output within the threshold
	StatusStale   Status = "stale"   // has produced output before, but not recently
	StatusUnknown Status = "unknown" // no output observed yet
)

// IngestorLister is the subset of taskmanager.Manager the Monitor polls.
// Defined consumer-side so health never imports taskmanager directly.
type IngestorLister interface {
	// ListIODs returns every io_id with a live ingestor.
	ListIODs() []string
	// LastOutputAt returns the timestamp of the most recent output
	// committed by the io_id's ingestor, if any.
	LastOutputAt(ioID string) (time.Time, bool)
}

// Report is one io_id's staleness snapshot.
type Report struct {
	IOID        string
	Status      Status
	LastOutput  time.Time
	SecondsIdle float64
}

// Monitor periodically snapshots every live ingestor's last-output time
// and classifies it online/stale/unknown, grounded on the teacher's
// health.Scheduler periodic-dispatch loop narrowed from camera RTSP
// probing to ingestor output staleness.
type Monitor struct {
	lister    IngestorLister
	interval  time.Duration
	threshold time.Duration

	mu     sync.RWMutex
	latest map[string]Report

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor builds a Monitor. threshold is how long an ingestor may go
// without producing output before it's reported stale.
func NewMonitor(lister IngestorLister, interval, threshold time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}
	return &Monitor{
		lister:    lister,
		interval:  interval,
		threshold: threshold,
		latest:    make(map[string]Report),
		quit:      make(chan struct{}),
	}
}

// Start begins the periodic check loop in a background goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.quit)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.checkAll()
	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case <-m.quit:
			return
		}
	}
}

func (m *Monitor) checkAll() {
	ids := m.lister.ListIODs()

	online, stale, unknown := 0, 0, 0
	now := time.Now()
	snapshot := make(map[string]Report, len(ids))

	for _, ioID := range ids {
		r := Report{IOID: ioID}
		lastOutput, ok := m.lister.LastOutputAt(ioID)
		if !ok {
			r.Status = StatusUnknown
			unknown++
		} else {
			r.LastOutput = lastOutput
			r.SecondsIdle = now.Sub(lastOutput).Seconds()
			if now.Sub(lastOutput) <= m.threshold {
				r.Status = StatusOnline
				online++
			} else {
				r.Status = StatusStale
				stale++
			}
		}
		snapshot[ioID] = r
	}

	m.mu.Lock()
	m.latest = snapshot
	m.mu.Unlock()

	ingestorsOnline.Set(float64(online))
	ingestorsStale.Set(float64(stale))
	ingestorsUnknown.Set(float64(unknown))
}

// Report returns the latest staleness snapshot for ioID.
func (m *Monitor) Report(ioID string) (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.latest[ioID]
	return r, ok
}

// AllReports returns every io_id's latest staleness snapshot.
func (m *Monitor) AllReports() []Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Report, 0, len(m.latest))
	for _, r := range m.latest {
		out = append(out, r)
	}
	return out
}

// StaleIODs returns every io_id currently classified stale or unknown.
func (m *Monitor) StaleIODs(ctx context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for ioID, r := range m.latest {
		if r.Status == StatusStale || r.Status == StatusUnknown {
			out = append(out, ioID)
		}
	}
	return out
}

var (
	ingestorsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vms_watch_ingestors_online",
		Help: "Number of ingestors that produced output within the staleness threshold",
	})

	ingestorsStale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vms_watch_ingestors_stale",
		Help: "Number of ingestors that have not produced output within the staleness threshold",
	})

	ingestorsUnknown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vms_watch_ingestors_unknown",
		Help: "Number of ingestors that have not produced any output yet",
	})
)
