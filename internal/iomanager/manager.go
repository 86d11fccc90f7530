// Package iomanager merges OS-enumerated local cameras with persisted
// network cameras behind one stable io_id namespace.
package iomanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/vms-watch/internal/audit"
	"github.com/technosupport/vms-watch/internal/data"
	"github.com/technosupport/vms-watch/internal/devicedetect"
)

// Auditor is the subset of audit.Service the manager needs, so tests can
// substitute a stub without opening a database.
type Auditor interface {
	WriteEvent(ctx context.Context, evt audit.AuditEvent) error
}

// Store is the subset of data.Store the manager needs for network camera
// persistence.
type Store interface {
	SaveNetworkCamera(ctx context.Context, d data.Device) error
	DeleteNetworkCamera(ctx context.Context, ioID string) (bool, error)
	LoadNetworkCameras(ctx context.Context) ([]data.Device, error)
	GetNextNetworkCameraID(ctx context.Context) (string, error)
}

// Manager keeps io_id assignment stable across refreshes: local devices key
// off their enumeration index, network devices off the persisted netN id.
type Manager struct {
	mu       sync.RWMutex
	detector devicedetect.Detector
	store    Store
	auditor  Auditor
	rtspPort string

	local   map[string]data.Device
	network map[string]data.Device

	lastErr error
}

func New(detector devicedetect.Detector, store Store, auditor Auditor, rtspPort string) (*Manager, error) {
	m := &Manager{
		detector: detector,
		store:    store,
		auditor:  auditor,
		rtspPort: rtspPort,
		local:    make(map[string]data.Device),
		network:  make(map[string]data.Device),
	}

	cams, err := store.LoadNetworkCameras(context.Background())
	if err != nil {
		return nil, fmt.Errorf("iomanager: loading persisted network cameras: %w", err)
	}
	for _, c := range cams {
		m.network[c.IOID] = c
	}
	return m, nil
}

// Refresh re-enumerates local cameras. On detector failure the previous
// local set is kept and the error is recorded, rather than wiping every
// local io_id out from under active tasks.
func (m *Manager) Refresh(ctx context.Context) error {
	cams, err := m.detector.Detect(ctx)
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		return err
	}

	next := make(map[string]data.Device, len(cams))
	for _, c := range cams {
		ioID := fmt.Sprintf("%d", c.Index)
		next[ioID] = data.Device{
			IOID:     ioID,
			Category: "camera",
			Name:     c.Name,
			Source:   data.SourceLocal,
		}
	}

	m.mu.Lock()
	m.local = next
	m.lastErr = nil
	m.mu.Unlock()
	return nil
}

// LastError returns the error from the most recent failed Refresh, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// AddNetworkCamera allocates the lowest unused netN id, normalizes the pull
// URL, persists the device, and returns it.
func (m *Manager) AddNetworkCamera(ctx context.Context, rawURL, name string) (data.Device, error) {
	ioID, err := m.store.GetNextNetworkCameraID(ctx)
	if err != nil {
		return data.Device{}, fmt.Errorf("iomanager: allocating io_id: %w", err)
	}

	dev := data.Device{
		IOID:     ioID,
		Category: "camera",
		Name:     name,
		Source:   data.SourceNetwork,
		URL:      rawURL,
		PullURL:  normalizePullURL(rawURL, m.rtspPort),
	}

	if err := m.store.SaveNetworkCamera(ctx, dev); err != nil {
		return data.Device{}, fmt.Errorf("iomanager: persisting network camera: %w", err)
	}

	m.mu.Lock()
	m.network[ioID] = dev
	m.mu.Unlock()

	m.audit(ctx, "camera.add", ioID, map[string]any{"name": name, "url": rawURL})
	return dev, nil
}

// RemoveNetworkCamera deletes a persisted network camera by io_id.
func (m *Manager) RemoveNetworkCamera(ctx context.Context, ioID string) (bool, error) {
	ok, err := m.store.DeleteNetworkCamera(ctx, ioID)
	if err != nil {
		return false, fmt.Errorf("iomanager: deleting network camera %s: %w", ioID, err)
	}
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	delete(m.network, ioID)
	m.mu.Unlock()

	m.audit(ctx, "camera.remove", ioID, nil)
	return true, nil
}

// Get returns the device for an io_id, checking local devices first.
func (m *Manager) Get(ioID string) (data.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.local[ioID]; ok {
		return d, true
	}
	d, ok := m.network[ioID]
	return d, ok
}

// List returns every known device, local and network, refreshing local
// enumeration first unless skipRefresh is set.
func (m *Manager) List(ctx context.Context, skipRefresh bool) []data.Device {
	if !skipRefresh {
		_ = m.Refresh(ctx) // best-effort; LastError() exposes any failure
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]data.Device, 0, len(m.local)+len(m.network))
	for _, d := range m.local {
		out = append(out, d)
	}
	for _, d := range m.network {
		out = append(out, d)
	}
	return out
}

func (m *Manager) audit(ctx context.Context, action, ioID string, meta map[string]any) {
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
		TargetType: "io",
		TargetID:   ioID,
		Result:     "ok",
		Metadata:   raw,
		CreatedAt:  time.Now(),
	})
}
