package data

import (
	"context"
	"fmt"
	"time"

	"github.com/technosupport/vms-watch/internal/crypto"
)

// SaveNetworkCamera persists a durable network device row. When the
// store has a keyring, url and pull_url are sealed at rest: both can
// carry embedded RTSP basic-auth credentials, and io_id is used as the
// envelope's AAD so a row's ciphertext can't be replayed under another
// device's id.
func (s *Store) SaveNetworkCamera(ctx context.Context, d Device) error {
	url, pullURL := d.URL, d.PullURL
	if s.Keyring != nil {
		var err error
		if url, err = crypto.SealString(s.Keyring, d.URL, []byte(d.IOID)); err != nil {
			return fmt.Errorf("data: seal camera url %s: %w", d.IOID, err)
		}
		if pullURL, err = crypto.SealString(s.Keyring, d.PullURL, []byte(d.IOID)); err != nil {
			return fmt.Errorf("data: seal camera pull_url %s: %w", d.IOID, err)
		}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO network_cameras (io_id, name, url, pull_url, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.IOID, d.Name, url, pullURL, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("data: save network camera %s: %w", d.IOID, err)
	}
	return nil
}

func (s *Store) DeleteNetworkCamera(ctx context.Context, ioID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM network_cameras WHERE io_id = ?`, ioID)
	if err != nil {
		return false, fmt.Errorf("data: delete network camera %s: %w", ioID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) LoadNetworkCameras(ctx context.Context) ([]Device, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT io_id, name, url, pull_url FROM network_cameras`)
	if err != nil {
		return nil, fmt.Errorf("data: load network cameras: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d := Device{Category: "camera", Source: SourceNetwork}
		if err := rows.Scan(&d.IOID, &d.Name, &d.URL, &d.PullURL); err != nil {
			return nil, fmt.Errorf("data: scan network camera: %w", err)
		}
		if s.Keyring != nil {
			url, err := crypto.OpenString(s.Keyring, d.URL, []byte(d.IOID))
			if err != nil {
				return nil, fmt.Errorf("data: unseal camera url %s: %w", d.IOID, err)
			}
			pullURL, err := crypto.OpenString(s.Keyring, d.PullURL, []byte(d.IOID))
			if err != nil {
				return nil, fmt.Errorf("data: unseal camera pull_url %s: %w", d.IOID, err)
			}
			d.URL, d.PullURL = url, pullURL
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// GetNextNetworkCameraID returns the lowest unused "netN" identifier.
func (s *Store) GetNextNetworkCameraID(ctx context.Context) (string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT io_id FROM network_cameras`)
	if err != nil {
		return "", fmt.Errorf("data: next network camera id: %w", err)
	}
	defer rows.Close()

	used := make(map[int]bool)
	for rows.Next() {
		var ioID string
		if err := rows.Scan(&ioID); err != nil {
			return "", err
		}
		var n int
		if _, err := fmt.Sscanf(ioID, "net%d", &n); err == nil {
			used[n] = true
		}
	}

	for i := 0; ; i++ {
		if !used[i] {
			return fmt.Sprintf("net%d", i), nil
		}
	}
}
