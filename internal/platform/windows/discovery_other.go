//go:build !windows

package windows

import (
	"context"
	"errors"
)

// ErrDiscoveryUnsupported is returned by ScanLAN on platforms with no
// WMI/NetAdapter equivalent wired up.
var ErrDiscoveryUnsupported = errors.New("windows: LAN discovery is only implemented on Windows")

func ScanLAN(ctx context.Context, cfg DiscoveryConfig) ([]DiscoveredHost, error) {
	return nil, ErrDiscoveryUnsupported
}
