//go:build !windows

package windows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanLANUnsupportedOffWindows(t *testing.T) {
	hosts, err := ScanLAN(context.Background(), DiscoveryConfig{})
	assert.Nil(t, hosts)
	assert.ErrorIs(t, err, ErrDiscoveryUnsupported)
}
