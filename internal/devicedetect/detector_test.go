package devicedetect_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vms-watch/internal/devicedetect"
)

func TestDetect_RespectsBudget(t *testing.T) {
	d := devicedetect.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	cams, err := d.Detect(ctx)
	elapsed := time.Since(start)

	require.Less(t, elapsed, devicedetect.Budget+time.Second)
	if err != nil {
		require.Empty(t, cams)
	}
}

func TestDetect_NeverPanics(t *testing.T) {
	d := devicedetect.New()
	require.NotPanics(t, func() {
		_, _ = d.Detect(context.Background())
	})
}
