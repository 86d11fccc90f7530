package settingswatch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vms-watch/internal/settingswatch"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestApply_SetsEnvFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nFOO_TEST_KEY=bar\n\nBAZ_TEST_KEY=qux\n"), 0o644))

	require.NoError(t, settingswatch.Apply(path))
	require.Equal(t, "bar", os.Getenv("FOO_TEST_KEY"))
	require.Equal(t, "qux", os.Getenv("BAZ_TEST_KEY"))
}

func TestApply_MissingFileIsNotAnError(t *testing.T) {
	require.NoError(t, settingswatch.Apply(filepath.Join(t.TempDir(), "does-not-exist.env")))
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.env")
	require.NoError(t, os.WriteFile(path, []byte("WATCH_TEST_KEY=initial\n"), 0o644))

	var reloads int32
	w := settingswatch.New(path, func(ctx context.Context) error {
		atomic.AddInt32(&reloads, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&reloads) >= 1 })

	require.NoError(t, os.WriteFile(path, []byte("WATCH_TEST_KEY=updated\n"), 0o644))
	waitFor(t, 2*time.Second, func() bool { return os.Getenv("WATCH_TEST_KEY") == "updated" })
}
