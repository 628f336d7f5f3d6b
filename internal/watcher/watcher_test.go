package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherDebouncesBurst(t *testing.T) {
	root := t.TempDir()

	var fired atomic.Int32
	w, err := New(root, 50*time.Millisecond, func() { fired.Add(1) }, zerolog.Nop())
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	// A burst of new work directories should collapse into one trigger.
	for _, id := range []string{"RJ100001", "RJ100002", "RJ100003"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, id), 0o755))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Quiet period; no further triggers.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestWatcherFiresOnRemove(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "RJ100001")
	require.NoError(t, os.Mkdir(dir, 0o755))

	var fired atomic.Int32
	w, err := New(root, 20*time.Millisecond, func() { fired.Add(1) }, zerolog.Nop())
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.Remove(dir))

	require.Eventually(t, func() bool {
		return fired.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherStopCancelsPendingTrigger(t *testing.T) {
	root := t.TempDir()

	var fired atomic.Int32
	w, err := New(root, 500*time.Millisecond, func() { fired.Add(1) }, zerolog.Nop())
	require.NoError(t, err)
	w.Start()

	require.NoError(t, os.Mkdir(filepath.Join(root, "RJ100001"), 0o755))
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestWatcherMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), 0, func() {}, zerolog.Nop())
	assert.Error(t, err)
}
