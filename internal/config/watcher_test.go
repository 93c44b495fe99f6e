package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "govgate.yaml")
	writeConfig(t, path, "")

	w, err := NewWatcher(path, func(*Config) {}, WithDebounceDelay(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	assert.Equal(t, path, w.path)
	assert.Equal(t, time.Second, w.debounceDelay)
	assert.Nil(t, w.LastConfig())
}

func TestWatcher_Start_InvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "govgate.yaml")
	writeConfig(t, path, "environment: qa\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "govgate.yaml")
	writeConfig(t, path, "rateLimit:\n  classes:\n    auth:\n      max: 5\n      window: 15m\n")

	reloaded := make(chan *Config, 4)
	var failures atomic.Int32

	w, err := NewWatcher(path,
		func(cfg *Config) { reloaded <- cfg },
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(error) { failures.Add(1) }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	assert.Equal(t, 5, w.LastConfig().RateLimit.Classes["auth"].Max)

	writeConfig(t, path, "rateLimit:\n  classes:\n    auth:\n      max: 2\n      window: 15m\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 2, cfg.RateLimit.Classes["auth"].Max)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}

	writeConfig(t, path, "environment: qa\n")
	assert.Eventually(t, func() bool { return failures.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, w.LastConfig().RateLimit.Classes["auth"].Max)
}

func TestWatcher_ForceReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "govgate.yaml")
	writeConfig(t, path, "debug: true\n")

	var calls atomic.Int32
	w, err := NewWatcher(path, func(*Config) { calls.Add(1) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, w.ForceReload())
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, w.LastConfig().Debug)
}
