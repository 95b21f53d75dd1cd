package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	m := config.NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, m.Load())
	assert.Equal(t, config.Default().Workers, m.Current().Workers)
}

func TestLoadParsesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 8\nqueue:\n  capacity: 500\n  backpressure_action: reject\n"), 0o644))

	m := config.NewManager(path)
	require.NoError(t, m.Load())

	cur := m.Current()
	assert.Equal(t, 8, cur.Workers)
	assert.Equal(t, 500, cur.Queue.Capacity)
	assert.Equal(t, "reject", cur.Queue.BackpressureAction)
}

func TestValidateRejectsNegativeWorkers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: -1\n"), 0o644))

	m := config.NewManager(path)
	assert.Error(t, m.Load())
}

func TestValidateRejectsUnknownBackpressureAction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  backpressure_action: explode\n"), 0o644))

	m := config.NewManager(path)
	assert.Error(t, m.Load())
}

func TestWatchEmitsChangeOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 4\n"), 0o644))

	m := config.NewManager(path)
	require.NoError(t, m.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	changes, errs, err := m.Watch(ctx)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("workers: 9\n"), 0o644))

	select {
	case c := <-changes:
		assert.Equal(t, 9, c.Workers)
	case err := <-errs:
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("expected a config change notification")
	}
}
