package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReloader_LoadsInitialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(ProjectDataDir(tmpDir), 0o755))
	require.NoError(t, os.WriteFile(ConfigPath(tmpDir), []byte(`{"project_name":"demo"}`), 0o644))

	r, err := NewReloader(tmpDir, nil)
	require.NoError(t, err)
	assert.Equal(t, "demo", r.Load().ProjectName)
}

func TestNewReloader_InvalidInitialConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(ProjectDataDir(tmpDir), 0o755))
	require.NoError(t, os.WriteFile(ConfigPath(tmpDir), []byte(`{"retrieval":{"max_results":-1}}`), 0o644))

	_, err := NewReloader(tmpDir, nil)
	require.Error(t, err)
}

func TestReloader_Watch_ReloadsOnFileChange(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(ProjectDataDir(tmpDir), 0o755))
	require.NoError(t, os.WriteFile(ConfigPath(tmpDir), []byte(`{"project_name":"v1"}`), 0o644))

	r, err := NewReloader(tmpDir, nil)
	require.NoError(t, err)
	require.Equal(t, "v1", r.Load().ProjectName)

	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, watcher) }()

	// Give the watch loop time to register its directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(ConfigPath(tmpDir), []byte(`{"project_name":"v2"}`), 0o644))

	require.Eventually(t, func() bool {
		return r.Load().ProjectName == "v2"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestReloader_Watch_InvalidReloadKeepsPreviousConfig(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(ProjectDataDir(tmpDir), 0o755))
	require.NoError(t, os.WriteFile(ConfigPath(tmpDir), []byte(`{"project_name":"v1"}`), 0o644))

	r, err := NewReloader(tmpDir, nil)
	require.NoError(t, err)

	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, watcher) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(ConfigPath(tmpDir), []byte(`{"retrieval":{"max_results":-5}}`), 0o644))

	// Give the reloader a chance to observe and reject the bad write.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "v1", r.Load().ProjectName)

	cancel()
	<-done
}
