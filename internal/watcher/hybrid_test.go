package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/amandocs/internal/config"
)

func TestHybridWatcher_NewHybridWatcher(t *testing.T) {
	// Given: default options
	opts := DefaultOptions()

	// When: creating a hybrid watcher
	w, err := NewHybridWatcher(opts)

	// Then: no error and watcher is valid
	require.NoError(t, err)
	require.NotNil(t, w)
	defer func() { _ = w.Stop() }()
}

func TestHybridWatcher_SimpleCreate(t *testing.T) {
	// This is a minimal test to verify event flow
	tempDir := t.TempDir()
	t.Logf("TempDir: %s", tempDir)

	opts := Options{
		DebounceWindow:  10 * time.Millisecond, // Very short for testing
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	t.Log("Watcher created")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		if err := w.Start(ctx, tempDir); err != nil && err != context.Canceled {
			t.Logf("Start error: %v", err)
		}
	}()

	<-started
	time.Sleep(200 * time.Millisecond) // Wait for watcher to be ready
	t.Log("Watcher started")

	// Create a file
	testFile := filepath.Join(tempDir, "test.go")
	t.Logf("Creating file: %s", testFile)
	err = os.WriteFile(testFile, []byte("package main"), 0o644)
	require.NoError(t, err)
	t.Log("File created")

	// Wait for event
	select {
	case event := <-w.Events():
		t.Logf("Event: %s %s", event.Operation, event.Path)
	case err := <-w.Errors():
		t.Fatalf("Got error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout - no events received")
	}

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsFileCreation(t *testing.T) {
	// Given: a temp directory and hybrid watcher
	tempDir := t.TempDir()
	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, tempDir)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: a new file is created
	testFile := filepath.Join(tempDir, "newfile.go")
	require.NoError(t, os.WriteFile(testFile, []byte("package main"), 0o644))

	// Then: a CREATE event is detected
	var found bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case event := <-w.Events():
			if event.Operation == OpCreate && filepath.Base(event.Path) == "newfile.go" {
				found = true
				break loop
			}
		case err := <-w.Errors():
			t.Fatalf("unexpected error: %v", err)
		case <-timeout:
			break loop
		}
	}
	assert.True(t, found, "expected CREATE event for newfile.go")

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsFileModification(t *testing.T) {
	// Given: a temp directory with an existing file
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "existing.go")
	require.NoError(t, os.WriteFile(testFile, []byte("package main"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, tempDir)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: the file is modified
	require.NoError(t, os.WriteFile(testFile, []byte("package main\nfunc main() {}"), 0o644))

	// Then: a MODIFY or CREATE event is detected (fsnotify may report as Write)
	var found bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case event := <-w.Events():
			if (event.Operation == OpModify || event.Operation == OpCreate) &&
				filepath.Base(event.Path) == "existing.go" {
				found = true
				break loop
			}
		case err := <-w.Errors():
			t.Fatalf("unexpected error: %v", err)
		case <-timeout:
			break loop
		}
	}
	assert.True(t, found, "expected modify event for existing.go")

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsFileDeletion(t *testing.T) {
	// Given: a temp directory with an existing file
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "todelete.go")
	require.NoError(t, os.WriteFile(testFile, []byte("package main"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, tempDir)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: the file is deleted
	require.NoError(t, os.Remove(testFile))

	// Then: a DELETE event is detected
	var found bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case event := <-w.Events():
			if event.Operation == OpDelete && filepath.Base(event.Path) == "todelete.go" {
				found = true
				break loop
			}
		case err := <-w.Errors():
			t.Fatalf("unexpected error: %v", err)
		case <-timeout:
			break loop
		}
	}
	assert.True(t, found, "expected DELETE event for todelete.go")

	require.NoError(t, w.Stop())
}

func TestHybridWatcher_IgnoresGitignorePatterns(t *testing.T) {
	// Given: a temp directory with .gitignore
	tempDir := t.TempDir()
	gitignore := filepath.Join(tempDir, ".gitignore")
	require.NoError(t, os.WriteFile(gitignore, []byte("*.tmp\n"), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, tempDir)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: a file matching .gitignore is created
	tmpFile := filepath.Join(tempDir, "ignored.tmp")
	require.NoError(t, os.WriteFile(tmpFile, []byte("temp"), 0o644))

	// And: a non-ignored file is created
	goFile := filepath.Join(tempDir, "included.go")
	require.NoError(t, os.WriteFile(goFile, []byte("package main"), 0o644))

	// Then: only the .go file event is received
	var gotGoFile bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case event := <-w.Events():
			if filepath.Base(event.Path) == "included.go" {
				gotGoFile = true
			}
			// tmp files should not appear
			assert.NotEqual(t, ".tmp", filepath.Ext(event.Path),
				"should not receive events for .tmp files")
		case <-timeout:
			break loop
		}
	}

	assert.True(t, gotGoFile, "should have received event for .go file")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_IgnoresDataDirectory(t *testing.T) {
	// Given: a temp directory
	tempDir := t.TempDir()

	// Create the hidden data directory
	dataDir := filepath.Join(tempDir, config.DataDirName)
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, tempDir)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: files in the data directory are created, besides the config file
	indexFile := filepath.Join(dataDir, "metadata.db")
	require.NoError(t, os.WriteFile(indexFile, []byte("data"), 0o644))

	// And: a regular file is created
	goFile := filepath.Join(tempDir, "main.go")
	require.NoError(t, os.WriteFile(goFile, []byte("package main"), 0o644))

	// Then: only the regular file event is received
	var gotGoFile bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case event := <-w.Events():
			if filepath.Base(event.Path) == "main.go" {
				gotGoFile = true
			}
			assert.NotContains(t, event.Path, config.DataDirName,
				"should not receive events for files under the hidden data directory")
		case <-timeout:
			break loop
		}
	}

	assert.True(t, gotGoFile, "should have received event for .go file")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_ConfigFileChange_EmitsOpConfigChange(t *testing.T) {
	// Given: a project with an existing config file
	tempDir := t.TempDir()
	dataDir := filepath.Join(tempDir, config.DataDirName)
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	configPath := filepath.Join(dataDir, config.ConfigFileName)
	require.NoError(t, os.WriteFile(configPath, []byte(`{"project_name":"widget-service"}`), 0o644))

	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, tempDir)
	}()
	time.Sleep(100 * time.Millisecond)

	// When: the config file is edited
	require.NoError(t, os.WriteFile(configPath, []byte(`{"project_name":"widget-service-v2"}`), 0o644))

	// Then: an OpConfigChange event is emitted for it
	var found bool
	timeout := time.After(1 * time.Second)
loop:
	for {
		select {
		case event := <-w.Events():
			if event.Operation == OpConfigChange {
				found = true
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	assert.True(t, found, "expected OpConfigChange event for config.json edit")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_DetectsNewSubdirectory(t *testing.T) {
	// Given: a temp directory and hybrid watcher
	tempDir := t.TempDir()
	opts := Options{
		DebounceWindow:  50 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Start(ctx, tempDir)
	}()

	// Wait for watcher to initialize
	time.Sleep(100 * time.Millisecond)

	// When: a new subdirectory with files is created
	subDir := filepath.Join(tempDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	subFile := filepath.Join(subDir, "sub.go")
	require.NoError(t, os.WriteFile(subFile, []byte("package subdir"), 0o644))

	// Then: events are detected (may need longer timeout for recursive watch)
	var gotEvent bool
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case event := <-w.Events():
			if event.Operation == OpCreate {
				gotEvent = true
			}
		case <-timeout:
			break loop
		}
	}

	assert.True(t, gotEvent, "should have received create event for subdirectory or file")
	require.NoError(t, w.Stop())
}

func TestHybridWatcher_Stop_ClosesChannels(t *testing.T) {
	// Given: a hybrid watcher
	opts := DefaultOptions()
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	// When: stopped
	require.NoError(t, w.Stop())

	// Then: events channel is closed
	select {
	case _, ok := <-w.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestHybridWatcher_DroppedEvents_InitiallyZero(t *testing.T) {
	// Given: a new hybrid watcher
	opts := DefaultOptions()
	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	// Then: dropped event count is zero
	assert.Equal(t, uint64(0), w.DroppedEvents())
}

func TestHybridWatcher_DroppedEvents_IncrementsOnOverflow(t *testing.T) {
	// Given: a hybrid watcher with a tiny buffer
	opts := Options{
		EventBufferSize: 1, // Very small buffer to trigger overflow
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	// When: we emit more events than the buffer can hold
	w.emitEvent(FileEvent{Path: "/test1.go", Operation: OpCreate})
	w.emitEvent(FileEvent{Path: "/test2.go", Operation: OpCreate})
	w.emitEvent(FileEvent{Path: "/test3.go", Operation: OpCreate})

	// Then: dropped count reflects the drops
	assert.Equal(t, uint64(2), w.DroppedEvents())
}

func TestHybridWatcher_HandlerDispatch_SerializesPerPath(t *testing.T) {
	// Given: a watcher with a Handler wired, tracking call order per path
	tempDir := t.TempDir()
	opts := Options{
		DebounceWindow:  20 * time.Millisecond,
		EventBufferSize: 100,
	}.WithDefaults()

	w, err := NewHybridWatcher(opts)
	require.NoError(t, err)

	var mu sync.Mutex
	calls := map[string]int{}
	w.Handler = func(ctx context.Context, event FileEvent) error {
		mu.Lock()
		calls[event.Path]++
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Start(ctx, tempDir) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "a.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "b.go"), []byte("package main"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["a.go"] >= 1 && calls["b.go"] >= 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, w.Stop())
}
