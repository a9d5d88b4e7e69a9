package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/agentdir/pkg/layer"
)

func testLayer(t *testing.T) layer.Layer {
	t.Helper()
	l := layer.New(filepath.Join(t.TempDir(), ".agents"))
	require.NoError(t, os.MkdirAll(l.Root, 0o750))
	require.NoError(t, os.MkdirAll(l.MemoriesDir(), 0o750))
	return l
}

func waitForKind(t *testing.T, w *Watcher, want Kind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestWatcherSettingsEvent(t *testing.T) {
	l := testLayer(t)
	w, err := New(l, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(l.SettingsPath(), []byte(`{"theme":"dark"}`), 0o600))

	ev := waitForKind(t, w, KindSettings)
	assert.Equal(t, l.SettingsPath(), ev.Path)
}

func TestWatcherMemoryEvent(t *testing.T) {
	l := testLayer(t)
	w, err := New(l, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(l.MemoriesDir(), "mem_1.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nid: mem_1\n---\n\nx\n"), 0o600))

	ev := waitForKind(t, w, KindMemory)
	assert.Equal(t, path, ev.Path)
}

func TestWatcherIgnoresTempAndBackupFiles(t *testing.T) {
	l := testLayer(t)
	w, err := New(l, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(l.SettingsPath()+".tmp", []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(l.SettingsPath(), []byte("{}"), 0o600))

	ev := waitForKind(t, w, KindSettings)
	assert.Equal(t, l.SettingsPath(), ev.Path)

	select {
	case extra := <-w.Events():
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	l := testLayer(t)
	w, err := New(l, 100*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(l.SettingsPath(), []byte(`{"n":1}`), 0o600))
		time.Sleep(10 * time.Millisecond)
	}

	waitForKind(t, w, KindSettings)
	select {
	case ev := <-w.Events():
		t.Fatalf("burst should coalesce into one event, got extra %+v", ev)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherPicksUpDirectoriesCreatedLater(t *testing.T) {
	l := testLayer(t)
	w, err := New(l, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	// The tasks directory does not exist at construction time; creating it
	// and a task folder inside must still surface file events.
	require.NoError(t, os.MkdirAll(l.TasksDir(), 0o750))
	time.Sleep(100 * time.Millisecond)
	taskDir := filepath.Join(l.TasksDir(), "job")
	require.NoError(t, os.MkdirAll(taskDir, 0o750))
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(taskDir, "task.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nid: job\n---\n\ncheck inbox\n"), 0o600))

	// The directory creations emit task events of their own; wait for the
	// event carrying the file path.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Kind == KindTask && ev.Path == path {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for task file event")
		}
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	l := testLayer(t)
	w, err := New(l, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
