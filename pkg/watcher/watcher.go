// Package watcher notifies callers when a layer's files change on disk, so
// editors and agent runtimes can reload configuration that was modified
// externally. The watcher is explicitly constructed and closed by its owner;
// there is no process-wide instance.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/entrhq/agentdir/pkg/layer"
)

// Kind classifies what part of the layer an event touched.
type Kind string

const (
	KindSettings     Kind = "settings"
	KindTooling      Kind = "tooling"
	KindModels       Kind = "models"
	KindLayout       Kind = "layout"
	KindSystemPrompt Kind = "system-prompt"
	KindAgentsFile   Kind = "agents-file"
	KindMemory       Kind = "memory"
	KindSkill        Kind = "skill"
	KindTask         Kind = "task"
	KindProfile      Kind = "profile"
)

// Event is one debounced change notification.
type Event struct {
	Kind Kind
	Path string
}

// DefaultDebounce coalesces the bursts editors produce on save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher streams change events for one layer root.
type Watcher struct {
	layer    layer.Layer
	fs       *fsnotify.Watcher
	events   chan Event
	errs     chan error
	done     chan struct{}
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// New starts watching the layer's bucket files and entity directories.
// Directories that do not exist yet are picked up when they appear under the
// root. Callers must Close the watcher when done.
func New(l layer.Layer, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create: %w", err)
	}

	w := &Watcher{
		layer:    l,
		fs:       fsw,
		events:   make(chan Event, 16),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		debounce: debounce,
		pending:  map[string]*time.Timer{},
	}

	for _, dir := range w.watchRoots() {
		// Missing directories are not an error; they are added when
		// created under an already-watched parent.
		if err := fsw.Add(dir); err != nil {
			slog.Debug("watcher: skip directory", "dir", dir, "err", err)
		}
	}

	go w.run()
	return w, nil
}

// Events delivers debounced change notifications.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors delivers watch failures.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher and releases its file handles.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) watchRoots() []string {
	return []string{
		w.layer.Root,
		filepath.Dir(w.layer.LayoutPath()),
		w.layer.MemoriesDir(),
		w.layer.SkillsDir(),
		w.layer.TasksDir(),
		w.layer.ProfilesDir(),
	}
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".bak") {
		return
	}
	rel, err := filepath.Rel(w.layer.Root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if first := firstSegment(rel); first == layer.BackupsDirName {
		return
	}

	// Newly created directories under a watched root join the watch set,
	// covering entity folders created after startup. Plain files are
	// already covered by their parent's watch.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(ev.Name); err == nil {
				slog.Debug("watcher: added directory", "dir", ev.Name)
			}
		}
	}

	kind, ok := w.classify(rel)
	if !ok {
		return
	}
	w.schedule(Event{Kind: kind, Path: ev.Name})
}

func (w *Watcher) classify(rel string) (Kind, bool) {
	switch rel {
	case layer.SettingsFileName:
		return KindSettings, true
	case layer.MCPConfigFileName:
		return KindTooling, true
	case layer.ModelsFileName:
		return KindModels, true
	case layer.SystemPromptFileName:
		return KindSystemPrompt, true
	case layer.AgentsFileName:
		return KindAgentsFile, true
	}
	switch firstSegment(rel) {
	case layer.LayoutsDirName:
		return KindLayout, true
	case layer.MemoriesDirName:
		return KindMemory, true
	case layer.SkillsDirName:
		return KindSkill, true
	case layer.TasksDirName:
		return KindTask, true
	case layer.ProfilesDirName:
		return KindProfile, true
	}
	return "", false
}

func firstSegment(rel string) string {
	rel = filepath.ToSlash(rel)
	if idx := strings.Index(rel, "/"); idx >= 0 {
		return rel[:idx]
	}
	return rel
}

// schedule coalesces rapid successive changes to one path into a single
// event after the debounce window.
func (w *Watcher) schedule(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.pending[ev.Path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[ev.Path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, ev.Path)
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		select {
		case w.events <- ev:
		case <-w.done:
		}
	})
}
