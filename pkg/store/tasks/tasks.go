// Package tasks persists scheduled task loops, one directory per task with a
// canonical task.md inside.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/agentdir/pkg/frontmatter"
	"github.com/entrhq/agentdir/pkg/layer"
	"github.com/entrhq/agentdir/pkg/safeio"
	"github.com/entrhq/agentdir/pkg/store"
)

var ErrNotFound = errors.New("tasks: task not found")

// TaskFileName is the canonical file inside each task directory.
const TaskFileName = "task.md"

// Task is one scheduled loop configuration. Prompt is the document body.
type Task struct {
	ID              string
	Name            string
	Prompt          string
	IntervalMinutes int
	Enabled         bool
	ProfileID       string
	RunOnStartup    bool
	LastRunAt       int64
	CreatedAt       int64
	UpdatedAt       int64
}

// LoadResult aggregates a task directory scan.
type LoadResult struct {
	Tasks  []*Task
	Origin store.Origin
	Issues []store.Issue
}

// Store reads and writes tasks for one layer.
type Store struct {
	layer      layer.Layer
	maxBackups int
}

// NewStore returns a task store over l with the default backup bound.
func NewStore(l layer.Layer) *Store {
	return &Store{layer: l, maxBackups: safeio.DefaultMaxBackups}
}

// DirForID maps a task ID to its directory.
func (s *Store) DirForID(id string) string {
	return filepath.Join(s.layer.TasksDir(), layer.SanitizeName(id))
}

// PathForID maps a task ID to its canonical file path.
func (s *Store) PathForID(id string) string {
	return filepath.Join(s.DirForID(id), TaskFileName)
}

// ParseOptions carries load-time context for Parse.
type ParseOptions struct {
	// FallbackID is used when the document has no id field, typically the
	// containing directory name.
	FallbackID string
	// FilePath supplies the modification-time fallback for timestamps.
	FilePath string
}

// Parse decodes a task document. Intervals below one minute are clamped.
func Parse(text string, opts ParseOptions) (*Task, bool) {
	doc := frontmatter.Parse(text)
	id, ok := store.DeriveID(doc.String("id"), opts.FallbackID, doc.String("name"))
	if !ok {
		return nil, false
	}

	created, updated := store.Timestamps(doc, opts.FilePath)
	interval, hasInterval := doc.Int64("intervalMinutes")
	if !hasInterval || interval < 1 {
		interval = 1
	}
	lastRun, _ := doc.Int64("lastRunAt")

	return &Task{
		ID:              id,
		Name:            store.SingleLine(doc.String("name")),
		Prompt:          doc.Body,
		IntervalMinutes: int(interval),
		Enabled:         doc.Bool("enabled", true),
		ProfileID:       doc.String("profileId"),
		RunOnStartup:    doc.Bool("runOnStartup", false),
		LastRunAt:       lastRun,
		CreatedAt:       created,
		UpdatedAt:       updated,
	}, true
}

// Stringify renders t in the canonical on-disk form.
func Stringify(t *Task) string {
	doc := frontmatter.New()
	doc.Set("id", t.ID)
	doc.Set("name", store.SingleLine(t.Name))
	interval := t.IntervalMinutes
	if interval < 1 {
		interval = 1
	}
	doc.SetInt64("intervalMinutes", int64(interval))
	doc.SetBool("enabled", t.Enabled)
	doc.SetBool("runOnStartup", t.RunOnStartup)
	doc.SetInt64("createdAt", t.CreatedAt)
	doc.SetInt64("updatedAt", t.UpdatedAt)
	if t.ProfileID != "" {
		doc.Set("profileId", t.ProfileID)
	}
	if t.LastRunAt != 0 {
		doc.SetInt64("lastRunAt", t.LastRunAt)
	}
	doc.Body = t.Prompt
	return frontmatter.Serialize(doc)
}

// Load scans the layer's tasks directory. Each subdirectory contributes its
// canonical task.md; directories without one are reported as issues.
// Duplicate IDs resolve by greater updatedAt regardless of scan order.
func (s *Store) Load(_ context.Context) (*LoadResult, error) {
	result := &LoadResult{Origin: store.Origin{}}
	dir := s.layer.TasksDir()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: list %s: %w", dir, err)
	}

	byID := map[string]*Task{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name(), TaskFileName)
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			result.Issues = append(result.Issues, store.Issue{Path: path, Reason: "missing " + TaskFileName})
			continue
		}
		if err != nil {
			result.Issues = append(result.Issues, store.Issue{Path: path, Reason: err.Error()})
			continue
		}
		task, ok := Parse(string(raw), ParseOptions{FallbackID: e.Name(), FilePath: path})
		if !ok {
			result.Issues = append(result.Issues, store.Issue{Path: path, Reason: "no usable task id"})
			continue
		}
		if existing, dup := byID[task.ID]; dup && existing.UpdatedAt >= task.UpdatedAt {
			continue
		}
		byID[task.ID] = task
		result.Origin[task.ID] = path
	}

	for _, task := range byID {
		result.Tasks = append(result.Tasks, task)
	}
	return result, nil
}

// Write persists t, assigning an ID and timestamps when unset.
func (s *Store) Write(_ context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = store.NewID("task")
	}
	now := store.FileModMillis("")
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now
	}
	path := s.PathForID(t.ID)
	if err := safeio.Write(path, []byte(Stringify(t)), s.layer.Backups(s.maxBackups)); err != nil {
		return fmt.Errorf("tasks: write %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes the task's directory. A missing task is ErrNotFound.
func (s *Store) Delete(_ context.Context, id string) error {
	dir := s.DirForID(id)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("tasks: delete %s: %w", id, err)
	}
	return nil
}
