// Package memories persists agent memories as one markdown file per memory
// under a layer's memories directory.
package memories

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

var ErrNotFound = errors.New("memories: memory not found")

// Importance classifies how strongly a memory should influence the agent.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Valid reports whether i is one of the recognized levels.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceCritical:
		return true
	}
	return false
}

// Memory is one persisted memory record. Title and Content are single-line
// and whitespace-normalized; UserNotes may span lines and is stored as the
// document body.
type Memory struct {
	ID                string
	CreatedAt         int64
	UpdatedAt         int64
	Title             string
	Content           string
	Tags              []string
	KeyFindings       []string
	Importance        Importance
	ProfileID         string
	SessionID         string
	ConversationID    string
	ConversationTitle string
	UserNotes         string
}

// LoadResult aggregates a directory scan: the winning entities, the origin
// map pointing at each winner's file, and the files that could not be
// loaded.
type LoadResult struct {
	Memories []*Memory
	Origin   store.Origin
	Issues   []store.Issue
}

// Store reads and writes memories for one layer.
type Store struct {
	layer      layer.Layer
	maxBackups int
}

// NewStore returns a memory store over l with the default backup bound.
func NewStore(l layer.Layer) *Store {
	return &Store{layer: l, maxBackups: safeio.DefaultMaxBackups}
}

// PathForID maps a memory ID to its canonical file path.
func (s *Store) PathForID(id string) string {
	return filepath.Join(s.layer.MemoriesDir(), layer.SanitizeName(id)+".md")
}

// ParseOptions carries load-time context for Parse.
type ParseOptions struct {
	// FallbackID is used when the document has no id field, typically the
	// filename without extension.
	FallbackID string
	// FilePath supplies the modification-time fallback for timestamps.
	FilePath string
}

// Parse decodes a memory document. The second return is false when no usable
// identifier can be derived.
func Parse(text string, opts ParseOptions) (*Memory, bool) {
	doc := frontmatter.Parse(text)
	id, ok := store.DeriveID(doc.String("id"), opts.FallbackID, doc.String("name"))
	if !ok {
		return nil, false
	}

	created, updated := store.Timestamps(doc, opts.FilePath)
	importance := Importance(doc.String("importance"))
	if !importance.Valid() {
		importance = ImportanceMedium
	}

	return &Memory{
		ID:                id,
		CreatedAt:         created,
		UpdatedAt:         updated,
		Title:             store.SingleLine(doc.String("title")),
		Content:           store.SingleLine(doc.String("content")),
		Tags:              doc.StringList("tags"),
		KeyFindings:       doc.StringList("keyFindings"),
		Importance:        importance,
		ProfileID:         doc.String("profileId"),
		SessionID:         doc.String("sessionId"),
		ConversationID:    doc.String("conversationId"),
		ConversationTitle: store.SingleLine(doc.String("conversationTitle")),
		UserNotes:         doc.Body,
	}, true
}

// Stringify renders m in the canonical on-disk form. Optional fields are
// omitted when empty so repeated writes of identical records are
// byte-identical.
func Stringify(m *Memory) string {
	doc := frontmatter.New()
	doc.Set("id", m.ID)
	doc.SetInt64("createdAt", m.CreatedAt)
	doc.SetInt64("updatedAt", m.UpdatedAt)
	doc.Set("title", store.SingleLine(m.Title))
	doc.Set("content", store.SingleLine(m.Content))
	doc.Set("importance", string(m.Importance))
	if len(m.Tags) > 0 {
		doc.SetStringList("tags", m.Tags)
	}
	if len(m.KeyFindings) > 0 {
		doc.SetStringList("keyFindings", m.KeyFindings)
	}
	if m.ProfileID != "" {
		doc.Set("profileId", m.ProfileID)
	}
	if m.SessionID != "" {
		doc.Set("sessionId", m.SessionID)
	}
	if m.ConversationID != "" {
		doc.Set("conversationId", m.ConversationID)
	}
	if m.ConversationTitle != "" {
		doc.Set("conversationTitle", store.SingleLine(m.ConversationTitle))
	}
	doc.Body = m.UserNotes
	return frontmatter.Serialize(doc)
}

// Load scans the layer's memories directory. A missing directory yields an
// empty result. Files that do not produce an entity are reported as issues,
// and duplicate IDs resolve to the file with the greater updatedAt
// regardless of scan order.
func (s *Store) Load(_ context.Context) (*LoadResult, error) {
	result := &LoadResult{Origin: store.Origin{}}
	dir := s.layer.MemoriesDir()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memories: list %s: %w", dir, err)
	}

	byID := map[string]*Memory{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".md" {
			continue
		}
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			result.Issues = append(result.Issues, store.Issue{Path: path, Reason: err.Error()})
			continue
		}
		m, ok := Parse(string(raw), ParseOptions{
			FallbackID: strings.TrimSuffix(name, ".md"),
			FilePath:   path,
		})
		if !ok {
			result.Issues = append(result.Issues, store.Issue{Path: path, Reason: "no usable memory id"})
			continue
		}
		if existing, dup := byID[m.ID]; dup && existing.UpdatedAt >= m.UpdatedAt {
			continue
		}
		byID[m.ID] = m
		result.Origin[m.ID] = path
	}

	for _, m := range byID {
		result.Memories = append(result.Memories, m)
	}
	return result, nil
}

// Write persists m, assigning an ID and timestamps when unset. Prior content
// rotates into the layer's backup tree.
func (s *Store) Write(_ context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = store.NewID("mem")
	}
	now := store.FileModMillis("")
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = now
	}
	if !m.Importance.Valid() {
		m.Importance = ImportanceMedium
	}
	path := s.PathForID(m.ID)
	if err := safeio.Write(path, []byte(Stringify(m)), s.layer.Backups(s.maxBackups)); err != nil {
		return fmt.Errorf("memories: write %s: %w", m.ID, err)
	}
	return nil
}

// Delete removes the memory's file. A missing memory is ErrNotFound.
func (s *Store) Delete(_ context.Context, id string) error {
	err := os.Remove(s.PathForID(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("memories: delete %s: %w", id, err)
	}
	return nil
}
