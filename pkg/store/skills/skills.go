// Package skills persists agent skills as markdown files located anywhere
// under a layer's skills directory at bounded depth. Skills are the one
// entity type addressed by directory path rather than filename: a skill's
// fallback identifier is the POSIX-style path of its containing directory
// relative to the skills root.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/agentdir/pkg/frontmatter"
	"github.com/entrhq/agentdir/pkg/layer"
	"github.com/entrhq/agentdir/pkg/safeio"
	"github.com/entrhq/agentdir/pkg/store"
)

var ErrNotFound = errors.New("skills: skill not found")

// Recognized skill file names inside a skill folder.
const (
	SkillFileName      = "skill.md"
	SkillFileNameUpper = "SKILL.md"
)

// DefaultMaxDepth bounds the directory recursion below the skills root.
const DefaultMaxDepth = 3

// Source records where a skill came from.
type Source string

const (
	SourceLocal    Source = "local"
	SourceImported Source = "imported"
)

// Skill is one persisted skill record. Instructions is the document body.
// FilePath points at the file that should actually be executed; after Parse
// it is either absolute, or an opaque scheme-prefixed reference passed
// through unchanged, or empty when the skill file itself is the target.
type Skill struct {
	ID           string
	Name         string
	Description  string
	Instructions string
	Enabled      bool
	CreatedAt    int64
	UpdatedAt    int64
	Source       Source
	FilePath     string
}

// LoadResult aggregates a skills scan.
type LoadResult struct {
	Skills []*Skill
	Origin store.Origin
	Issues []store.Issue
}

// Store reads and writes skills for one layer.
type Store struct {
	layer      layer.Layer
	maxBackups int
	maxDepth   int
	ignore     []glob.Glob
}

// NewStore returns a skill store over l with the default depth bound and
// backup bound.
func NewStore(l layer.Layer) *Store {
	return &Store{layer: l, maxBackups: safeio.DefaultMaxBackups, maxDepth: DefaultMaxDepth}
}

// SetMaxDepth overrides the recursion bound below the skills root.
func (s *Store) SetMaxDepth(depth int) {
	if depth > 0 {
		s.maxDepth = depth
	}
}

// SetIgnorePatterns installs glob patterns matched against entry names
// during the scan. Matching entries are skipped without an issue.
func (s *Store) SetIgnorePatterns(patterns []string) error {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return fmt.Errorf("skills: ignore pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	s.ignore = compiled
	return nil
}

// PathForID maps a skill ID to its canonical file path, sanitizing each
// path segment of the directory-style identifier.
func (s *Store) PathForID(id string) string {
	segments := strings.Split(id, "/")
	parts := make([]string, 0, len(segments)+2)
	parts = append(parts, s.layer.SkillsDir())
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		parts = append(parts, layer.SanitizeName(seg))
	}
	parts = append(parts, SkillFileName)
	return filepath.Join(parts...)
}

// DirForID maps a skill ID to its containing directory.
func (s *Store) DirForID(id string) string {
	return filepath.Dir(s.PathForID(id))
}

// ParseOptions carries load-time context for Parse.
type ParseOptions struct {
	// FallbackID is the POSIX relative path of the skill's containing
	// directory below the skills root.
	FallbackID string
	// FilePath is the skill markdown file's own path; relative filePath
	// values resolve against its directory and timestamps fall back to
	// its modification time.
	FilePath string
}

// Parse decodes a skill document. A relative filePath value resolves against
// the skill file's directory; absolute paths and scheme-prefixed references
// pass through unchanged.
func Parse(text string, opts ParseOptions) (*Skill, bool) {
	doc := frontmatter.Parse(text)
	id, ok := store.DeriveID(doc.String("id"), opts.FallbackID, doc.String("name"))
	if !ok {
		return nil, false
	}

	created, updated := store.Timestamps(doc, opts.FilePath)
	source := Source(doc.String("source"))
	if source != SourceLocal && source != SourceImported {
		source = ""
	}

	return &Skill{
		ID:           id,
		Name:         store.SingleLine(doc.String("name")),
		Description:  store.SingleLine(doc.String("description")),
		Instructions: doc.Body,
		Enabled:      doc.Bool("enabled", true),
		CreatedAt:    created,
		UpdatedAt:    updated,
		Source:       source,
		FilePath:     resolveFilePath(doc.String("filePath"), opts.FilePath),
	}, true
}

// Stringify renders sk relative to originPath, the skill markdown file the
// output will be written to. The filePath field is re-encoded relative to
// that file's directory, omitted entirely when it would point back at the
// skill file itself, and left absolute when the two locations do not share a
// common root.
func Stringify(sk *Skill, originPath string) string {
	doc := frontmatter.New()
	doc.Set("id", sk.ID)
	doc.Set("name", store.SingleLine(sk.Name))
	doc.Set("description", store.SingleLine(sk.Description))
	doc.SetBool("enabled", sk.Enabled)
	doc.SetInt64("createdAt", sk.CreatedAt)
	doc.SetInt64("updatedAt", sk.UpdatedAt)
	if sk.Source != "" {
		doc.Set("source", string(sk.Source))
	}
	if encoded, include := encodeFilePath(sk.FilePath, originPath); include {
		doc.Set("filePath", encoded)
	}
	doc.Body = sk.Instructions
	return frontmatter.Serialize(doc)
}

// outcomeKind is the sum type produced by the bounded-depth traversal.
type outcomeKind int

const (
	outcomeEntry outcomeKind = iota
	outcomeRecurse
	outcomeDepthExceeded
)

type outcome struct {
	kind outcomeKind
	path string
}

// scanDir classifies the children of one directory: skill files to load,
// subdirectories to recurse into, and subdirectories beyond the depth bound.
func scanDir(dir string, depth, maxDepth int, ignore []glob.Glob) ([]outcome, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []outcome
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || ignored(name, ignore) {
			continue
		}
		path := filepath.Join(dir, name)
		if e.IsDir() {
			if depth+1 > maxDepth {
				out = append(out, outcome{kind: outcomeDepthExceeded, path: path})
			} else {
				out = append(out, outcome{kind: outcomeRecurse, path: path})
			}
			continue
		}
		if name == SkillFileName || name == SkillFileNameUpper {
			out = append(out, outcome{kind: outcomeEntry, path: path})
		}
	}
	return out, nil
}

func ignored(name string, patterns []glob.Glob) bool {
	for _, g := range patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Load scans the skills tree. Duplicate IDs resolve by greater updatedAt
// regardless of traversal order; directories beyond the depth bound are
// logged and reported, not silently dropped.
func (s *Store) Load(_ context.Context) (*LoadResult, error) {
	result := &LoadResult{Origin: store.Origin{}}
	root := s.layer.SkillsDir()

	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		return result, nil
	}

	byID := map[string]*Skill{}
	if err := s.walk(root, root, 0, result, byID); err != nil {
		return nil, err
	}

	for _, sk := range byID {
		result.Skills = append(result.Skills, sk)
	}
	return result, nil
}

func (s *Store) walk(root, dir string, depth int, result *LoadResult, byID map[string]*Skill) error {
	outcomes, err := scanDir(dir, depth, s.maxDepth, s.ignore)
	if err != nil {
		return fmt.Errorf("skills: scan %s: %w", dir, err)
	}
	for _, o := range outcomes {
		switch o.kind {
		case outcomeDepthExceeded:
			slog.Debug("skills: depth limit exceeded", "path", o.path, "maxDepth", s.maxDepth)
			result.Issues = append(result.Issues, store.Issue{Path: o.path, Reason: "depth limit exceeded"})
		case outcomeRecurse:
			if err := s.walk(root, o.path, depth+1, result, byID); err != nil {
				return err
			}
		case outcomeEntry:
			s.loadFile(root, o.path, result, byID)
		}
	}
	return nil
}

func (s *Store) loadFile(root, path string, result *LoadResult, byID map[string]*Skill) {
	raw, err := os.ReadFile(path)
	if err != nil {
		result.Issues = append(result.Issues, store.Issue{Path: path, Reason: err.Error()})
		return
	}
	fallback := ""
	if rel, err := filepath.Rel(root, filepath.Dir(path)); err == nil && rel != "." {
		fallback = filepath.ToSlash(rel)
	}
	sk, ok := Parse(string(raw), ParseOptions{FallbackID: fallback, FilePath: path})
	if !ok {
		result.Issues = append(result.Issues, store.Issue{Path: path, Reason: "no usable skill id"})
		return
	}
	if existing, dup := byID[sk.ID]; dup && existing.UpdatedAt >= sk.UpdatedAt {
		return
	}
	byID[sk.ID] = sk
	result.Origin[sk.ID] = path
}

// Write persists sk at its canonical path, assigning an ID and timestamps
// when unset.
func (s *Store) Write(ctx context.Context, sk *Skill) error {
	if sk.ID == "" {
		sk.ID = store.NewID("skill")
	}
	return s.WriteAt(ctx, sk, s.PathForID(sk.ID))
}

// WriteAt persists sk at an explicit origin path, used when updating a skill
// loaded from a non-canonical location (nested folder, SKILL.md casing).
func (s *Store) WriteAt(_ context.Context, sk *Skill, originPath string) error {
	now := store.FileModMillis("")
	if sk.CreatedAt == 0 {
		sk.CreatedAt = now
	}
	if sk.UpdatedAt == 0 {
		sk.UpdatedAt = now
	}
	if err := safeio.Write(originPath, []byte(Stringify(sk, originPath)), s.layer.Backups(s.maxBackups)); err != nil {
		return fmt.Errorf("skills: write %s: %w", sk.ID, err)
	}
	return nil
}

// Delete removes the skill's directory. A missing skill is ErrNotFound.
func (s *Store) Delete(_ context.Context, id string) error {
	dir := s.DirForID(id)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("skills: delete %s: %w", id, err)
	}
	return nil
}

// schemeRe matches opaque reference schemes such as "plugin:tool". Two or
// more leading scheme characters are required so Windows drive letters stay
// filesystem paths.
var schemeRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]+:`)

func hasScheme(v string) bool {
	return schemeRe.MatchString(v)
}

// resolveFilePath turns a stored filePath value into its runtime form.
func resolveFilePath(raw, skillFilePath string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if hasScheme(raw) {
		return raw
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(skillFilePath), filepath.FromSlash(raw)))
}

// encodeFilePath is the inverse transform applied at serialize time. The
// second return reports whether the field should be emitted at all.
func encodeFilePath(resolved, originPath string) (string, bool) {
	if resolved == "" {
		return "", false
	}
	if hasScheme(resolved) {
		return resolved, true
	}
	if filepath.Clean(resolved) == filepath.Clean(originPath) {
		// The implicit default: the skill file itself is the target.
		return "", false
	}
	rel, err := filepath.Rel(filepath.Dir(originPath), resolved)
	if err != nil {
		return resolved, true
	}
	return filepath.ToSlash(rel), true
}
