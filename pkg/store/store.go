// Package store holds the machinery shared by the entity repositories:
// identifier derivation, timestamp resolution, the origin map, and the
// explicit issue list returned by best-effort collection loads.
package store

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/agentdir/pkg/frontmatter"
)

// Origin maps an entity ID to the file path that currently holds its
// winning, authoritative copy.
type Origin map[string]string

// Issue records one file a collection load could not turn into an entity.
// Loaders aggregate issues instead of failing or silently dropping files.
type Issue struct {
	Path   string
	Reason string
}

// DeriveID applies the identifier precedence shared by the repositories: an
// explicit id field wins, then the caller-supplied fallback (typically the
// filename or containing directory), then a name field. The second return is
// false when none is usable.
func DeriveID(explicit, fallback, name string) (string, bool) {
	for _, candidate := range []string{explicit, fallback, name} {
		if c := strings.TrimSpace(candidate); c != "" {
			return c, true
		}
	}
	return "", false
}

// Timestamps resolves createdAt/updatedAt for an entity document. Numeric
// frontmatter values win; otherwise both default to the file's modification
// time, captured once and floored to whole milliseconds so repeated loads of
// an untouched file yield a stable value. An unreadable file falls back to
// the current time.
func Timestamps(doc frontmatter.Doc, filePath string) (created, updated int64) {
	fallback := FileModMillis(filePath)
	created, ok := doc.Int64("createdAt")
	if !ok {
		created = fallback
	}
	updated, ok = doc.Int64("updatedAt")
	if !ok {
		updated = fallback
	}
	return created, updated
}

// FileModMillis returns the last-modified time of path in whole epoch
// milliseconds, or the current time when the file cannot be inspected.
func FileModMillis(path string) int64 {
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			return info.ModTime().UnixMilli()
		}
	}
	return time.Now().UnixMilli()
}

// NewID returns a fresh entity identifier with the given kind prefix.
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// SingleLine normalizes a value for single-line storage: whitespace runs
// collapse to one space and surrounding whitespace is trimmed.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
