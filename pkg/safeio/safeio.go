// Package safeio provides crash-safe file persistence: atomic writes staged
// through a temporary file, bounded backup rotation mirroring the target's
// directory structure, and read-time recovery of corrupt JSON files from the
// newest parseable backup.
package safeio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"
)

// DefaultMaxBackups is the retention bound applied when a policy does not
// specify one.
const DefaultMaxBackups = 5

const backupExt = ".bak"

// BackupPolicy describes where backups for a write target live and how many
// are retained. The zero value disables backups entirely.
type BackupPolicy struct {
	// Dir is the root of the backup tree. Empty disables backups.
	Dir string
	// Base is the directory that target paths are mirrored relative to.
	// A target outside Base falls back to a flat entry under Dir.
	Base string
	// Max bounds the number of retained backups per target. Values <= 0
	// mean DefaultMaxBackups.
	Max int
}

func (p BackupPolicy) enabled() bool { return p.Dir != "" }

func (p BackupPolicy) limit() int {
	if p.Max <= 0 {
		return DefaultMaxBackups
	}
	return p.Max
}

// mirrorDir returns the backup directory for a target path, mirroring the
// target's position relative to the policy base.
func (p BackupPolicy) mirrorDir(path string) string {
	if p.Base != "" {
		if rel, err := filepath.Rel(p.Base, filepath.Dir(path)); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.Join(p.Dir, rel)
		}
	}
	return p.Dir
}

// Write atomically replaces path with data. Any existing content is first
// rotated into the policy's backup tree, and backups for the target are
// pruned to the policy bound once the new content is in place. A concurrent
// reader never observes a half-written file: data is staged to a temporary
// file in the same directory and renamed over the target.
func Write(path string, data []byte, policy BackupPolicy) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("safeio: create directory for %s: %w", path, err)
	}

	prev, err := os.ReadFile(path)
	hadPrev := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("safeio: read existing %s: %w", path, err)
	}
	if hadPrev && policy.enabled() {
		if err := backup(path, prev, policy); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("safeio: stage %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("safeio: replace %s: %w", path, err)
	}

	if hadPrev && policy.enabled() {
		if err := prune(path, policy); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON serializes v and writes it through Write. Pretty output uses
// two-space indentation; the encoding is otherwise identical.
func WriteJSON(path string, v any, pretty bool, policy BackupPolicy) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("safeio: encode %s: %w", path, err)
	}
	return Write(path, append(data, '\n'), policy)
}

// ReadJSONWithRecovery reads and parses path into out. A missing file leaves
// out untouched and returns nil. A file that exists but does not parse is
// recovered from the newest parseable backup under the policy: the backup
// value fills out and the live file is rewritten with the recovered bytes so
// the next read no longer recovers. When no backup parses, out is left
// untouched. Absence and corruption are never errors.
func ReadJSONWithRecovery(path string, policy BackupPolicy, out any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("safeio: read %s: %w", path, err)
	}
	if decodeJSON(raw, out) {
		return nil
	}

	backups, err := ListBackups(path, policy)
	if err != nil {
		return nil
	}
	for _, b := range backups {
		data, err := os.ReadFile(b)
		if err != nil {
			continue
		}
		if !decodeJSON(data, out) {
			continue
		}
		// Heal the live file without rotating the corrupt bytes into
		// the backup tree.
		if err := Write(path, data, BackupPolicy{}); err != nil {
			return fmt.Errorf("safeio: heal %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// decodeJSON unmarshals data into out only when the full document decodes.
// json.Unmarshal fills fields as it goes, so a type mismatch halfway through
// a syntactically valid document would leave out partially populated; decoding
// into a scratch value of the same type keeps out untouched on failure.
func decodeJSON(data []byte, out any) bool {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return json.Unmarshal(data, out) == nil
	}
	scratch := reflect.New(rv.Elem().Type())
	if json.Unmarshal(data, scratch.Interface()) != nil {
		return false
	}
	rv.Elem().Set(scratch.Elem())
	return true
}

// ReadTextIfExists returns the contents of path and whether it exists. A
// missing file is ("", false, nil), never an error.
func ReadTextIfExists(path string) (string, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("safeio: read %s: %w", path, err)
	}
	return string(raw), true, nil
}

// ListBackups returns the backup files recorded for path, newest first.
func ListBackups(path string, policy BackupPolicy) ([]string, error) {
	if !policy.enabled() {
		return nil, nil
	}
	dir := policy.mirrorDir(path)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("safeio: list backups in %s: %w", dir, err)
	}
	prefix := filepath.Base(path) + "."
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, backupExt) {
			names = append(names, name)
		}
	}
	// Suffixes are zero-padded unix millis, so lexicographic order is
	// chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out, nil
}

// backup copies the previous content of path into the backup tree under a
// monotonically distinguishable suffix.
func backup(path string, prev []byte, policy BackupPolicy) error {
	dir := policy.mirrorDir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("safeio: create backup directory %s: %w", dir, err)
	}
	ts := time.Now().UnixMilli()
	for {
		name := fmt.Sprintf("%s.%013d%s", filepath.Base(path), ts, backupExt)
		target := filepath.Join(dir, name)
		if _, err := os.Stat(target); err == nil {
			ts++
			continue
		}
		if err := os.WriteFile(target, prev, 0o600); err != nil {
			return fmt.Errorf("safeio: write backup %s: %w", target, err)
		}
		return nil
	}
}

// prune discards the oldest backups for path beyond the policy bound.
func prune(path string, policy BackupPolicy) error {
	backups, err := ListBackups(path, policy)
	if err != nil {
		return err
	}
	for _, b := range backups[min(len(backups), policy.limit()):] {
		if err := os.Remove(b); err != nil {
			return fmt.Errorf("safeio: prune backup %s: %w", b, err)
		}
	}
	return nil
}
