// Package layer resolves the canonical file and directory paths for one
// configuration root (conventionally a `.agents` directory). Every path used
// by a repository or resolver derives from the layer root plus a fixed
// relative suffix; nothing is accepted from artifact content without
// sanitization.
package layer

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/entrhq/agentdir/pkg/safeio"
)

// Fixed names inside a layer root.
const (
	SettingsFileName     = "speakmcp-settings.json"
	MCPConfigFileName    = "mcp.json"
	ModelsFileName       = "models.json"
	LayoutsDirName       = "layouts"
	LayoutFileName       = "ui.json"
	SystemPromptFileName = "system-prompt.md"
	AgentsFileName       = "agents.md"
	MemoriesDirName      = "memories"
	SkillsDirName        = "skills"
	TasksDirName         = "tasks"
	ProfilesDirName      = "agents"
	BackupsDirName       = ".backups"
)

// Layer is one configuration root contributing artifacts and settings.
type Layer struct {
	Root string
}

// New returns a layer rooted at dir.
func New(dir string) Layer {
	return Layer{Root: dir}
}

// SettingsPath is the general settings bucket.
func (l Layer) SettingsPath() string { return filepath.Join(l.Root, SettingsFileName) }

// MCPConfigPath is the tooling bucket.
func (l Layer) MCPConfigPath() string { return filepath.Join(l.Root, MCPConfigFileName) }

// ModelsPath is the model configuration bucket.
func (l Layer) ModelsPath() string { return filepath.Join(l.Root, ModelsFileName) }

// LayoutPath is the UI layout bucket.
func (l Layer) LayoutPath() string { return filepath.Join(l.Root, LayoutsDirName, LayoutFileName) }

// SystemPromptPath is the system prompt override document.
func (l Layer) SystemPromptPath() string { return filepath.Join(l.Root, SystemPromptFileName) }

// AgentsFilePath is the free-form agent instructions document.
func (l Layer) AgentsFilePath() string { return filepath.Join(l.Root, AgentsFileName) }

// MemoriesDir holds one markdown file per memory.
func (l Layer) MemoriesDir() string { return filepath.Join(l.Root, MemoriesDirName) }

// SkillsDir holds nested skill folders, each with a skill.md.
func (l Layer) SkillsDir() string { return filepath.Join(l.Root, SkillsDirName) }

// TasksDir holds one directory per scheduled task.
func (l Layer) TasksDir() string { return filepath.Join(l.Root, TasksDirName) }

// ProfilesDir holds one directory per agent profile.
func (l Layer) ProfilesDir() string { return filepath.Join(l.Root, ProfilesDirName) }

// BackupsDir mirrors the layer's relative structure for rotated backups.
func (l Layer) BackupsDir() string { return filepath.Join(l.Root, BackupsDirName) }

// Backups returns the backup policy covering paths under this layer.
func (l Layer) Backups(max int) safeio.BackupPolicy {
	return safeio.BackupPolicy{Dir: l.BackupsDir(), Base: l.Root, Max: max}
}

// SanitizeName maps an arbitrary identifier to a filesystem-safe name. Any
// character outside [A-Za-z0-9._-] is replaced with '-'; when a replacement
// happened, a short content hash of the original is appended so distinct
// identifiers cannot collide on the sanitized form. The mapping is stable
// across calls and idempotent on already-safe names.
func SanitizeName(name string) string {
	if name == "" {
		return "unnamed"
	}
	out := make([]byte, 0, len(name))
	changed := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			out = append(out, c)
		default:
			out = append(out, '-')
			changed = true
		}
	}
	if !changed {
		return string(out)
	}
	sum := sha256.Sum256([]byte(name))
	return string(out) + "-" + hex.EncodeToString(sum[:4])
}
