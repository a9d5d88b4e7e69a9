// Package profiles persists agent profiles, one directory per profile
// holding an agent.md document and, when needed, a companion config.json for
// the nested configuration that does not fit the flat frontmatter model.
package profiles

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

var ErrNotFound = errors.New("profiles: profile not found")

// File names inside each profile directory.
const (
	ProfileFileName = "agent.md"
	ConfigFileName  = "config.json"
)

// ConnectionType selects how the agent behind a profile is reached.
type ConnectionType string

const (
	ConnectionInternal ConnectionType = "internal"
	ConnectionACP      ConnectionType = "acp"
	ConnectionStdio    ConnectionType = "stdio"
	ConnectionRemote   ConnectionType = "remote"
)

// Valid reports whether c is one of the recognized transports.
func (c ConnectionType) Valid() bool {
	switch c {
	case ConnectionInternal, ConnectionACP, ConnectionStdio, ConnectionRemote:
		return true
	}
	return false
}

// Role classifies what a profile is for.
type Role string

const (
	RoleUserProfile      Role = "user-profile"
	RoleDelegationTarget Role = "delegation-target"
	RoleExternalAgent    Role = "external-agent"
)

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUserProfile, RoleDelegationTarget, RoleExternalAgent:
		return true
	}
	return false
}

// Connection holds the transport-specific fields kept in frontmatter.
// Additional transport extras live in the companion config's Connection map.
type Connection struct {
	Type    ConnectionType
	Command string
	Args    []string
	URL     string
}

// ExtraConfig is the nested configuration stored in config.json. The file is
// written only when the struct is non-empty and removed when an update
// empties it.
type ExtraConfig struct {
	ToolConfig   map[string]any `json:"toolConfig,omitempty"`
	ModelConfig  map[string]any `json:"modelConfig,omitempty"`
	SkillsConfig map[string]any `json:"skillsConfig,omitempty"`
	Connection   map[string]any `json:"connection,omitempty"`
}

// Empty reports whether e carries no configuration at all.
func (e *ExtraConfig) Empty() bool {
	return e == nil ||
		(len(e.ToolConfig) == 0 && len(e.ModelConfig) == 0 &&
			len(e.SkillsConfig) == 0 && len(e.Connection) == 0)
}

// Profile is one agent profile record. SystemPrompt is the document body.
type Profile struct {
	ID           string
	Name         string
	DisplayName  string
	Description  string
	Guidelines   string
	SystemPrompt string
	Connection   Connection
	Role         Role
	Enabled      bool
	IsBuiltIn    bool
	IsDefault    bool
	IsStateful   bool
	AutoSpawn    bool
	CreatedAt    int64
	UpdatedAt    int64
	Extra        *ExtraConfig
}

// LoadResult aggregates a profile directory scan.
type LoadResult struct {
	Profiles []*Profile
	Origin   store.Origin
	Issues   []store.Issue
}

// Store reads and writes profiles for one layer.
type Store struct {
	layer      layer.Layer
	maxBackups int
}

// NewStore returns a profile store over l with the default backup bound.
func NewStore(l layer.Layer) *Store {
	return &Store{layer: l, maxBackups: safeio.DefaultMaxBackups}
}

// DirForID maps a profile ID to its directory.
func (s *Store) DirForID(id string) string {
	return filepath.Join(s.layer.ProfilesDir(), layer.SanitizeName(id))
}

// PathForID maps a profile ID to its agent.md path.
func (s *Store) PathForID(id string) string {
	return filepath.Join(s.DirForID(id), ProfileFileName)
}

// ConfigPathForID maps a profile ID to its companion config.json path.
func (s *Store) ConfigPathForID(id string) string {
	return filepath.Join(s.DirForID(id), ConfigFileName)
}

// ParseOptions carries load-time context for Parse.
type ParseOptions struct {
	// FallbackID is used when the document has no id field, typically the
	// containing directory name.
	FallbackID string
	// FilePath supplies the modification-time fallback for timestamps.
	FilePath string
}

// Parse decodes an agent.md document. The companion config is attached
// separately by Load.
func Parse(text string, opts ParseOptions) (*Profile, bool) {
	doc := frontmatter.Parse(text)
	id, ok := store.DeriveID(doc.String("id"), opts.FallbackID, doc.String("name"))
	if !ok {
		return nil, false
	}

	created, updated := store.Timestamps(doc, opts.FilePath)
	connType := ConnectionType(doc.String("connectionType"))
	if !connType.Valid() {
		connType = ConnectionInternal
	}
	role := Role(doc.String("role"))
	if !role.Valid() {
		role = ""
	}

	return &Profile{
		ID:           id,
		Name:         store.SingleLine(doc.String("name")),
		DisplayName:  store.SingleLine(doc.String("displayName")),
		Description:  store.SingleLine(doc.String("description")),
		Guidelines:   store.SingleLine(doc.String("guidelines")),
		SystemPrompt: doc.Body,
		Connection: Connection{
			Type:    connType,
			Command: doc.String("connectionCommand"),
			Args:    doc.StringList("connectionArgs"),
			URL:     doc.String("connectionUrl"),
		},
		Role:       role,
		Enabled:    doc.Bool("enabled", true),
		IsBuiltIn:  doc.Bool("isBuiltIn", false),
		IsDefault:  doc.Bool("isDefault", false),
		IsStateful: doc.Bool("isStateful", false),
		AutoSpawn:  doc.Bool("autoSpawn", false),
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, true
}

// Stringify renders p's agent.md document. The companion config is written
// separately by Write.
func Stringify(p *Profile) string {
	doc := frontmatter.New()
	doc.Set("id", p.ID)
	doc.Set("name", store.SingleLine(p.Name))
	doc.Set("displayName", store.SingleLine(p.DisplayName))
	doc.Set("connectionType", string(p.Connection.Type))
	doc.SetBool("enabled", p.Enabled)
	doc.SetBool("isBuiltIn", p.IsBuiltIn)
	doc.SetBool("isDefault", p.IsDefault)
	doc.SetBool("isStateful", p.IsStateful)
	doc.SetBool("autoSpawn", p.AutoSpawn)
	doc.SetInt64("createdAt", p.CreatedAt)
	doc.SetInt64("updatedAt", p.UpdatedAt)
	if p.Description != "" {
		doc.Set("description", store.SingleLine(p.Description))
	}
	if p.Guidelines != "" {
		doc.Set("guidelines", store.SingleLine(p.Guidelines))
	}
	if p.Role != "" {
		doc.Set("role", string(p.Role))
	}
	if p.Connection.Command != "" {
		doc.Set("connectionCommand", p.Connection.Command)
	}
	if len(p.Connection.Args) > 0 {
		doc.SetStringList("connectionArgs", p.Connection.Args)
	}
	if p.Connection.URL != "" {
		doc.Set("connectionUrl", p.Connection.URL)
	}
	doc.Body = p.SystemPrompt
	return frontmatter.Serialize(doc)
}

// Load scans the layer's profiles directory. agent.md and config.json are
// read independently and merged into one record; a parseable companion on a
// broken agent.md does not resurrect the profile. Duplicate IDs resolve by
// greater updatedAt regardless of scan order.
func (s *Store) Load(_ context.Context) (*LoadResult, error) {
	result := &LoadResult{Origin: store.Origin{}}
	dir := s.layer.ProfilesDir()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profiles: list %s: %w", dir, err)
	}

	byID := map[string]*Profile{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		profileDir := filepath.Join(dir, e.Name())
		path := filepath.Join(profileDir, ProfileFileName)
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			result.Issues = append(result.Issues, store.Issue{Path: path, Reason: "missing " + ProfileFileName})
			continue
		}
		if err != nil {
			result.Issues = append(result.Issues, store.Issue{Path: path, Reason: err.Error()})
			continue
		}
		p, ok := Parse(string(raw), ParseOptions{FallbackID: e.Name(), FilePath: path})
		if !ok {
			result.Issues = append(result.Issues, store.Issue{Path: path, Reason: "no usable profile id"})
			continue
		}

		extra := &ExtraConfig{}
		configPath := filepath.Join(profileDir, ConfigFileName)
		if err := safeio.ReadJSONWithRecovery(configPath, s.layer.Backups(s.maxBackups), extra); err != nil {
			result.Issues = append(result.Issues, store.Issue{Path: configPath, Reason: err.Error()})
		}
		if !extra.Empty() {
			p.Extra = extra
		}

		if existing, dup := byID[p.ID]; dup && existing.UpdatedAt >= p.UpdatedAt {
			continue
		}
		byID[p.ID] = p
		result.Origin[p.ID] = path
	}

	for _, p := range byID {
		result.Profiles = append(result.Profiles, p)
	}
	return result, nil
}

// Write persists p: agent.md always, config.json only when the nested
// configuration is non-empty. An update that empties the nested
// configuration removes the companion file, keeping the on-disk footprint
// minimal.
func (s *Store) Write(_ context.Context, p *Profile) error {
	if p.ID == "" {
		p.ID = store.NewID("profile")
	}
	now := store.FileModMillis("")
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = now
	}
	if !p.Connection.Type.Valid() {
		p.Connection.Type = ConnectionInternal
	}

	policy := s.layer.Backups(s.maxBackups)
	path := s.PathForID(p.ID)
	if err := safeio.Write(path, []byte(Stringify(p)), policy); err != nil {
		return fmt.Errorf("profiles: write %s: %w", p.ID, err)
	}

	configPath := s.ConfigPathForID(p.ID)
	if p.Extra.Empty() {
		if err := os.Remove(configPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("profiles: remove empty config for %s: %w", p.ID, err)
		}
		return nil
	}
	if err := safeio.WriteJSON(configPath, p.Extra, true, policy); err != nil {
		return fmt.Errorf("profiles: write config for %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes the profile's directory. A missing profile is ErrNotFound.
func (s *Store) Delete(_ context.Context, id string) error {
	dir := s.DirForID(id)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("profiles: delete %s: %w", id, err)
	}
	return nil
}
