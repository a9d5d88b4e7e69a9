// Package agentsconfig loads a single layer's settings, tooling, model and
// layout buckets plus its prompt documents, and merges a global layer with
// an optional workspace layer into one effective configuration, workspace
// taking precedence key-by-key.
package agentsconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/entrhq/agentdir/pkg/frontmatter"
	"github.com/entrhq/agentdir/pkg/layer"
	"github.com/entrhq/agentdir/pkg/safeio"
)

// Layer names recorded in merge provenance.
const (
	SourceGlobal    = "global"
	SourceWorkspace = "workspace"
)

// LayerConfig is one layer's loaded configuration.
type LayerConfig struct {
	// Config is the shallow merge of the four bucket objects.
	Config map[string]any
	// SystemPrompt is the explicit override body, or "" when unset. A
	// stored prompt identical to the caller's default is normalized back
	// to unset so "explicit override" stays distinguishable from "no
	// override".
	SystemPrompt string
	// AgentsInstructions is the body of the layer's agents.md.
	AgentsInstructions string
	// HasContent reports whether any bucket or prompt document exists.
	HasContent bool
}

// Merged is the effective configuration across layers.
type Merged struct {
	Config             map[string]any
	SystemPrompt       string
	AgentsInstructions string
	// HasAnyAgentsFiles is true when either layer had content, letting
	// callers distinguish "no configuration anywhere" from
	// "fully-default configuration".
	HasAnyAgentsFiles bool
	// Provenance records which layer supplied each config key.
	Provenance map[string]string
}

// Buckets partitions a flat configuration by fixed-purpose file.
type Buckets struct {
	Settings map[string]any
	MCP      map[string]any
	Models   map[string]any
	Layout   map[string]any
}

// LayerHasContent reports whether any of the layer's fixed bucket files or
// prompt documents exists on disk.
func LayerHasContent(l layer.Layer) bool {
	paths := []string{
		l.SettingsPath(),
		l.MCPConfigPath(),
		l.ModelsPath(),
		l.LayoutPath(),
		l.SystemPromptPath(),
		l.AgentsFilePath(),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// LoadLayer reads the layer's four JSON buckets (each recovered from backup
// when corrupt, defaulting to empty) and its two prompt documents. The
// buckets shallow-merge in settings, tooling, models, layout order.
func LoadLayer(l layer.Layer, defaultSystemPrompt string) (LayerConfig, error) {
	cfg := LayerConfig{Config: map[string]any{}}
	policy := l.Backups(safeio.DefaultMaxBackups)

	for _, path := range []string{l.SettingsPath(), l.MCPConfigPath(), l.ModelsPath(), l.LayoutPath()} {
		bucket := map[string]any{}
		if err := safeio.ReadJSONWithRecovery(path, policy, &bucket); err != nil {
			return LayerConfig{}, fmt.Errorf("agentsconfig: load bucket %s: %w", path, err)
		}
		for k, v := range bucket {
			cfg.Config[k] = v
		}
	}

	prompt, found, err := safeio.ReadTextIfExists(l.SystemPromptPath())
	if err != nil {
		return LayerConfig{}, err
	}
	if found {
		body := frontmatter.Parse(prompt).Body
		if strings.TrimSpace(body) != strings.TrimSpace(defaultSystemPrompt) {
			cfg.SystemPrompt = body
		}
	}

	agentsDoc, found, err := safeio.ReadTextIfExists(l.AgentsFilePath())
	if err != nil {
		return LayerConfig{}, err
	}
	if found {
		cfg.AgentsInstructions = frontmatter.Parse(agentsDoc).Body
	}

	cfg.HasContent = LayerHasContent(l)
	return cfg, nil
}

// MergeLayers combines the global layer with an optional workspace layer. A
// workspace without content leaves the result exactly the global
// configuration; otherwise workspace keys override global keys one by one.
func MergeLayers(global LayerConfig, workspace *LayerConfig) Merged {
	merged := Merged{
		Config:             map[string]any{},
		SystemPrompt:       global.SystemPrompt,
		AgentsInstructions: global.AgentsInstructions,
		HasAnyAgentsFiles:  global.HasContent,
		Provenance:         map[string]string{},
	}
	for k, v := range global.Config {
		merged.Config[k] = v
		merged.Provenance[k] = SourceGlobal
	}

	if workspace == nil || !workspace.HasContent {
		return merged
	}

	merged.HasAnyAgentsFiles = true
	for k, v := range workspace.Config {
		merged.Config[k] = v
		merged.Provenance[k] = SourceWorkspace
	}
	if workspace.SystemPrompt != "" {
		merged.SystemPrompt = workspace.SystemPrompt
	}
	if workspace.AgentsInstructions != "" {
		merged.AgentsInstructions = workspace.AgentsInstructions
	}
	return merged
}

// SplitConfigIntoBuckets partitions a flat configuration by key-name
// convention: mcp-prefixed keys go to the tooling bucket, model and provider
// prefixes to models, layout and ui prefixes to layout. Keys matching none
// of the conventions land in the settings bucket.
func SplitConfigIntoBuckets(cfg map[string]any) Buckets {
	b := Buckets{
		Settings: map[string]any{},
		MCP:      map[string]any{},
		Models:   map[string]any{},
		Layout:   map[string]any{},
	}
	for k, v := range cfg {
		lower := strings.ToLower(k)
		switch {
		case strings.HasPrefix(lower, "mcp"):
			b.MCP[k] = v
		case strings.HasPrefix(lower, "model"), strings.HasPrefix(lower, "provider"):
			b.Models[k] = v
		case strings.HasPrefix(lower, "layout"), strings.HasPrefix(lower, "ui"):
			b.Layout[k] = v
		default:
			b.Settings[k] = v
		}
	}
	return b
}

// SaveLayer splits cfg into buckets and persists each non-empty bucket to
// its fixed file, rotating prior content into the layer's backup tree. A
// bucket that emptied has its file removed so stale keys cannot resurface on
// the next load; SaveLayer followed by LoadLayer reproduces cfg exactly.
func SaveLayer(l layer.Layer, cfg map[string]any, maxBackups int) error {
	b := SplitConfigIntoBuckets(cfg)
	policy := l.Backups(maxBackups)

	targets := []struct {
		path   string
		bucket map[string]any
	}{
		{l.SettingsPath(), b.Settings},
		{l.MCPConfigPath(), b.MCP},
		{l.ModelsPath(), b.Models},
		{l.LayoutPath(), b.Layout},
	}
	for _, t := range targets {
		if len(t.bucket) == 0 {
			if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("agentsconfig: remove emptied bucket %s: %w", t.path, err)
			}
			continue
		}
		if err := safeio.WriteJSON(t.path, t.bucket, true, policy); err != nil {
			return fmt.Errorf("agentsconfig: save %s: %w", t.path, err)
		}
	}
	return nil
}
