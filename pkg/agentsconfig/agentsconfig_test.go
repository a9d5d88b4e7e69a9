package agentsconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/agentdir/pkg/layer"
	"github.com/entrhq/agentdir/pkg/safeio"
)

func testLayer(t *testing.T) layer.Layer {
	t.Helper()
	return layer.New(filepath.Join(t.TempDir(), ".agents"))
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, safeio.WriteJSON(path, v, true, safeio.BackupPolicy{}))
}

func TestLayerHasContent(t *testing.T) {
	l := testLayer(t)
	assert.False(t, LayerHasContent(l))

	writeJSON(t, l.SettingsPath(), map[string]any{"theme": "dark"})
	assert.True(t, LayerHasContent(l))
}

func TestLayerHasContentPromptOnly(t *testing.T) {
	l := testLayer(t)
	require.NoError(t, os.MkdirAll(l.Root, 0o750))
	require.NoError(t, os.WriteFile(l.SystemPromptPath(), []byte("be brief"), 0o600))
	assert.True(t, LayerHasContent(l))
}

func TestLoadLayerMergesBuckets(t *testing.T) {
	l := testLayer(t)
	writeJSON(t, l.SettingsPath(), map[string]any{"theme": "dark"})
	writeJSON(t, l.MCPConfigPath(), map[string]any{"mcpServers": map[string]any{"fs": map[string]any{}}})
	writeJSON(t, l.ModelsPath(), map[string]any{"modelId": "gpt"})
	writeJSON(t, l.LayoutPath(), map[string]any{"layoutSidebar": "left"})

	cfg, err := LoadLayer(l, "")
	require.NoError(t, err)
	assert.True(t, cfg.HasContent)
	assert.Equal(t, "dark", cfg.Config["theme"])
	assert.Equal(t, "gpt", cfg.Config["modelId"])
	assert.Equal(t, "left", cfg.Config["layoutSidebar"])
	assert.Contains(t, cfg.Config, "mcpServers")
}

func TestLoadLayerMissingEverything(t *testing.T) {
	l := testLayer(t)
	cfg, err := LoadLayer(l, "default prompt")
	require.NoError(t, err)
	assert.False(t, cfg.HasContent)
	assert.Empty(t, cfg.Config)
	assert.Empty(t, cfg.SystemPrompt)
}

func TestLoadLayerSystemPromptDefaultNormalizedToUnset(t *testing.T) {
	l := testLayer(t)
	require.NoError(t, os.MkdirAll(l.Root, 0o750))
	require.NoError(t, os.WriteFile(l.SystemPromptPath(), []byte("  the default prompt \n"), 0o600))

	cfg, err := LoadLayer(l, "the default prompt")
	require.NoError(t, err)
	assert.Empty(t, cfg.SystemPrompt, "a prompt identical to the default is not an override")
	assert.True(t, cfg.HasContent, "the file still counts as layer content")
}

func TestLoadLayerSystemPromptOverride(t *testing.T) {
	l := testLayer(t)
	require.NoError(t, os.MkdirAll(l.Root, 0o750))
	require.NoError(t, os.WriteFile(l.SystemPromptPath(), []byte("custom prompt"), 0o600))

	cfg, err := LoadLayer(l, "the default prompt")
	require.NoError(t, err)
	assert.Equal(t, "custom prompt", cfg.SystemPrompt)
}

func TestLoadLayerRecoversCorruptBucket(t *testing.T) {
	l := testLayer(t)
	policy := l.Backups(3)
	require.NoError(t, safeio.WriteJSON(l.SettingsPath(), map[string]any{"theme": "dark"}, false, policy))
	require.NoError(t, safeio.WriteJSON(l.SettingsPath(), map[string]any{"theme": "light"}, false, policy))
	require.NoError(t, os.WriteFile(l.SettingsPath(), []byte("{broken"), 0o600))

	cfg, err := LoadLayer(l, "")
	require.NoError(t, err)
	assert.Equal(t, "dark", cfg.Config["theme"])
}

func TestMergeLayersWorkspaceOverrides(t *testing.T) {
	global := LayerConfig{
		Config:     map[string]any{"autoSave": false, "theme": "dark"},
		HasContent: true,
	}
	workspace := &LayerConfig{
		Config:     map[string]any{"autoSave": true},
		HasContent: true,
	}

	merged := MergeLayers(global, workspace)
	assert.Equal(t, true, merged.Config["autoSave"])
	assert.Equal(t, "dark", merged.Config["theme"])
	assert.True(t, merged.HasAnyAgentsFiles)
	assert.Equal(t, SourceWorkspace, merged.Provenance["autoSave"])
	assert.Equal(t, SourceGlobal, merged.Provenance["theme"])
}

func TestMergeLayersEmptyWorkspaceIsGlobal(t *testing.T) {
	global := LayerConfig{
		Config:       map[string]any{"theme": "dark"},
		SystemPrompt: "global prompt",
		HasContent:   true,
	}
	workspace := &LayerConfig{Config: map[string]any{}}

	merged := MergeLayers(global, workspace)
	assert.Equal(t, "dark", merged.Config["theme"])
	assert.Equal(t, "global prompt", merged.SystemPrompt)
	assert.True(t, merged.HasAnyAgentsFiles)

	noWorkspace := MergeLayers(global, nil)
	assert.Equal(t, merged.Config, noWorkspace.Config)
}

func TestMergeLayersNoContentAnywhere(t *testing.T) {
	merged := MergeLayers(LayerConfig{Config: map[string]any{}}, nil)
	assert.False(t, merged.HasAnyAgentsFiles)
}

func TestSplitConfigIntoBuckets(t *testing.T) {
	cfg := map[string]any{
		"mcpServers":    map[string]any{},
		"mcpToolLimit":  5,
		"modelId":       "gpt",
		"providerOrder": []any{"a"},
		"layoutSidebar": "left",
		"uiScale":       1.5,
		"theme":         "dark",
		"somethingElse": true,
	}

	b := SplitConfigIntoBuckets(cfg)
	assert.Contains(t, b.MCP, "mcpServers")
	assert.Contains(t, b.MCP, "mcpToolLimit")
	assert.Contains(t, b.Models, "modelId")
	assert.Contains(t, b.Models, "providerOrder")
	assert.Contains(t, b.Layout, "layoutSidebar")
	assert.Contains(t, b.Layout, "uiScale")

	// Keys matching no convention default to the settings bucket.
	assert.Contains(t, b.Settings, "theme")
	assert.Contains(t, b.Settings, "somethingElse")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	l := testLayer(t)
	cfg := map[string]any{
		"theme":   "dark",
		"modelId": "gpt",
		"mcpMode": "auto",
		"uiScale": "large",
	}
	require.NoError(t, SaveLayer(l, cfg, 3))

	loaded, err := LoadLayer(l, "")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded.Config)
}

func TestSaveLayerRemovesEmptiedBuckets(t *testing.T) {
	l := testLayer(t)
	require.NoError(t, SaveLayer(l, map[string]any{"theme": "dark", "mcpMode": "auto"}, 3))

	// Dropping the tooling key must not leave the old mcp.json behind.
	require.NoError(t, SaveLayer(l, map[string]any{"theme": "dark"}, 3))

	_, err := os.Stat(l.MCPConfigPath())
	assert.True(t, os.IsNotExist(err), "emptied bucket file should be removed")

	loaded, err := LoadLayer(l, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark"}, loaded.Config, "deleted keys must not resurface")
}

func TestEndToEndLayerOverride(t *testing.T) {
	globalLayer := testLayer(t)
	workspaceLayer := testLayer(t)

	writeJSON(t, globalLayer.SettingsPath(), map[string]any{"autoSave": false})
	writeJSON(t, workspaceLayer.SettingsPath(), map[string]any{"autoSave": true})

	global, err := LoadLayer(globalLayer, "")
	require.NoError(t, err)
	workspace, err := LoadLayer(workspaceLayer, "")
	require.NoError(t, err)

	merged := MergeLayers(global, &workspace)
	assert.Equal(t, true, merged.Config["autoSave"])
	assert.True(t, merged.HasAnyAgentsFiles)
}
