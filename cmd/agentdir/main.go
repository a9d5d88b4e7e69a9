// Package main provides the agentdir inspection CLI: list the artifacts of
// a layer, view the merged global+workspace configuration, export it, and
// stream change events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/agentdir/pkg/agentsconfig"
	"github.com/entrhq/agentdir/pkg/layer"
	"github.com/entrhq/agentdir/pkg/logging"
	"github.com/entrhq/agentdir/pkg/store"
	"github.com/entrhq/agentdir/pkg/store/memories"
	"github.com/entrhq/agentdir/pkg/store/profiles"
	"github.com/entrhq/agentdir/pkg/store/skills"
	"github.com/entrhq/agentdir/pkg/store/tasks"
	"github.com/entrhq/agentdir/pkg/watcher"
)

const version = "0.1.0"

const usage = `agentdir v%s - layered agent artifact store

Usage:
  agentdir <command> [flags]

Commands:
  memories    List memories in a layer (-delete <id> removes one)
  skills      List skills in a layer (-delete <id> removes one)
  tasks       List scheduled tasks in a layer (-delete <id> removes one)
  profiles    List agent profiles in a layer (-delete <id> removes one)
  config      Show the merged global+workspace configuration
  export      Export the merged configuration (json or yaml)
  watch       Stream change events for a layer
  version     Print the version

Common flags:
  -root       Layer root directory (default ~/.agents)
  -workspace  Optional workspace layer root for config/export
  -json       Emit JSON instead of text
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, version)
		os.Exit(2)
	}

	logger, _ := logging.NewLogger("cli")
	defer logger.Close()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "memories", "skills", "tasks", "profiles":
		err = runList(cmd, args, logger)
	case "config":
		err = runConfig(args, false)
	case "export":
		err = runConfig(args, true)
	case "watch":
		err = runWatch(args, logger)
	case "version":
		fmt.Printf("agentdir v%s\n", version)
	case "help", "-h", "--help":
		fmt.Printf(usage, version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprintf(os.Stderr, usage, version)
		os.Exit(2)
	}
	if err != nil {
		logger.Errorf("%s failed: %v", cmd, err)
		fmt.Fprintf(os.Stderr, "agentdir: %v\n", err)
		os.Exit(1)
	}
}

func defaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agents"
	}
	return filepath.Join(home, ".agents")
}

func layerFlags(fs *flag.FlagSet) (root *string, asJSON *bool) {
	root = fs.String("root", defaultRoot(), "layer root directory")
	asJSON = fs.Bool("json", false, "emit JSON instead of text")
	return root, asJSON
}

type listing struct {
	Count  int           `json:"count"`
	Items  []listItem    `json:"items"`
	Issues []store.Issue `json:"issues,omitempty"`
}

type listItem struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Origin  string `json:"origin"`
	Updated int64  `json:"updatedAt"`
}

func runList(kind string, args []string, logger *logging.Logger) error {
	fs := flag.NewFlagSet(kind, flag.ExitOnError)
	root, asJSON := layerFlags(fs)
	deleteID := fs.String("delete", "", "delete the entity with this ID instead of listing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	l := layer.New(*root)
	ctx := context.Background()

	if *deleteID != "" {
		if err := deleteEntity(ctx, kind, l, *deleteID); err != nil {
			return err
		}
		logger.Infof("deleted %s %s from %s", strings.TrimSuffix(kind, "s"), *deleteID, *root)
		fmt.Printf("deleted %s\n", *deleteID)
		return nil
	}

	var out listing
	switch kind {
	case "memories":
		result, err := memories.NewStore(l).Load(ctx)
		if err != nil {
			return err
		}
		out.Issues = result.Issues
		for _, m := range result.Memories {
			out.Items = append(out.Items, listItem{ID: m.ID, Label: m.Title, Origin: result.Origin[m.ID], Updated: m.UpdatedAt})
		}
	case "skills":
		result, err := skills.NewStore(l).Load(ctx)
		if err != nil {
			return err
		}
		out.Issues = result.Issues
		for _, sk := range result.Skills {
			out.Items = append(out.Items, listItem{ID: sk.ID, Label: sk.Name, Origin: result.Origin[sk.ID], Updated: sk.UpdatedAt})
		}
	case "tasks":
		result, err := tasks.NewStore(l).Load(ctx)
		if err != nil {
			return err
		}
		out.Issues = result.Issues
		for _, task := range result.Tasks {
			out.Items = append(out.Items, listItem{ID: task.ID, Label: task.Name, Origin: result.Origin[task.ID], Updated: task.UpdatedAt})
		}
	case "profiles":
		result, err := profiles.NewStore(l).Load(ctx)
		if err != nil {
			return err
		}
		out.Issues = result.Issues
		for _, p := range result.Profiles {
			out.Items = append(out.Items, listItem{ID: p.ID, Label: p.DisplayName, Origin: result.Origin[p.ID], Updated: p.UpdatedAt})
		}
	}

	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ID < out.Items[j].ID })
	out.Count = len(out.Items)
	logger.Debugf("listed %d %s from %s (%d issues)", out.Count, kind, *root, len(out.Issues))

	if *asJSON {
		return printJSON(out)
	}
	if out.Count == 0 {
		fmt.Printf("No %s found in %s\n", kind, *root)
	}
	for _, item := range out.Items {
		fmt.Printf("%-40s %s\n", item.ID, item.Label)
	}
	for _, issue := range out.Issues {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", issue.Path, issue.Reason)
	}
	return nil
}

func deleteEntity(ctx context.Context, kind string, l layer.Layer, id string) error {
	switch kind {
	case "memories":
		return memories.NewStore(l).Delete(ctx, id)
	case "skills":
		return skills.NewStore(l).Delete(ctx, id)
	case "tasks":
		return tasks.NewStore(l).Delete(ctx, id)
	case "profiles":
		return profiles.NewStore(l).Delete(ctx, id)
	}
	return fmt.Errorf("unknown entity kind %q", kind)
}

func runConfig(args []string, export bool) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	root, asJSON := layerFlags(fs)
	workspace := fs.String("workspace", "", "optional workspace layer root")
	format := fs.String("format", "json", "export format: json or yaml")
	prompt := fs.String("default-prompt", "", "default system prompt for override normalization")
	if err := fs.Parse(args); err != nil {
		return err
	}

	global, err := agentsconfig.LoadLayer(layer.New(*root), *prompt)
	if err != nil {
		return err
	}
	var ws *agentsconfig.LayerConfig
	if *workspace != "" {
		loaded, err := agentsconfig.LoadLayer(layer.New(*workspace), *prompt)
		if err != nil {
			return err
		}
		ws = &loaded
	}
	merged := agentsconfig.MergeLayers(global, ws)

	if export {
		switch *format {
		case "yaml":
			data, err := yaml.Marshal(merged.Config)
			if err != nil {
				return fmt.Errorf("encode yaml: %w", err)
			}
			os.Stdout.Write(data)
			return nil
		case "json":
			return printJSON(merged.Config)
		default:
			return fmt.Errorf("unknown format %q", *format)
		}
	}

	if *asJSON {
		return printJSON(merged)
	}
	fmt.Printf("hasAnyAgentsFiles: %v\n", merged.HasAnyAgentsFiles)
	if merged.SystemPrompt != "" {
		fmt.Println("systemPrompt: (overridden)")
	}
	keys := make([]string, 0, len(merged.Config))
	for k := range merged.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-30s %v  (%s)\n", k, merged.Config[k], merged.Provenance[k])
	}
	return nil
}

func runWatch(args []string, logger *logging.Logger) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	root, asJSON := layerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	w, err := watcher.New(layer.New(*root), watcher.DefaultDebounce)
	if err != nil {
		return err
	}
	defer w.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", *root)
	for {
		select {
		case <-sigChan:
			return nil
		case err := <-w.Errors():
			logger.Warnf("watch error: %v", err)
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case ev := <-w.Events():
			if *asJSON {
				if err := printJSON(ev); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("%s  %-14s %s\n", time.Now().Format(time.TimeOnly), ev.Kind, ev.Path)
		}
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
