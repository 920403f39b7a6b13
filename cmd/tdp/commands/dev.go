package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/policy"
)

// revalidateDelay debounces bursts of file events into one reload.
const revalidateDelay = 500 * time.Millisecond

func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch collections and re-validate on change",
		Long: `Watch the configured collection paths and re-validate the definitions
whenever a file changes: collections are reloaded, the graph rebuilt
and lint findings logged. With a policy directory configured, policy
files are recompiled on change too.

Runs until interrupted. Intended for editing collections with instant
feedback; nothing is ever deployed from here.`,
		Example: `  tdp dev`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()
			ctx := cmd.Context()

			revalidate := func() {
				bundle, graph, err := app.buildGraph(ctx)
				if err != nil {
					log.Error().Err(err).Msg("definitions invalid")
					return
				}
				findings := bundle.Lint()
				for _, f := range findings {
					log.Warn().Str("rule", f.Rule).Str("node", f.Node).Msg(f.Message)
				}
				log.Info().
					Int("services", len(graph.Services())).
					Int("nodes", graph.Len()).
					Int("findings", len(findings)).
					Msg("definitions valid")
			}
			revalidate()

			if dir := app.settings.Policy.Dir; dir != "" {
				if err := watchPolicies(ctx, app, dir); err != nil {
					return err
				}
			}

			return watchCollections(ctx, app.settings.CollectionPaths, revalidate)
		},
	}

	return cmd
}

// watchPolicies compiles the policy directory once and recompiles on
// every change, so rule errors surface while editing.
func watchPolicies(ctx context.Context, app *app, dir string) error {
	compile := func() error {
		gate, err := app.newGate(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("policies", len(gate.Policies())).Msg("policies compiled")
		return nil
	}

	// A broken policy should not kill the watch session; it gets
	// recompiled on the next save.
	if err := compile(); err != nil {
		log.Error().Err(err).Msg("policies invalid")
	}

	return policy.NewLoader().Watch(ctx, []string{dir}, compile)
}

// watchCollections blocks, re-running revalidate on every definition,
// generator or playbook change under the collection paths.
func watchCollections(ctx context.Context, paths []string, revalidate func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, path := range paths {
		if err := watchTree(watcher, path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cannot watch collection")
		}
	}
	log.Info().Int("paths", len(paths)).Msg("watching collections")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(revalidateDelay, revalidate)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopChan:
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// New directories start empty; watch them so the files
			// that land inside surface too.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						log.Warn().Err(err).Str("path", event.Name).Msg("cannot watch new directory")
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !definitionFile(event.Name) {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("definition changed")
			schedule()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("collection watcher error")
		}
	}
}

// watchTree adds a directory and everything under it to the watcher.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// definitionFile reports whether a change to the file should trigger a
// reload: service definitions, generators and playbooks do.
func definitionFile(name string) bool {
	switch {
	case strings.HasSuffix(name, ".yml"), strings.HasSuffix(name, ".yaml"):
		return true
	case strings.HasSuffix(name, ".star"):
		return true
	default:
		return false
	}
}
