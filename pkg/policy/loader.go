package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads .rego policy files and watches them for changes.
type Loader struct {
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFromPaths loads policies from a list of file and directory
// paths. Directories are walked recursively; files must have the
// .rego suffix.
func (l *Loader) LoadFromPaths(paths []string) ([]Policy, error) {
	var policies []Policy

	for _, path := range paths {
		loaded, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", path, err)
		}
		policies = append(policies, loaded...)
	}

	log.Debug().
		Int("policies", len(policies)).
		Int("paths", len(paths)).
		Msg("policy files loaded")

	return policies, nil
}

func (l *Loader) loadFromPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return l.loadFromDirectory(path)
	}

	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{*policy}, nil
}

// loadFromDirectory loads every .rego file under the directory.
// WalkDir visits files in lexical order, so load order is
// deterministic.
func (l *Loader) loadFromDirectory(dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}

		policy, err := l.loadFromFile(path)
		if err != nil {
			return err
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return policies, nil
}

// loadFromFile reads one .rego file into a Policy named after its
// basename.
func (l *Loader) loadFromFile(path string) (*Policy, error) {
	if !strings.HasSuffix(path, ".rego") {
		return nil, fmt.Errorf("not a .rego file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: l.extractDescription(string(data)),
		Rego:        string(data),
		Source:      path,
		LoadedAt:    time.Now(),
	}, nil
}

// extractDescription joins the leading comment block of a policy
// source, stopping at the first line of code.
func (l *Loader) extractDescription(content string) string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(comment)
			continue
		}
		if trimmed != "" {
			break
		}
	}
	return b.String()
}

// Watch watches the paths for .rego changes and invokes reload,
// debounced, whenever one is written, created, removed or renamed.
// The reload callback owns the actual loading so that one load serves
// both the initial Watch and every change. Watching stops when the
// context is cancelled.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cannot watch policy path")
			continue
		}
		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("cannot watch policy directory")
			}
			continue
		}
		if err := watcher.Add(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cannot watch policy file")
		}
	}

	go l.processEvents(ctx, reload)

	log.Info().Int("paths", len(paths)).Msg("watching policy paths")
	return nil
}

// watchDirectory adds a directory tree to the watcher. Watching the
// directories is enough; file events surface through their parent.
func (l *Loader) watchDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(path)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, reload func() error) {
	var timer *time.Timer
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDelay, func() {
			if err := reload(); err != nil {
				log.Error().Err(err).Msg("policy reload failed")
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			// A directory created under a watched path starts empty;
			// watch it so the files that land inside surface too.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := l.watcher.Add(event.Name); err != nil {
						log.Warn().Err(err).Str("path", event.Name).Msg("cannot watch new directory")
					}
					schedule()
					continue
				}
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".rego") {
				continue
			}

			log.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("policy file changed")
			schedule()

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("policy watcher error")
		}
	}
}

// Close stops watching. Safe to call when Watch was never started.
func (l *Loader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
