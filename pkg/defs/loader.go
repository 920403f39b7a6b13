package defs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultGeneratorTimeout bounds the execution of a single generator
// script.
const DefaultGeneratorTimeout = 30 * time.Second

// Loader reads, validates and merges service definitions from
// collection directories.
type Loader struct {
	schemas    *SchemaRegistry
	validate   *validator.Validate
	genTimeout time.Duration
}

// NewLoader creates a loader with the built-in schema registry.
func NewLoader() *Loader {
	return &Loader{
		schemas:    NewSchemaRegistry(),
		validate:   validator.New(),
		genTimeout: DefaultGeneratorTimeout,
	}
}

// Load reads every collection in order and returns the merged bundle.
// Later collections extend earlier ones; declaring the same operation
// node twice fails with an error naming both sources. Generators run
// after the YAML files of their own collection, so they see everything
// merged up to that point.
func (l *Loader) Load(ctx context.Context, paths []string) (*Bundle, error) {
	if len(paths) == 0 {
		return nil, engine.NewValidationError("no collection paths configured")
	}

	state := newMergeState()
	bundle := &Bundle{Playbooks: make(map[string]string)}

	for _, path := range paths {
		col, err := discoverCollection(path)
		if err != nil {
			return nil, err
		}

		for _, file := range col.services {
			source := col.sourceRef(file)
			svc, err := l.loadServiceFile(ctx, file, source)
			if err != nil {
				return nil, err
			}
			if err := state.merge(svc, source); err != nil {
				return nil, err
			}
		}

		for _, file := range col.generators {
			source := col.sourceRef(file)
			docs, err := l.runGenerator(ctx, file, state.snapshot(col.name))
			if err != nil {
				return nil, err
			}
			for _, doc := range docs {
				svc, err := l.decodeServiceDoc(ctx, doc, source)
				if err != nil {
					return nil, err
				}
				if err := state.merge(svc, source); err != nil {
					return nil, err
				}
			}
		}

		for id, playbook := range col.playbooks {
			bundle.Playbooks[id] = playbook
		}
		bundle.SourceFiles = append(bundle.SourceFiles, col.services...)
		bundle.SourceFiles = append(bundle.SourceFiles, col.generators...)
	}

	bundle.Services = state.services()
	bundle.LoadedAt = time.Now()

	log.Debug().
		Int("collections", len(paths)).
		Int("services", len(bundle.Services)).
		Int("playbooks", len(bundle.Playbooks)).
		Msg("definitions loaded")

	return bundle, nil
}

// collection is one discovered collection directory.
type collection struct {
	name       string
	path       string
	services   []string
	generators []string
	playbooks  map[string]string
}

// sourceRef renders a file path relative to the collection for error
// messages, e.g. "core/services/zookeeper.yml".
func (c collection) sourceRef(file string) string {
	rel, err := filepath.Rel(c.path, file)
	if err != nil {
		return c.name + "/" + filepath.Base(file)
	}
	return c.name + "/" + filepath.ToSlash(rel)
}

func discoverCollection(path string) (collection, error) {
	info, err := os.Stat(path)
	if err != nil {
		return collection{}, engine.NewValidationError("collection %s: %s", path, err)
	}
	if !info.IsDir() {
		return collection{}, engine.NewValidationError("collection %s is not a directory", path)
	}

	// Glob returns sorted paths, so load order within a collection is
	// deterministic.
	col := collection{name: filepath.Base(filepath.Clean(path)), path: path}
	col.services, _ = filepath.Glob(filepath.Join(path, "services", "*.yml"))
	col.generators, _ = filepath.Glob(filepath.Join(path, "generators", "*.star"))

	if len(col.services) == 0 && len(col.generators) == 0 {
		return collection{}, engine.NewValidationError(
			"collection %s contains no service definitions or generators", col.name)
	}

	playbookFiles, _ := filepath.Glob(filepath.Join(path, "playbooks", "*.yml"))
	col.playbooks = make(map[string]string, len(playbookFiles))
	for _, playbook := range playbookFiles {
		col.playbooks[strings.TrimSuffix(filepath.Base(playbook), ".yml")] = playbook
	}
	return col, nil
}

// loadServiceFile decodes one services/*.yml file. The raw document is
// validated against the CUE schema first so shape errors carry field
// paths, then decoded and checked with struct tags.
func (l *Loader) loadServiceFile(ctx context.Context, path, source string) (Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Service{}, engine.NewValidationError("failed to read %s: %s", source, err)
	}

	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Service{}, engine.NewValidationError("%s: %s", source, err)
	}
	if raw == nil {
		return Service{}, engine.NewValidationError("%s: empty service definition", source)
	}
	if err := l.schemas.ValidateAgainstSchema(ctx, "service", raw); err != nil {
		return Service{}, engine.NewValidationError("%s: %s", source, err)
	}

	var svc Service
	if err := yaml.Unmarshal(data, &svc); err != nil {
		return Service{}, engine.NewValidationError("%s: %s", source, err)
	}
	if err := l.checkService(svc); err != nil {
		return Service{}, engine.NewValidationError("%s: %s", source, err)
	}
	return svc, nil
}

// decodeServiceDoc validates and decodes one generator-emitted service
// document through the same path as a YAML file.
func (l *Loader) decodeServiceDoc(ctx context.Context, doc map[string]interface{}, source string) (Service, error) {
	if err := l.schemas.ValidateAgainstSchema(ctx, "service", doc); err != nil {
		return Service{}, engine.NewValidationError("%s: %s", source, err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return Service{}, engine.NewValidationError("%s: %s", source, err)
	}
	var svc Service
	if err := yaml.Unmarshal(data, &svc); err != nil {
		return Service{}, engine.NewValidationError("%s: %s", source, err)
	}
	if err := l.checkService(svc); err != nil {
		return Service{}, engine.NewValidationError("%s: %s", source, err)
	}
	return svc, nil
}

func (l *Loader) checkService(svc Service) error {
	if err := l.validate.Struct(svc); err != nil {
		return err
	}
	if len(svc.Operations) == 0 && len(svc.Components) == 0 {
		return fmt.Errorf("service %s declares no operations or components", svc.Name)
	}
	return nil
}

// mergeState accumulates services across collections, keeping
// first-declared order and tracking which source declared each
// operation node.
type mergeState struct {
	order    []string
	byName   map[string]*Service
	declared map[string]string
}

func newMergeState() *mergeState {
	return &mergeState{
		byName:   make(map[string]*Service),
		declared: make(map[string]string),
	}
}

func (m *mergeState) merge(svc Service, source string) error {
	if err := m.registerOps(svc.Name, "", svc.Operations, source); err != nil {
		return err
	}
	for _, comp := range svc.Components {
		if err := m.registerOps(svc.Name, comp.Name, comp.Operations, source); err != nil {
			return err
		}
	}

	existing, ok := m.byName[svc.Name]
	if !ok {
		m.order = append(m.order, svc.Name)
		added := svc
		m.byName[svc.Name] = &added
		return nil
	}

	existing.DependsOn = appendUnique(existing.DependsOn, svc.DependsOn)
	existing.Operations = append(existing.Operations, svc.Operations...)
	for _, comp := range svc.Components {
		target := existing.component(comp.Name)
		if target == nil {
			existing.Components = append(existing.Components, comp)
			continue
		}
		target.DependsOn = appendUnique(target.DependsOn, comp.DependsOn)
		target.Operations = append(target.Operations, comp.Operations...)
	}
	return nil
}

func (m *mergeState) registerOps(service, component string, ops []Operation, source string) error {
	for _, op := range ops {
		id := engine.NodeID(service, component, op.Kind)
		if first, ok := m.declared[id]; ok {
			return engine.NewValidationError(
				"node %s is declared twice: first in %s, again in %s", id, first, source)
		}
		m.declared[id] = source
	}
	return nil
}

func (m *mergeState) services() []Service {
	out := make([]Service, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.byName[name])
	}
	return out
}

// snapshot renders the services merged so far as plain documents for a
// generator's ctx argument.
func (m *mergeState) snapshot(collectionName string) map[string]interface{} {
	docs := make([]interface{}, 0, len(m.order))
	for _, name := range m.order {
		docs = append(docs, serviceDoc(*m.byName[name]))
	}
	return map[string]interface{}{
		"collection": collectionName,
		"services":   docs,
	}
}

func (s *Service) component(name string) *Component {
	for i := range s.Components {
		if s.Components[i].Name == name {
			return &s.Components[i]
		}
	}
	return nil
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		seen := false
		for _, d := range dst {
			if d == s {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, s)
		}
	}
	return dst
}
