package defs

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages the CUE schemas that validate raw definition
// documents before struct decoding.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with the built-in
// schemas registered.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

// registerBuiltInSchemas registers all built-in schemas. The schema
// constants are compiled at startup, so a broken one is a programming
// error surfaced on first use.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("service", builtinServiceSchema, "#Service")
	sr.RegisterSchema("component", builtinServiceSchema, "#Component")
	sr.RegisterSchema("operation", builtinServiceSchema, "#Operation")
}

// RegisterSchema compiles source and registers the definition at
// defPath under the given name. Data is validated by unifying with the
// definition itself, so closedness applies and unknown fields are
// rejected.
func (sr *SchemaRegistry) RegisterSchema(name, source, defPath string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(defPath))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, defPath)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, name string, data interface{}) error {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions.
//
// Service and component names exclude underscores: node IDs join their
// segments with underscores, so separator-free names keep every ID
// unambiguous.

const builtinServiceSchema = `
// Service definition schema for collection service files.
#Service: {
	// name is the service name.
	name: string & =~"^[a-z][a-z0-9-]*$"

	// depends_on lists component references the service-level
	// operations depend on.
	depends_on?: [...string]

	// operations are the service-level lifecycle operations.
	operations?: [...#Operation]

	// components are the service's components.
	components?: [...#Component]
}

#Component: {
	// name is the component name within its service.
	name: string & =~"^[a-z][a-z0-9-]*$"

	// depends_on lists "service" or "service/component" references.
	depends_on?: [...string]

	// operations are the lifecycle operations the component declares.
	operations: [...#Operation]
}

#Operation: {
	// kind is the operation kind. Stop and restart are never declared;
	// they are planned over start nodes.
	kind: "install" | "config" | "start"

	// noop marks an ordering-only operation with no playbook.
	noop?: bool

	// depends_on lists extra node IDs this operation depends on.
	depends_on?: [...string]
}
`
