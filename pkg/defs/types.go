package defs

import (
	"time"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

// Service is one service definition as declared in a collection's
// services directory or emitted by a generator.
type Service struct {
	// Name is the service name (e.g. "zookeeper").
	Name string `yaml:"name" validate:"required"`

	// DependsOn lists component references ("service" or
	// "service/component") the service-level operations depend on.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Operations are the service-level lifecycle operations, typically
	// noop ordering points over the component operations.
	Operations []Operation `yaml:"operations,omitempty" validate:"dive"`

	// Components are the service's components.
	Components []Component `yaml:"components,omitempty" validate:"dive"`
}

// Component is one component of a service.
type Component struct {
	// Name is the component name within its service.
	Name string `yaml:"name" validate:"required"`

	// DependsOn lists component references this component depends on.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Operations are the lifecycle operations the component declares.
	Operations []Operation `yaml:"operations" validate:"min=1,dive"`
}

// Operation is one declared lifecycle operation.
type Operation struct {
	// Kind is the operation kind. Only install, config and start are
	// declarable; stop and restart are planned over start nodes.
	Kind engine.Operation `yaml:"kind" validate:"required,oneof=install config start"`

	// Noop marks an ordering-only operation with no playbook.
	Noop bool `yaml:"noop,omitempty"`

	// DependsOn lists extra node IDs this operation depends on.
	DependsOn []string `yaml:"depends_on,omitempty"`
}

// Bundle is the merged result of loading a set of collections.
type Bundle struct {
	// Services are the merged service definitions, in declaration
	// order.
	Services []Service

	// Playbooks maps node IDs to the playbook path a collection ships
	// for them. Later collections override earlier ones.
	Playbooks map[string]string

	// SourceFiles are the definition and generator files that were
	// read.
	SourceFiles []string

	// LoadedAt is when the bundle was built.
	LoadedAt time.Time
}

// ServiceDefs converts the bundle into the resolved definition form
// consumed by engine.BuildGraph. Service-level operations become the
// unnamed component of their service.
func (b *Bundle) ServiceDefs() []engine.ServiceDef {
	out := make([]engine.ServiceDef, len(b.Services))
	for i, svc := range b.Services {
		out[i] = svc.toDef()
	}
	return out
}

func (s Service) toDef() engine.ServiceDef {
	def := engine.ServiceDef{Name: s.Name}
	if len(s.Operations) > 0 || len(s.DependsOn) > 0 {
		def.Components = append(def.Components, engine.ComponentDef{
			DependsOn:  append([]string(nil), s.DependsOn...),
			Operations: toOperationDefs(s.Operations),
		})
	}
	for _, comp := range s.Components {
		def.Components = append(def.Components, engine.ComponentDef{
			Name:       comp.Name,
			DependsOn:  append([]string(nil), comp.DependsOn...),
			Operations: toOperationDefs(comp.Operations),
		})
	}
	return def
}

func toOperationDefs(ops []Operation) []engine.OperationDef {
	out := make([]engine.OperationDef, len(ops))
	for i, op := range ops {
		out[i] = engine.OperationDef{
			Kind:      op.Kind,
			Noop:      op.Noop,
			DependsOn: append([]string(nil), op.DependsOn...),
		}
	}
	return out
}

// eachOperation visits every declared operation of every service, the
// service-level ones first, in declaration order.
func (b *Bundle) eachOperation(fn func(svc Service, component string, op Operation)) {
	for _, svc := range b.Services {
		for _, op := range svc.Operations {
			fn(svc, "", op)
		}
		for _, comp := range svc.Components {
			for _, op := range comp.Operations {
				fn(svc, comp.Name, op)
			}
		}
	}
}
