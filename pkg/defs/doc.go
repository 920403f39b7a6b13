// Package defs loads service definitions from collection directories
// and turns them into the resolved form the engine builds its
// dependency graph from.
//
// # Overview
//
// A deployment is described by one or more collections. A collection is
// a directory with a fixed layout:
//
//	<collection>/
//	    services/     one YAML file per service definition
//	    generators/   optional Starlark scripts emitting more services
//	    playbooks/    optional playbooks, one per graph node
//
// The loader reads collections in the order they are configured. Later
// collections extend earlier ones: they may add services, add
// components to existing services, and add operations to existing
// components. Declaring the same operation node twice is an error that
// names both sources.
//
// # Validation
//
// Raw documents are validated twice before use. A CUE schema checks
// the document shape (field names, operation kinds, name syntax) so a
// typo fails with a field-level message instead of decoding to a zero
// value. Struct tags then validate the decoded form. Structural rules
// that need the whole graph (dangling references, cycles, duplicate
// nodes) are left to engine.BuildGraph.
//
// # Generators
//
// A generator is a Starlark script that emits service definitions
// programmatically, for services that are mechanical to write out by
// hand (one exporter per service, one worker per shard). Each script
// must define:
//
//	def generate(ctx):
//	    # ctx["services"]   services merged so far, as plain dicts
//	    # ctx["collection"] name of the owning collection
//	    return [...]        # list of service dicts
//
// Generated services pass through the same validation and merging as
// YAML files. Execution is sandboxed: no filesystem or network access,
// print routed to debug logging, and a deadline enforced per script.
//
// # Lint
//
// Bundle.Lint reports suspicious but non-fatal declarations: start
// ordering that reaches into another service's install or config
// phase, install ordering that leaves the install phase, services
// without full lifecycle coverage, and noop flags that disagree with
// the playbooks a collection ships. Findings are warnings; deciding
// whether to fail on them is the caller's choice.
//
// # Thread Safety
//
// A Loader is safe for concurrent use. Bundles are immutable once
// returned.
package defs
