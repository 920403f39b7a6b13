// Package policy gates plan execution behind Open Policy Agent rules.
//
// Every plan is evaluated against a set of Rego policies before a run
// is created. Policies contribute deny rules; each denial becomes a
// violation, and any violation blocks the run. There are no advisory
// severities: a rule that should not block a run should not deny it
// (the lint in pkg/defs covers advisory findings).
//
// # Input Document
//
// Policies receive the plan as their input document:
//
//	{
//	    "action": "stop",
//	    "mode": "closure",
//	    "selection": {
//	        "all": false,
//	        "services": ["hdfs"],
//	        "components": []
//	    },
//	    "steps": [
//	        {
//	            "node_id": "hdfs_namenode_start",
//	            "service": "hdfs",
//	            "component": "namenode",
//	            "operation": "stop",
//	            "noop": false,
//	            "level": 0
//	        }
//	    ]
//	}
//
// Every key is always present; "component" is the empty string for
// service-level steps. For stop and restart plans "node_id" names the
// start node the step was planned over while "operation" carries what
// the runner will actually perform.
//
// Operator configuration is exposed as base data:
//
//	data.protected_services  list of service names
//	data.frozen              list of "service" or "service/component" refs
//	data.max_plan_steps      number, 0 means unlimited
//
// # Built-in Rules
//
// Three rules are compiled into every gate:
//
//  1. protected-services - denies stop plans that touch a protected
//     service
//  2. max-plan-steps - denies plans larger than the configured step
//     limit
//  3. frozen-components - denies restart plans that touch a frozen
//     service or component
//
// Each rule is quiet until its piece of Limits is configured, so a
// zero Limits gate passes every plan.
//
// # Custom Policies
//
// Additional rules are loaded from .rego files:
//
//	package custom.maintenance
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.action == "stop"
//	    some step in input.steps
//	    step.service == "hdfs"
//	    violation := {
//	        "rule": "maintenance-window",
//	        "message": "hdfs is under maintenance, stops are blocked",
//	        "node_id": step.node_id,
//	    }
//	}
//
// A denial may be an object with "rule", "message" and "node_id" keys,
// or a plain string; a missing rule falls back to the policy name (the
// file basename).
//
// # Hot Reload
//
// The Loader watches policy paths with fsnotify and invokes a reload
// callback, debounced, whenever a .rego file changes. Gate.LoadPolicies
// swaps the whole custom set atomically: deleted files drop their
// rules, and a load error leaves the previous set in place.
//
// # Evaluation
//
// Policies are parsed and prepared once, at construction or load time;
// Evaluate only runs the prepared queries. Evaluation fails closed: an
// error from any policy aborts the evaluation and blocks the run.
package policy
