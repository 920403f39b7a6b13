package policy

import (
	"time"
)

// BuiltinPolicies returns the rules compiled into every gate. Each is
// quiet until the matching piece of Limits is configured.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedServicesPolicy(),
		maxPlanStepsPolicy(),
		frozenComponentsPolicy(),
	}
}

// protectedServicesPolicy denies stop plans that touch a service
// listed in data.protected_services.
func protectedServicesPolicy() Policy {
	return Policy{
		Name:        "protected-services",
		Description: "Denies stop plans that touch a protected service",
		Source:      "builtin",
		LoadedAt:    time.Now(),
		Rego: `package tdp.plan.protected

import rego.v1

deny contains violation if {
	input.action == "stop"
	some step in input.steps
	step.service in data.protected_services
	violation := {
		"rule": "protected-services",
		"message": sprintf("stop plan touches protected service %s", [step.service]),
		"node_id": step.node_id,
	}
}`,
	}
}

// maxPlanStepsPolicy denies plans larger than data.max_plan_steps.
func maxPlanStepsPolicy() Policy {
	return Policy{
		Name:        "max-plan-steps",
		Description: "Denies plans with more steps than the configured maximum",
		Source:      "builtin",
		LoadedAt:    time.Now(),
		Rego: `package tdp.plan.size

import rego.v1

deny contains violation if {
	data.max_plan_steps > 0
	count(input.steps) > data.max_plan_steps
	violation := {
		"rule": "max-plan-steps",
		"message": sprintf("plan has %d steps, the configured maximum is %d", [count(input.steps), data.max_plan_steps]),
	}
}`,
	}
}

// frozenComponentsPolicy denies restart plans that touch a service or
// component listed in data.frozen. Entries are "service" or
// "service/component" references; a bare service name freezes all of
// its components.
func frozenComponentsPolicy() Policy {
	return Policy{
		Name:        "frozen-components",
		Description: "Denies restart plans that touch a frozen service or component",
		Source:      "builtin",
		LoadedAt:    time.Now(),
		Rego: `package tdp.plan.frozen

import rego.v1

deny contains violation if {
	input.action == "restart"
	some step in input.steps
	frozen(step)
	violation := {
		"rule": "frozen-components",
		"message": sprintf("restart plan touches frozen component %s", [ref(step)]),
		"node_id": step.node_id,
	}
}

frozen(step) if {
	step.service in data.frozen
}

frozen(step) if {
	ref(step) in data.frozen
}

ref(step) := step.service if {
	step.component == ""
}

ref(step) := sprintf("%s/%s", [step.service, step.component]) if {
	step.component != ""
}`,
	}
}
