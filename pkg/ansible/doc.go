// Package ansible adapts ansible-playbook to the engine's executor
// contract. Each graph node maps to one playbook named after the node ID;
// the executor invokes it through a transport, local or SSH, and
// translates the exit code into an outcome the runner can record.
package ansible
