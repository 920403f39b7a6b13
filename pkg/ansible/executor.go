package ansible

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
	"github.com/bridgecrew-perf6/tdp-lib/pkg/transports"
)

// Defaults applied by NewExecutor.
const (
	DefaultBinary     = "ansible-playbook"
	DefaultRemoteDir  = "/tmp/tdp"
	DefaultOutputTail = 4096
)

// Ansible exits with 4 when hosts were unreachable. Everything else
// non-zero is a task or usage failure.
const exitUnreachable = 4

// Config holds executor configuration.
type Config struct {
	// Playbooks maps node IDs to explicit playbook paths, as collected
	// from loaded collections. It is consulted before PlaybookDir.
	Playbooks map[string]string

	// PlaybookDir holds one playbook per graph node: <node id>.yml.
	// For a remote transport this is a path on the control node.
	PlaybookDir string

	// RunDir is the working directory ansible-playbook is launched in.
	// Empty leaves the transport's default directory in effect.
	RunDir string

	// Inventory is passed via -i when non-empty.
	Inventory string

	// ExtraVars are passed to every invocation through a JSON vars
	// file (--extra-vars @file).
	ExtraVars map[string]interface{}

	// ExtraArgs are appended verbatim to every invocation.
	ExtraArgs []string

	// Binary overrides the ansible-playbook executable.
	Binary string

	// RemoteDir is where vars files are staged when the transport can
	// upload files.
	RemoteDir string

	// DryRun reports every step as succeeded without invoking the tool.
	DryRun bool

	// OutputTail caps how much trailing tool output lands in outcome
	// messages and error details.
	OutputTail int
}

// Executor runs plan steps by invoking ansible-playbook through a
// transport. It implements engine.Executor.
type Executor struct {
	cfg       Config
	transport transports.Transport
}

// NewExecutor creates an executor from cfg, running commands over
// transport.
func NewExecutor(cfg Config, transport transports.Transport) (*Executor, error) {
	if cfg.PlaybookDir == "" && len(cfg.Playbooks) == 0 {
		return nil, fmt.Errorf("playbook directory or playbook map is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = DefaultRemoteDir
	}
	if cfg.OutputTail <= 0 {
		cfg.OutputTail = DefaultOutputTail
	}

	return &Executor{cfg: cfg, transport: transport}, nil
}

// Execute invokes the step's playbook and maps the result into an
// outcome. Unreachable-host failures and transport problems come back as
// classified errors so the runner can retry them; tool-reported task
// failures come back as failure outcomes.
func (e *Executor) Execute(ctx context.Context, step engine.Step) (*engine.Outcome, error) {
	playbook := e.playbookPath(step)

	if e.cfg.DryRun {
		log.Info().
			Str("node_id", step.NodeID).
			Str("operation", string(step.Operation)).
			Str("playbook", playbook).
			Msg("dry-run, skipping execution")
		return &engine.Outcome{
			Status:  engine.RecordStatusSuccess,
			Message: "dry-run: " + filepath.Base(playbook),
		}, nil
	}

	args := []string{playbook}
	if e.cfg.Inventory != "" {
		args = append(args, "-i", e.cfg.Inventory)
	}

	if len(e.cfg.ExtraVars) > 0 {
		varsPath, cleanup, err := e.stageExtraVars(ctx)
		if err != nil {
			return nil, e.classify(err, step)
		}
		defer cleanup()
		args = append(args, "--extra-vars", "@"+varsPath)
	}

	args = append(args, e.cfg.ExtraArgs...)

	log.Debug().
		Str("node_id", step.NodeID).
		Str("operation", string(step.Operation)).
		Str("playbook", playbook).
		Msg("invoking ansible-playbook")

	result, err := e.transport.Run(ctx, transports.Command{
		Name: e.cfg.Binary,
		Args: args,
		Dir:  e.cfg.RunDir,
	})
	if err != nil {
		return nil, e.classify(err, step)
	}

	return e.outcome(step, result)
}

// playbookPath maps a step to its playbook on the control node.
func (e *Executor) playbookPath(step engine.Step) string {
	if p, ok := e.cfg.Playbooks[step.NodeID]; ok {
		return p
	}
	return filepath.Join(e.cfg.PlaybookDir, step.NodeID+".yml")
}

// stageExtraVars writes the configured extra vars to a JSON file the tool
// can read. With a file-capable transport the control node is remote, so
// the file is uploaded there and the remote path returned.
func (e *Executor) stageExtraVars(ctx context.Context) (string, func(), error) {
	data, err := json.Marshal(e.cfg.ExtraVars)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode extra vars: %w", err)
	}

	tmp, err := os.CreateTemp("", "tdp-vars-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create vars file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("failed to write vars file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("failed to close vars file: %w", err)
	}

	cleanup := func() { os.Remove(tmp.Name()) }

	if ft, ok := e.transport.(transports.FileTransport); ok {
		remotePath := path.Join(e.cfg.RemoteDir, filepath.Base(tmp.Name()))
		if err := ft.Upload(ctx, tmp.Name(), remotePath, 0o600); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("failed to upload vars file: %w", err)
		}
		return remotePath, cleanup, nil
	}

	return tmp.Name(), cleanup, nil
}

// outcome translates a finished invocation into the engine's terms.
func (e *Executor) outcome(step engine.Step, result *transports.Result) (*engine.Outcome, error) {
	switch result.ExitCode {
	case 0:
		log.Info().
			Str("node_id", step.NodeID).
			Dur("duration", result.Duration).
			Msg("playbook succeeded")
		return &engine.Outcome{
			Status:  engine.RecordStatusSuccess,
			Message: lastLine(result.Stdout),
		}, nil

	case exitUnreachable:
		// Unreachable hosts are an infrastructure problem, not a task
		// failure: classify as transient so the runner retries.
		return nil, engine.NewTransientError(
			"ansible-playbook reported unreachable hosts",
			fmt.Errorf("exit code %d: %s", result.ExitCode, tail(combined(result), e.cfg.OutputTail)),
		).WithNode(step.NodeID).WithDetail("exit_code", result.ExitCode)

	default:
		log.Warn().
			Str("node_id", step.NodeID).
			Int("exit_code", result.ExitCode).
			Msg("playbook failed")
		return &engine.Outcome{
			Status:  engine.RecordStatusFailure,
			Message: fmt.Sprintf("ansible-playbook exited with code %d: %s", result.ExitCode, tail(combined(result), e.cfg.OutputTail)),
		}, nil
	}
}

// classify translates invocation errors into engine error classes so the
// runner can decide whether to retry.
func (e *Executor) classify(err error, step engine.Step) error {
	if errors.Is(err, exec.ErrNotFound) {
		return engine.NewPermanentError(
			fmt.Sprintf("%s not found on the control node", e.cfg.Binary), err,
		).WithNode(step.NodeID)
	}

	var transportErr *transports.TransportError
	if errors.As(err, &transportErr) && transportErr.Temporary() {
		return engine.NewTransientError("transport failure invoking ansible-playbook", err).
			WithNode(step.NodeID)
	}

	return engine.NewPermanentError("failed to invoke ansible-playbook", err).
		WithNode(step.NodeID)
}

// combined merges stdout and stderr for diagnostics, stderr last since
// ansible prints its final error there.
func combined(result *transports.Result) string {
	out := strings.TrimSpace(result.Stdout)
	errOut := strings.TrimSpace(result.Stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}

// tail returns at most max bytes from the end of s, starting at a line
// boundary when one falls inside the window.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[len(s)-max:]
	if i := strings.IndexByte(cut, '\n'); i >= 0 && i+1 < len(cut) {
		cut = cut[i+1:]
	}
	return cut
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
