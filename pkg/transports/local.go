package transports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Local runs commands as child processes on this machine.
type Local struct{}

// NewLocal returns a transport for a local control node.
func NewLocal() *Local {
	return &Local{}
}

// Run executes cmd via os/exec. The child inherits the current process
// environment with cmd.Env entries appended.
func (l *Local) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, &TransportError{
			Op:  "exec",
			Err: fmt.Errorf("command name is required"),
		}
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		env := os.Environ()
		for k, v := range cmd.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		c.Env = env
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	log.Debug().
		Str("command", cmd.Name).
		Strs("args", cmd.Args).
		Msg("executing local command")

	start := time.Now()
	err := c.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		// CommandContext kills the child on cancellation; report the
		// context error instead of the resulting signal exit.
		if ctx.Err() != nil {
			return nil, &TransportError{
				Op:          "exec",
				Err:         ctx.Err(),
				IsTemporary: true,
			}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			log.Debug().
				Str("command", cmd.Name).
				Int("exit_code", result.ExitCode).
				Dur("duration", result.Duration).
				Msg("local command finished")
			return result, nil
		}

		return nil, &TransportError{
			Op:  "exec",
			Err: fmt.Errorf("failed to execute command: %w", err),
		}
	}

	log.Debug().
		Str("command", cmd.Name).
		Int("exit_code", 0).
		Dur("duration", result.Duration).
		Msg("local command finished")

	return result, nil
}

// Close is a no-op for the local transport.
func (l *Local) Close() error {
	return nil
}
