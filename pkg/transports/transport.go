// Package transports runs commands on the control node that hosts the
// configuration-management tool: in-process for a local control node, or
// over SSH when the tool lives on a remote machine.
package transports

import (
	"context"
	"time"
)

// Command describes a single external process invocation.
type Command struct {
	// Name is the program to run.
	Name string

	// Args are passed verbatim, one argument per element.
	Args []string

	// Dir is the working directory for the invocation. Empty leaves the
	// transport's default directory in effect.
	Dir string

	// Env holds extra environment variables for this invocation only.
	Env map[string]string

	// Stdin is fed to the process when non-empty.
	Stdin string
}

// Result captures a finished command.
//
// A non-zero ExitCode is a normal Result, not an error. Errors are
// reserved for transport failures: the process could not start, the
// connection dropped, or the context was canceled.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Transport executes commands on a control node.
type Transport interface {
	// Run executes cmd and waits for it to finish.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// Close releases any resources held by the transport.
	Close() error
}

// FileTransport is implemented by transports that can stage working files
// on the control node before commands run there. The local transport does
// not implement it: files written locally are already in place.
type FileTransport interface {
	// Upload copies a local file to remotePath on the control node,
	// creating parent directories as needed. mode sets the remote file
	// permissions when non-zero.
	Upload(ctx context.Context, localPath string, remotePath string, mode uint32) error
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g. "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates the error may clear on retry
	IsTemporary bool

	// IsAuthError indicates the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
