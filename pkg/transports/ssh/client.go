package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/transports"
)

// Client implements transports.Transport and transports.FileTransport
// over a single SSH connection to the control node.
type Client struct {
	config *Config

	mu          sync.Mutex
	client      *ssh.Client
	connectedAt time.Time
}

// NewClient creates an SSH transport from config. The connection is
// established lazily on first use; call Connect to surface dial and
// authentication problems early.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection, replacing a dead one if needed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if err := c.pingLocked(); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
		c.client = nil
	}

	return c.dialLocked(ctx)
}

// Connected reports whether the transport currently holds a connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// HealthCheck verifies the connection is alive and the remote side responds.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.ensure(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return &transports.TransportError{
			Op:  "healthcheck",
			Err: fmt.Errorf("not connected"),
		}
	}
	if err := c.pingLocked(); err != nil {
		return &transports.TransportError{
			Op:          "healthcheck",
			Err:         err,
			IsTemporary: true,
		}
	}
	return nil
}

// Run executes cmd on the remote host in a fresh session.
func (c *Client) Run(ctx context.Context, cmd transports.Command) (*transports.Result, error) {
	if cmd.Name == "" {
		return nil, &transports.TransportError{
			Op:  "exec",
			Err: fmt.Errorf("command name is required"),
		}
	}

	client, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &transports.TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	line := commandLine(cmd)

	log.Debug().
		Str("host", c.config.Host).
		Str("command", cmd.Name).
		Msg("executing remote command")

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		// Best effort: ask the remote side to stop before giving up.
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		return nil, &transports.TransportError{
			Op:          "exec",
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case runErr = <-done:
	}

	result := &transports.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			log.Debug().
				Str("host", c.config.Host).
				Int("exit_code", result.ExitCode).
				Dur("duration", result.Duration).
				Msg("remote command finished")
			return result, nil
		}
		return nil, &transports.TransportError{
			Op:          "exec",
			Err:         runErr,
			IsTemporary: true,
		}
	}

	log.Debug().
		Str("host", c.config.Host).
		Int("exit_code", 0).
		Dur("duration", result.Duration).
		Msg("remote command finished")

	return result, nil
}

// Upload copies a local file to the remote host via SFTP, creating parent
// directories as needed.
func (c *Client) Upload(ctx context.Context, localPath string, remotePath string, mode uint32) error {
	client, err := c.ensure(ctx)
	if err != nil {
		return err
	}

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("uploading file")

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create sftp client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return &transports.TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to open local file: %w", err),
		}
	}
	defer local.Close()

	// Remote paths are always POSIX.
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &transports.TransportError{
				Op:  "upload",
				Err: fmt.Errorf("failed to create remote directory: %w", err),
			}
		}
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remote.Close()

	written, err := copyWithContext(ctx, remote, local)
	if err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
		}
	}

	if mode > 0 {
		if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
			log.Warn().Err(err).Str("path", remotePath).Msg("failed to set remote file mode")
		}
	}

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", written).
		Msg("file uploaded")

	return nil
}

// Close shuts down the SSH connection. The client may be reused: the next
// Run or Upload dials again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	log.Debug().
		Str("host", c.config.Host).
		Dur("connected_for", time.Since(c.connectedAt)).
		Msg("closing SSH connection")

	err := c.client.Close()
	c.client = nil

	if err != nil {
		return &transports.TransportError{Op: "close", Err: err}
	}
	return nil
}

// ensure returns a live connection, dialing on first use.
func (c *Client) ensure(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		if err := c.dialLocked(ctx); err != nil {
			return nil, err
		}
	}
	return c.client, nil
}

// dialLocked establishes the connection. Callers hold c.mu.
func (c *Client) dialLocked(ctx context.Context) error {
	clientConfig, err := c.config.BuildClientConfig()
	if err != nil {
		return &transports.TransportError{
			Op:          "connect",
			Err:         err,
			IsAuthError: true,
		}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connCh := make(chan *ssh.Client, 1)
	errCh := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- client
	}()

	select {
	case <-ctx.Done():
		return &transports.TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case err := <-errCh:
		return &transports.TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
		}
	case client := <-connCh:
		c.client = client
		c.connectedAt = time.Now()
		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// pingLocked runs a trivial command to probe the connection. Callers hold
// c.mu with c.client non-nil.
func (c *Client) pingLocked() error {
	session, err := c.client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run("true")
}

// commandLine renders cmd as a single shell line. Arguments are quoted,
// Dir becomes a cd prefix and Env entries become VAR=value assignments so
// no server-side AcceptEnv configuration is needed.
func commandLine(cmd transports.Command) string {
	var b strings.Builder

	if cmd.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(shellQuote(cmd.Dir))
		b.WriteString(" && ")
	}

	keys := make([]string, 0, len(cmd.Env))
	for k := range cmd.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(shellQuote(cmd.Env[k]))
		b.WriteString(" ")
	}

	b.WriteString(shellQuote(cmd.Name))
	for _, arg := range cmd.Args {
		b.WriteString(" ")
		b.WriteString(shellQuote(arg))
	}

	return b.String()
}

// shellQuote single-quotes s for POSIX shells when it contains anything
// beyond plain word characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>()*?[]#~%{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// copyWithContext copies src to dst, checking for cancellation between
// chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
