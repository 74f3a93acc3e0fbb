package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/shipgate/shipgate/pkg/log"
	"github.com/shipgate/shipgate/pkg/metrics"
	"github.com/shipgate/shipgate/pkg/types"
)

const (
	// DefaultDialTimeout bounds a single connection attempt
	DefaultDialTimeout = 10 * time.Second

	// DefaultCommandTimeout bounds a single remote command
	DefaultCommandTimeout = 120 * time.Second

	// DefaultMaxRetries is the number of additional connection attempts
	// after the first one fails
	DefaultMaxRetries = 2

	// DefaultRetryBackoff is the base delay between connection attempts;
	// it doubles after every failure
	DefaultRetryBackoff = 2 * time.Second
)

// ConnectionError means the host could not be reached or authenticated.
// Connection errors are the only class the executor retries.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandLaunchError means a session was established but the command could
// not be started on it. Not retried: the host is reachable and re-running
// a partially applied command is not safe to assume.
type CommandLaunchError struct {
	Command string
	Err     error
}

func (e *CommandLaunchError) Error() string {
	return fmt.Sprintf("cannot launch remote command %q: %v", e.Command, e.Err)
}

func (e *CommandLaunchError) Unwrap() error {
	return e.Err
}

// Executor runs commands on a single remote host over SSH. One session is
// opened per command; the connection and session are torn down on every
// exit path.
type Executor struct {
	// Addr is the SSH endpoint, host:port
	Addr string

	// DialTimeout bounds each connection attempt
	DialTimeout time.Duration

	// CommandTimeout bounds each command; the remote process is signalled
	// and the session closed when it elapses
	CommandTimeout time.Duration

	// MaxRetries is how many times a failed connection is retried.
	// Command failures are never retried here.
	MaxRetries int

	// RetryBackoff is the base delay between connection attempts
	RetryBackoff time.Duration

	config *ssh.ClientConfig

	// dial is swappable for tests
	dial func(ctx context.Context) (*ssh.Client, error)
}

// NewExecutor creates an executor for one host. The caller supplies the
// SSH credentials; they are held only for the lifetime of the executor.
func NewExecutor(addr string, config *ssh.ClientConfig) *Executor {
	e := &Executor{
		Addr:           addr,
		DialTimeout:    DefaultDialTimeout,
		CommandTimeout: DefaultCommandTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryBackoff:   DefaultRetryBackoff,
		config:         config,
	}
	e.dial = e.dialSSH
	return e
}

// ClientConfig builds an ssh.ClientConfig from a user and a private key
// file. Host key verification is delegated to the known_hosts callback the
// caller chooses; InsecureIgnoreHostKey is used only when no callback is
// given, matching the trust model of the deploy scripts this replaces.
func ClientConfig(user, keyFile string, hostKey ssh.HostKeyCallback) (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey() // #nosec G106
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         DefaultDialTimeout,
	}, nil
}

// Run executes command on the remote host and captures its output. A
// non-zero exit status is a normal result. Connection failures are retried
// with backoff up to MaxRetries before a ConnectionError is returned.
func (e *Executor) Run(ctx context.Context, command string) (*types.CommandResult, error) {
	client, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return e.runSession(ctx, client, command)
}

// connect dials the host, retrying connection errors with doubling backoff
func (e *Executor) connect(ctx context.Context) (*ssh.Client, error) {
	logger := log.WithComponent("remote")

	var lastErr error
	backoff := e.RetryBackoff
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.RemoteRetriesTotal.Inc()
			logger.Warn().
				Str("addr", e.Addr).
				Int("attempt", attempt+1).
				Err(lastErr).
				Msg("Retrying connection")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &ConnectionError{Addr: e.Addr, Err: ctx.Err()}
			}
			backoff *= 2
		}

		client, err := e.dial(ctx)
		if err == nil {
			return client, nil
		}
		lastErr = err
	}

	return nil, &ConnectionError{Addr: e.Addr, Err: lastErr}
}

// dialSSH performs one connection attempt
func (e *Executor) dialSSH(ctx context.Context) (*ssh.Client, error) {
	d := net.Dialer{Timeout: e.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", e.Addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, e.Addr, e.config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// runSession opens one session, runs the command and tears the session
// down on every path
func (e *Executor) runSession(ctx context.Context, client *ssh.Client, command string) (*types.CommandResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, &CommandLaunchError{Command: command, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if e.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.CommandTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := session.Start(command); err != nil {
		return nil, &CommandLaunchError{Command: command, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		// Best effort: ask the remote side to die, then sever the session
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return &types.CommandResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
			TimedOut: true,
			ExitCode: -1,
		}, nil
	case waitErr := <-done:
		result := &types.CommandResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		metrics.RemoteCommandDuration.Observe(result.Duration.Seconds())
		if waitErr == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			// The command ran and failed: a semantic result, not a fault
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, &CommandLaunchError{Command: command, Err: waitErr}
	}
}
