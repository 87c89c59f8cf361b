package sshexec

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Result carries the outcome of one remote command. A non-zero exit code is
// not an error: callers inspect ExitCode explicitly.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Options describes how to reach a remote host.
type Options struct {
	Host           string
	Port           int
	User           string
	PrivateKey     string // PEM-encoded key content
	ConnectTimeout time.Duration
	CommandTimeout time.Duration // per command; zero means no timeout
}

// Client is a live SSH connection to one host. It is acquired for the
// duration of a single orchestration run and closed unconditionally on exit.
type Client struct {
	opts Options
	conn *ssh.Client
}

// Dial establishes an SSH connection using the key material in opts.
func Dial(opts Options) (*Client, error) {
	signer, err := ssh.ParsePrivateKey([]byte(opts.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 30 * time.Second
	}

	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // hosts are user-registered, no known_hosts store
		Timeout:         opts.ConnectTimeout,
	}

	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s@%s: %w", opts.User, addr, err)
	}

	log.Debug().Str("host", opts.Host).Int("port", opts.Port).Str("user", opts.User).Msg("SSH connection established")
	return &Client{opts: opts, conn: conn}, nil
}

// Run executes a command on the remote host. The returned error is reserved
// for transport failures (session setup, timeout); a command that ran and
// exited non-zero yields a nil error and the exit code in Result.
func (c *Client) Run(command string) (Result, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(command) }()

	var timeout <-chan time.Time
	if c.opts.CommandTimeout > 0 {
		timer := time.NewTimer(c.opts.CommandTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err = <-errCh:
	case <-timeout:
		session.Close()
		return Result{}, fmt.Errorf("command timed out after %s", c.opts.CommandTimeout)
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, fmt.Errorf("run command: %w", err)
	}
	return result, nil
}

// RunInput is Run with content piped to the command's stdin. Used to write
// remote files without shell-quoting their content.
func (c *Client) RunInput(command, input string) (Result, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdin = strings.NewReader(input)
	session.Stdout = &stdout
	session.Stderr = &stderr

	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(command) }()

	var timeout <-chan time.Time
	if c.opts.CommandTimeout > 0 {
		timer := time.NewTimer(c.opts.CommandTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err = <-errCh:
	case <-timeout:
		session.Close()
		return Result{}, fmt.Errorf("command timed out after %s", c.opts.CommandTimeout)
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, fmt.Errorf("run command: %w", err)
	}
	return result, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	log.Debug().Str("host", c.opts.Host).Msg("SSH connection closed")
	return err
}

// TestConnection dials the host and immediately disconnects. Used when a
// server is registered or edited.
func TestConnection(opts Options) error {
	client, err := Dial(opts)
	if err != nil {
		return err
	}
	return client.Close()
}
