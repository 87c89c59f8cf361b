package services

import (
	"time"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/postgres"
	"github.com/nexpostgres/nexpostgres/internal/sshexec"
)

// Session is one live SSH connection to a server wrapped in the host facade.
// A session is opened for the duration of a single operation or job run and
// closed unconditionally when it ends; nothing caches sessions across runs.
type Session struct {
	Manager *postgres.Manager
	closer  func() error
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// SessionOpener dials a server. Services depend on this interface so tests
// can substitute a scripted session.
type SessionOpener interface {
	Open(server models.Server) (*Session, error)
	Test(server models.Server) error
}

// SSHSessionOpener opens real SSH connections with the configured timeouts.
type SSHSessionOpener struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

func (o *SSHSessionOpener) options(server models.Server) sshexec.Options {
	return sshexec.Options{
		Host:           server.Host,
		Port:           server.Port,
		User:           server.Username,
		PrivateKey:     server.SSHKeyContent,
		ConnectTimeout: o.ConnectTimeout,
		CommandTimeout: o.CommandTimeout,
	}
}

// Open dials the server and wraps the connection in a Manager.
func (o *SSHSessionOpener) Open(server models.Server) (*Session, error) {
	client, err := sshexec.Dial(o.options(server))
	if err != nil {
		return nil, err
	}
	return &Session{Manager: postgres.NewManager(client), closer: client.Close}, nil
}

// Test dials the server and immediately disconnects.
func (o *SSHSessionOpener) Test(server models.Server) error {
	return sshexec.TestConnection(o.options(server))
}
