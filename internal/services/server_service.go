package services

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ServerServiceProvider defines the interface for server services.
type ServerServiceProvider interface {
	GetAllServers() ([]models.Server, error)
	GetServerByID(id string) (models.Server, error)
	CreateServer(server models.Server) (models.Server, error)
	UpdateServer(id string, server models.Server) (models.Server, error)
	DeleteServer(id string) error
	TestConnection(id string) error
	InitializeServer(id string) error
	GetVersion(id string) (string, error)
}

// ServerService provides business logic for managing registered hosts.
type ServerService struct {
	db           *sql.DB
	opener       SessionOpener
	eventService EventServiceProvider
}

// NewServerService creates a new ServerService.
func NewServerService(db *sql.DB, opener SessionOpener, eventService EventServiceProvider) *ServerService {
	return &ServerService{db: db, opener: opener, eventService: eventService}
}

const serverColumns = "id, name, host, port, postgres_port, username, ssh_key_content, initialized, created_at"

func scanServer(row interface{ Scan(...interface{}) error }) (models.Server, error) {
	var srv models.Server
	err := row.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.Port, &srv.PostgresPort,
		&srv.Username, &srv.SSHKeyContent, &srv.Initialized, &srv.CreatedAt)
	return srv, err
}

// GetAllServers lists every registered server.
func (s *ServerService) GetAllServers() ([]models.Server, error) {
	rows, err := s.db.Query("SELECT " + serverColumns + " FROM servers ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []models.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// GetServerByID fetches one server.
func (s *ServerService) GetServerByID(id string) (models.Server, error) {
	srv, err := scanServer(s.db.QueryRow("SELECT "+serverColumns+" FROM servers WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Server{}, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return srv, err
}

func validateServer(server models.Server) error {
	if server.Name == "" || server.Host == "" || server.Username == "" {
		return errors.New("name, host and username are required")
	}
	if server.SSHKeyContent == "" {
		return errors.New("SSH private key is required")
	}
	return nil
}

// CreateServer registers a host after verifying it is reachable.
func (s *ServerService) CreateServer(server models.Server) (models.Server, error) {
	if err := validateServer(server); err != nil {
		return models.Server{}, err
	}
	if server.Port == 0 {
		server.Port = 22
	}
	if server.PostgresPort == 0 {
		server.PostgresPort = 5432
	}

	if err := s.opener.Test(server); err != nil {
		return models.Server{}, fmt.Errorf("connection test failed: %w", err)
	}

	server.ID = uuid.New().String()
	_, err := s.db.Exec(
		"INSERT INTO servers (id, name, host, port, postgres_port, username, ssh_key_content) VALUES (?, ?, ?, ?, ?, ?, ?)",
		server.ID, server.Name, server.Host, server.Port, server.PostgresPort, server.Username, server.SSHKeyContent)
	if err != nil {
		return models.Server{}, err
	}

	s.eventService.CreateEvent("server.create", "info", fmt.Sprintf("Server '%s' registered", server.Name), &server.ID)
	log.Info().Str("server_id", server.ID).Str("host", server.Host).Msg("Server registered")
	return s.GetServerByID(server.ID)
}

// UpdateServer edits a host's connection details. A changed endpoint is
// re-tested before it is saved. An empty key keeps the stored one.
func (s *ServerService) UpdateServer(id string, server models.Server) (models.Server, error) {
	existing, err := s.GetServerByID(id)
	if err != nil {
		return models.Server{}, err
	}

	if server.SSHKeyContent == "" {
		server.SSHKeyContent = existing.SSHKeyContent
	}
	if server.Port == 0 {
		server.Port = existing.Port
	}
	if server.PostgresPort == 0 {
		server.PostgresPort = existing.PostgresPort
	}
	if err := validateServer(server); err != nil {
		return models.Server{}, err
	}

	if err := s.opener.Test(server); err != nil {
		return models.Server{}, fmt.Errorf("connection test failed: %w", err)
	}

	_, err = s.db.Exec(
		"UPDATE servers SET name = ?, host = ?, port = ?, postgres_port = ?, username = ?, ssh_key_content = ? WHERE id = ?",
		server.Name, server.Host, server.Port, server.PostgresPort, server.Username, server.SSHKeyContent, id)
	if err != nil {
		return models.Server{}, err
	}

	s.eventService.CreateEvent("server.update", "info", fmt.Sprintf("Server '%s' updated", server.Name), &id)
	return s.GetServerByID(id)
}

// DeleteServer removes a host and, via cascades, its databases, jobs and
// logs. Backups already in the object store are left untouched.
func (s *ServerService) DeleteServer(id string) error {
	server, err := s.GetServerByID(id)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec("DELETE FROM servers WHERE id = ?", id); err != nil {
		return err
	}

	s.eventService.CreateEvent("server.delete", "warn", fmt.Sprintf("Server '%s' removed", server.Name), nil)
	log.Info().Str("server_id", id).Msg("Server removed")
	return nil
}

// TestConnection dials the stored host and reports reachability.
func (s *ServerService) TestConnection(id string) error {
	server, err := s.GetServerByID(id)
	if err != nil {
		return err
	}
	return s.opener.Test(server)
}

// InitializeServer installs PostgreSQL and wal-g on the host if missing and
// marks the server initialized. Idempotent.
func (s *ServerService) InitializeServer(id string) error {
	server, err := s.GetServerByID(id)
	if err != nil {
		return err
	}

	session, err := s.opener.Open(server)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Manager.InstallPostgres(); err != nil {
		s.eventService.CreateEvent("server.initialize.failed", "error",
			fmt.Sprintf("PostgreSQL install on '%s' failed: %v", server.Name, err), &id)
		return err
	}
	if err := session.Manager.WalG.Install(); err != nil {
		s.eventService.CreateEvent("server.initialize.failed", "error",
			fmt.Sprintf("wal-g install on '%s' failed: %v", server.Name, err), &id)
		return err
	}
	if err := session.Manager.WalG.SetupLogRotation(); err != nil {
		log.Warn().Err(err).Str("server_id", id).Msg("Log rotation setup failed")
	}

	if _, err := s.db.Exec("UPDATE servers SET initialized = TRUE WHERE id = ?", id); err != nil {
		return err
	}

	s.eventService.CreateEvent("server.initialize.success", "info",
		fmt.Sprintf("Server '%s' initialized", server.Name), &id)
	return nil
}

// GetVersion reports the PostgreSQL server version on the host.
func (s *ServerService) GetVersion(id string) (string, error) {
	server, err := s.GetServerByID(id)
	if err != nil {
		return "", err
	}

	session, err := s.opener.Open(server)
	if err != nil {
		return "", err
	}
	defer session.Close()

	return session.Manager.Version()
}
