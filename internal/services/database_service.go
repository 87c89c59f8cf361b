package services

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/postgres"
)

// DatabaseServiceProvider defines the interface for database services.
type DatabaseServiceProvider interface {
	GetAllDatabases() ([]models.Database, error)
	GetDatabasesByServer(serverID string) ([]models.Database, error)
	GetDatabaseByID(id string) (models.Database, error)
	CreateDatabase(serverID, name string) (models.Database, error)
	DeleteDatabase(id string) error
	SyncDatabases(serverID string) ([]models.Database, error)
	GetUsers(databaseID string) ([]models.DatabaseUser, error)
	CreateUser(databaseID, username, password string, combination string) (models.DatabaseUser, error)
	DeleteUser(databaseID, userID string) error
	GetPermissions(databaseID, username string) (models.PermissionSet, string, error)
	SetPermissions(databaseID, username string, set models.PermissionSet) error
}

// DatabaseService provides business logic for managed databases and their
// login roles.
type DatabaseService struct {
	db            *sql.DB
	opener        SessionOpener
	serverService ServerServiceProvider
	eventService  EventServiceProvider
}

// NewDatabaseService creates a new DatabaseService.
func NewDatabaseService(db *sql.DB, opener SessionOpener, serverService ServerServiceProvider, eventService EventServiceProvider) *DatabaseService {
	return &DatabaseService{db: db, opener: opener, serverService: serverService, eventService: eventService}
}

const databaseColumns = "id, server_id, name, size, created_at"

func scanDatabase(row interface{ Scan(...interface{}) error }) (models.Database, error) {
	var d models.Database
	var size sql.NullString
	err := row.Scan(&d.ID, &d.ServerID, &d.Name, &size, &d.CreatedAt)
	d.Size = size.String
	return d, err
}

func (s *DatabaseService) queryDatabases(query string, args ...interface{}) ([]models.Database, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dbs []models.Database
	for rows.Next() {
		d, err := scanDatabase(rows)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, d)
	}
	return dbs, rows.Err()
}

// GetAllDatabases lists every managed database.
func (s *DatabaseService) GetAllDatabases() ([]models.Database, error) {
	return s.queryDatabases("SELECT " + databaseColumns + " FROM databases ORDER BY name")
}

// GetDatabasesByServer lists the databases managed on one server.
func (s *DatabaseService) GetDatabasesByServer(serverID string) ([]models.Database, error) {
	return s.queryDatabases("SELECT "+databaseColumns+" FROM databases WHERE server_id = ? ORDER BY name", serverID)
}

// GetDatabaseByID fetches one managed database.
func (s *DatabaseService) GetDatabaseByID(id string) (models.Database, error) {
	d, err := scanDatabase(s.db.QueryRow("SELECT "+databaseColumns+" FROM databases WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Database{}, fmt.Errorf("database %s: %w", id, ErrNotFound)
	}
	return d, err
}

// CreateDatabase creates the database on the remote cluster and records it.
func (s *DatabaseService) CreateDatabase(serverID, name string) (models.Database, error) {
	if !postgres.ValidIdent(name) {
		return models.Database{}, fmt.Errorf("invalid database name %q", name)
	}

	server, err := s.serverService.GetServerByID(serverID)
	if err != nil {
		return models.Database{}, err
	}

	session, err := s.opener.Open(server)
	if err != nil {
		return models.Database{}, err
	}
	defer session.Close()

	if err := session.Manager.CreateDatabase(name); err != nil {
		return models.Database{}, err
	}

	id := uuid.New().String()
	if _, err := s.db.Exec("INSERT INTO databases (id, server_id, name) VALUES (?, ?, ?)", id, serverID, name); err != nil {
		return models.Database{}, err
	}

	s.eventService.CreateEvent("database.create", "info",
		fmt.Sprintf("Database '%s' created on server '%s'", name, server.Name), &serverID)
	return s.GetDatabaseByID(id)
}

// DeleteDatabase drops the database remotely and removes the record. Its
// backup history in the object store is left untouched.
func (s *DatabaseService) DeleteDatabase(id string) error {
	d, err := s.GetDatabaseByID(id)
	if err != nil {
		return err
	}
	server, err := s.serverService.GetServerByID(d.ServerID)
	if err != nil {
		return err
	}

	session, err := s.opener.Open(server)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Manager.DropDatabase(d.Name); err != nil {
		return err
	}

	if _, err := s.db.Exec("DELETE FROM databases WHERE id = ?", id); err != nil {
		return err
	}

	s.eventService.CreateEvent("database.delete", "warn",
		fmt.Sprintf("Database '%s' dropped on server '%s'", d.Name, server.Name), &d.ServerID)
	return nil
}

// SyncDatabases reconciles the local catalogue with what actually exists on
// the cluster: unknown remote databases are imported, sizes are refreshed,
// and local rows whose database vanished remotely are removed.
func (s *DatabaseService) SyncDatabases(serverID string) ([]models.Database, error) {
	server, err := s.serverService.GetServerByID(serverID)
	if err != nil {
		return nil, err
	}

	session, err := s.opener.Open(server)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	remote, err := session.Manager.ListDatabases()
	if err != nil {
		return nil, err
	}

	remoteByName := make(map[string]postgres.DatabaseInfo, len(remote))
	for _, info := range remote {
		if info.Name == "postgres" {
			continue // the maintenance database is not managed
		}
		remoteByName[info.Name] = info
	}

	local, err := s.GetDatabasesByServer(serverID)
	if err != nil {
		return nil, err
	}

	for _, d := range local {
		info, ok := remoteByName[d.Name]
		if !ok {
			if _, err := s.db.Exec("DELETE FROM databases WHERE id = ?", d.ID); err != nil {
				return nil, err
			}
			log.Warn().Str("database", d.Name).Str("server_id", serverID).Msg("Database vanished remotely, removed from catalogue")
			continue
		}
		if _, err := s.db.Exec("UPDATE databases SET size = ? WHERE id = ?", humanSize(info.SizeBytes), d.ID); err != nil {
			return nil, err
		}
		delete(remoteByName, d.Name)
	}

	for name, info := range remoteByName {
		if _, err := s.db.Exec("INSERT INTO databases (id, server_id, name, size) VALUES (?, ?, ?, ?)",
			uuid.New().String(), serverID, name, humanSize(info.SizeBytes)); err != nil {
			return nil, err
		}
	}

	return s.GetDatabasesByServer(serverID)
}

func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// GetUsers lists the managed login roles for a database.
func (s *DatabaseService) GetUsers(databaseID string) ([]models.DatabaseUser, error) {
	rows, err := s.db.Query(
		"SELECT id, database_id, username, password, is_primary, created_at FROM database_users WHERE database_id = ? ORDER BY username", databaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.DatabaseUser
	for rows.Next() {
		var u models.DatabaseUser
		if err := rows.Scan(&u.ID, &u.DatabaseID, &u.Username, &u.Password, &u.IsPrimary, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// sessionFor opens a session to the server hosting a database.
func (s *DatabaseService) sessionFor(databaseID string) (*Session, models.Database, error) {
	d, err := s.GetDatabaseByID(databaseID)
	if err != nil {
		return nil, models.Database{}, err
	}
	server, err := s.serverService.GetServerByID(d.ServerID)
	if err != nil {
		return nil, models.Database{}, err
	}
	session, err := s.opener.Open(server)
	if err != nil {
		return nil, models.Database{}, err
	}
	return session, d, nil
}

// CreateUser creates a login role on the cluster, applies the named
// permission combination and records the user.
func (s *DatabaseService) CreateUser(databaseID, username, password, combination string) (models.DatabaseUser, error) {
	if !postgres.ValidIdent(username) {
		return models.DatabaseUser{}, fmt.Errorf("invalid role name %q", username)
	}
	set, ok := models.CombinationSet(combination)
	if !ok {
		return models.DatabaseUser{}, fmt.Errorf("unknown permission combination %q", combination)
	}

	session, d, err := s.sessionFor(databaseID)
	if err != nil {
		return models.DatabaseUser{}, err
	}
	defer session.Close()

	if err := session.Manager.Users.EnsureUser(username, password); err != nil {
		return models.DatabaseUser{}, err
	}
	if err := session.Manager.Users.Grant(username, d.Name, set); err != nil {
		return models.DatabaseUser{}, err
	}

	user := models.DatabaseUser{ID: uuid.New().String(), DatabaseID: databaseID, Username: username}
	if _, err := s.db.Exec(
		"INSERT INTO database_users (id, database_id, username, password) VALUES (?, ?, ?, ?)",
		user.ID, databaseID, username, password); err != nil {
		return models.DatabaseUser{}, err
	}

	s.eventService.CreateEvent("database.user.create", "info",
		fmt.Sprintf("Role '%s' created on database '%s' with %s", username, d.Name, combination), &d.ServerID)
	return user, nil
}

// DeleteUser drops the role remotely and removes the record.
func (s *DatabaseService) DeleteUser(databaseID, userID string) error {
	var username string
	err := s.db.QueryRow("SELECT username FROM database_users WHERE id = ? AND database_id = ?", userID, databaseID).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	session, d, err := s.sessionFor(databaseID)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Manager.Users.DeleteUser(username); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM database_users WHERE id = ?", userID); err != nil {
		return err
	}

	s.eventService.CreateEvent("database.user.delete", "warn",
		fmt.Sprintf("Role '%s' dropped from database '%s'", username, d.Name), &d.ServerID)
	return nil
}

// GetPermissions reads a role's effective privileges and names the matching
// combination, or "custom".
func (s *DatabaseService) GetPermissions(databaseID, username string) (models.PermissionSet, string, error) {
	session, d, err := s.sessionFor(databaseID)
	if err != nil {
		return models.PermissionSet{}, "", err
	}
	defer session.Close()

	set, err := session.Manager.Users.DetectPermissions(username, d.Name)
	if err != nil {
		return models.PermissionSet{}, "", err
	}
	return set, models.DetectCombination(set), nil
}

// SetPermissions reconciles a role's privileges to exactly the given set.
func (s *DatabaseService) SetPermissions(databaseID, username string, set models.PermissionSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	session, d, err := s.sessionFor(databaseID)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Manager.Users.Grant(username, d.Name, set); err != nil {
		return err
	}

	s.eventService.CreateEvent("database.permissions.update", "info",
		fmt.Sprintf("Privileges of '%s' on '%s' set to %s", username, d.Name, models.DetectCombination(set)), &d.ServerID)
	return nil
}
