package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Manager is the per-host facade over everything this package does. One
// Manager is built per orchestration run around a single Runner and thrown
// away when the run ends, so cached discovery never outlives the session.
type Manager struct {
	System *System
	Config *ConfigFiles
	WalG   *WalG
	Users  *Users
}

// NewManager wires the host-level components around one Runner.
func NewManager(runner Runner) *Manager {
	system := NewSystem(runner)
	config := NewConfigFiles(system)
	return &Manager{
		System: system,
		Config: config,
		WalG:   NewWalG(system, config),
		Users:  NewUsers(system),
	}
}

// IsPostgresInstalled checks for the psql client binary.
func (m *Manager) IsPostgresInstalled() bool {
	result, err := m.System.runner.Run("which psql")
	return err == nil && result.ExitCode == 0
}

// InstallPostgres installs the PostgreSQL server packages and starts the
// service. Idempotent: no-ops when psql is already present.
func (m *Manager) InstallPostgres() error {
	if m.IsPostgresInstalled() {
		return nil
	}

	pkg, ok := m.System.packageManager()
	if !ok {
		return opErrorf(KindConfiguration, "unsupported OS %q: cannot install PostgreSQL", m.System.DetectOS())
	}

	packages := "postgresql postgresql-contrib"
	if m.System.DetectOS() == osRHEL {
		packages = "postgresql-server postgresql-contrib"
	}

	steps := []string{pkg.Update, pkg.Install + " " + packages}
	if m.System.DetectOS() == osRHEL {
		steps = append(steps, "sudo postgresql-setup --initdb || true")
	}
	for _, step := range steps {
		result, err := m.System.runner.Run(step)
		if err != nil {
			return wrapOpError(KindConnection, err, "install postgresql: %v", err)
		}
		if result.ExitCode != 0 {
			return opErrorf(KindCommand, "install postgresql: %s failed: %s", step, firstError(result))
		}
	}

	if err := m.System.StartService(postgresService); err != nil {
		return err
	}
	log.Info().Msg("Installed PostgreSQL")
	return nil
}

// Version reports the server version string, e.g. "16.3".
func (m *Manager) Version() (string, error) {
	return m.System.QueryValue("SHOW server_version;", "")
}

// CreateDatabase creates a database owned by the postgres superuser.
func (m *Manager) CreateDatabase(name string) error {
	if !ValidIdent(name) {
		return opErrorf(KindValidation, "invalid database name %q", name)
	}
	result, err := m.System.ExecSQL(fmt.Sprintf("CREATE DATABASE %s;", quoteIdent(name)), "")
	if err != nil {
		return wrapOpError(KindConnection, err, "create database %s: %v", name, err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindCommand, "create database %s: %s", name, firstError(result))
	}
	log.Info().Str("database", name).Msg("Database created")
	return nil
}

// DropDatabase terminates live connections and drops the database.
func (m *Manager) DropDatabase(name string) error {
	if !ValidIdent(name) {
		return opErrorf(KindValidation, "invalid database name %q", name)
	}

	script := fmt.Sprintf(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity
WHERE datname = %s AND pid <> pg_backend_pid();
DROP DATABASE IF EXISTS %s;`, quoteLiteral(name), quoteIdent(name))

	result, err := m.System.ExecSQL(script, "")
	if err != nil {
		return wrapOpError(KindConnection, err, "drop database %s: %v", name, err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindCommand, "drop database %s: %s", name, firstError(result))
	}
	log.Info().Str("database", name).Msg("Database dropped")
	return nil
}

// DatabaseExists reports whether a database is present on the cluster.
func (m *Manager) DatabaseExists(name string) (bool, error) {
	if !ValidIdent(name) {
		return false, opErrorf(KindValidation, "invalid database name %q", name)
	}
	value, err := m.System.QueryValue(
		fmt.Sprintf("SELECT EXISTS (SELECT FROM pg_database WHERE datname = %s);", quoteLiteral(name)), "")
	if err != nil {
		return false, err
	}
	return value == "t", nil
}

// DatabaseInfo is one row of a cluster database listing.
type DatabaseInfo struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ListDatabases enumerates non-template databases with their on-disk sizes.
func (m *Manager) ListDatabases() ([]DatabaseInfo, error) {
	out, err := m.System.QueryValue(
		"SELECT datname || '|' || pg_database_size(datname) FROM pg_database WHERE datistemplate = false ORDER BY datname;", "")
	if err != nil {
		return nil, err
	}

	var dbs []DatabaseInfo
	for _, line := range strings.Split(out, "\n") {
		name, sizeStr, ok := strings.Cut(strings.TrimSpace(line), "|")
		if !ok {
			continue
		}
		size, _ := strconv.ParseInt(sizeStr, 10, 64)
		dbs = append(dbs, DatabaseInfo{Name: name, SizeBytes: size})
	}
	return dbs, nil
}
