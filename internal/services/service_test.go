package services

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexpostgres/nexpostgres/internal/database"
	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/postgres"
	"github.com/nexpostgres/nexpostgres/internal/sshexec"
)

// scriptRule maps a command (or stdin) substring to a canned result.
type scriptRule struct {
	match  string
	result sshexec.Result
	err    error
}

// scriptRunner is a scripted postgres.Runner shared by a fake opener's
// sessions. Unmatched commands succeed with empty output.
type scriptRunner struct {
	rules    []scriptRule
	commands []string
	inputs   []string
}

func (f *scriptRunner) on(match string, result sshexec.Result) *scriptRunner {
	f.rules = append(f.rules, scriptRule{match: match, result: result})
	return f
}

func (f *scriptRunner) lookup(command, input string) (sshexec.Result, error) {
	for _, r := range f.rules {
		if strings.Contains(command, r.match) || (input != "" && strings.Contains(input, r.match)) {
			return r.result, r.err
		}
	}
	return sshexec.Result{}, nil
}

func (f *scriptRunner) Run(command string) (sshexec.Result, error) {
	f.commands = append(f.commands, command)
	f.inputs = append(f.inputs, "")
	return f.lookup(command, "")
}

func (f *scriptRunner) RunInput(command, input string) (sshexec.Result, error) {
	f.commands = append(f.commands, command)
	f.inputs = append(f.inputs, input)
	return f.lookup(command, input)
}

func (f *scriptRunner) commandIndex(substr string) int {
	for i, c := range f.commands {
		if strings.Contains(c, substr) || strings.Contains(f.inputs[i], substr) {
			return i
		}
	}
	return -1
}

// fakeOpener hands out sessions backed by one scripted runner.
type fakeOpener struct {
	runner  *scriptRunner
	openErr error
	testErr error
}

func (f *fakeOpener) Open(models.Server) (*Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &Session{Manager: postgres.NewManager(f.runner)}, nil
}

func (f *fakeOpener) Test(models.Server) error { return f.testErr }

// testEnv is the shared fixture: in-memory catalogue plus fully wired
// services over a scripted host.
type testEnv struct {
	db      *sql.DB
	runner  *scriptRunner
	opener  *fakeOpener
	events  *EventService
	servers *ServerService
	dbs     *DatabaseService
	s3      *S3Service
	backups *BackupService
	restore *RestoreService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	runner := &scriptRunner{}
	opener := &fakeOpener{runner: runner}
	locks := NewHostLocks()

	events := NewEventService(db, nil)
	servers := NewServerService(db, opener, events)
	dbs := NewDatabaseService(db, opener, servers, events)
	s3 := NewS3Service(db, events)
	backups := NewBackupService(db, opener, servers, dbs, s3, events, locks)
	restore := NewRestoreService(db, opener, servers, dbs, backups, s3, events, locks)

	return &testEnv{
		db:      db,
		runner:  runner,
		opener:  opener,
		events:  events,
		servers: servers,
		dbs:     dbs,
		s3:      s3,
		backups: backups,
		restore: restore,
	}
}

// seed inserts a server, a database on it and an S3 target, bypassing the
// remote checks the service-layer create paths would run.
func (e *testEnv) seed(t *testing.T) (serverID, databaseID, targetID string) {
	t.Helper()
	serverID, databaseID, targetID = "srv-1", "db-1", "s3-1"

	_, err := e.db.Exec(
		"INSERT INTO servers (id, name, host, port, postgres_port, username, ssh_key_content, initialized) VALUES (?, 'pg-prod', 'pg.example.com', 22, 5432, 'admin', 'KEY', TRUE)", serverID)
	require.NoError(t, err)

	_, err = e.db.Exec("INSERT INTO databases (id, server_id, name) VALUES (?, ?, 'orders')", databaseID, serverID)
	require.NoError(t, err)

	_, err = e.db.Exec(
		"INSERT INTO s3_targets (id, name, bucket, region, access_key, secret_key) VALUES (?, 'primary', 'backups', 'eu-west-1', 'AK', 'SK')", targetID)
	require.NoError(t, err)
	return serverID, databaseID, targetID
}

func (e *testEnv) seedJob(t *testing.T, databaseID, serverID, targetID string) string {
	t.Helper()
	next := time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)
	_, err := e.db.Exec(
		"INSERT INTO backup_jobs (id, name, database_id, server_id, s3_target_id, cron_expression, retention_count, enabled, next_run_at) VALUES ('job-1', 'nightly orders', ?, ?, ?, '0 2 * * *', 7, TRUE, ?)",
		databaseID, serverID, targetID, next)
	require.NoError(t, err)
	return "job-1"
}
