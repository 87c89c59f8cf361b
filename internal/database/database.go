package database

import (
	"database/sql"

	_ "modernc.org/sqlite" // SQLite driver
)

// New creates a new database connection pool.
func New(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate runs the SQL statements to set up the database schema.
func Migrate(db *sql.DB) error {
	const sqlStmt = `
	CREATE TABLE IF NOT EXISTS servers (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER DEFAULT 22,
		postgres_port INTEGER DEFAULT 5432,
		username TEXT,
		ssh_key_content TEXT,
		initialized BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS databases (
		id TEXT NOT NULL PRIMARY KEY,
		server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		size TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (server_id, name)
	);

	CREATE TABLE IF NOT EXISTS database_users (
		id TEXT NOT NULL PRIMARY KEY,
		database_id TEXT NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
		username TEXT NOT NULL,
		password TEXT NOT NULL,
		is_primary BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (database_id, username)
	);

	CREATE TABLE IF NOT EXISTS s3_targets (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		bucket TEXT NOT NULL,
		region TEXT NOT NULL,
		access_key TEXT NOT NULL,
		secret_key TEXT NOT NULL,
		endpoint TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS backup_jobs (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		database_id TEXT NOT NULL UNIQUE REFERENCES databases(id) ON DELETE CASCADE,
		server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		s3_target_id TEXT NOT NULL REFERENCES s3_targets(id),
		cron_expression TEXT NOT NULL,
		retention_count INTEGER DEFAULT 7,
		passphrase TEXT,
		enabled BOOLEAN DEFAULT TRUE,
		last_run_at DATETIME,
		next_run_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS backup_logs (
		id TEXT NOT NULL PRIMARY KEY,
		backup_job_id TEXT NOT NULL REFERENCES backup_jobs(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		start_time DATETIME DEFAULT CURRENT_TIMESTAMP,
		end_time DATETIME,
		size_bytes INTEGER,
		manual BOOLEAN DEFAULT FALSE,
		log_output TEXT
	);

	CREATE TABLE IF NOT EXISTS restore_logs (
		id TEXT NOT NULL PRIMARY KEY,
		database_id TEXT NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
		backup_name TEXT NOT NULL,
		recovery_time DATETIME,
		status TEXT NOT NULL,
		detail TEXT,
		start_time DATETIME DEFAULT CURRENT_TIMESTAMP,
		end_time DATETIME,
		log_output TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL PRIMARY KEY,
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		server_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(sqlStmt)
	return err
}
