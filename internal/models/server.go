package models

import "time"

// Server represents a remote host running PostgreSQL, reachable over SSH.
type Server struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`         // SSH port
	PostgresPort  int       `json:"postgresPort"` // PostgreSQL port
	Username      string    `json:"username"`
	SSHKeyContent string    `json:"-"` // PEM private key, never exposed to clients
	Initialized   bool      `json:"initialized"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Database represents a PostgreSQL database hosted on a Server.
type Database struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"serverId"`
	Name      string    `json:"name"`
	Size      string    `json:"size,omitempty"` // human-readable, refreshed opportunistically
	CreatedAt time.Time `json:"createdAt"`
}

// DatabaseUser is a PostgreSQL login managed for a database. The primary
// user is the owner login created (or recreated) during restore.
type DatabaseUser struct {
	ID         string    `json:"id"`
	DatabaseID string    `json:"databaseId"`
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	IsPrimary  bool      `json:"isPrimary"`
	CreatedAt  time.Time `json:"createdAt"`
}
