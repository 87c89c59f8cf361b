package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	ServerPort        int
	DatabasePath      string
	SSHConnectTimeout time.Duration // establishing the SSH connection
	SSHCommandTimeout time.Duration // any single remote command
	SchedulerInterval time.Duration // tick interval for the backup scheduler
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	connectTimeout, err := time.ParseDuration(getEnv("SSH_CONNECT_TIMEOUT", "30s"))
	if err != nil {
		return nil, err
	}

	commandTimeout, err := time.ParseDuration(getEnv("SSH_COMMAND_TIMEOUT", "15m"))
	if err != nil {
		return nil, err
	}

	interval, err := time.ParseDuration(getEnv("SCHEDULER_INTERVAL", "1m"))
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerPort:        port,
		DatabasePath:      getEnv("DATABASE_PATH", "./nexpostgres.db"),
		SSHConnectTimeout: connectTimeout,
		SSHCommandTimeout: commandTimeout,
		SchedulerInterval: interval,
	}, nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
