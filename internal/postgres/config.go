package postgres

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ConfigFiles locates and edits the remote postgresql.conf and pg_hba.conf.
// Every lookup runs its strategies in a fixed order and caches the first hit,
// so repeated calls within one orchestration run cost a single round trip.
type ConfigFiles struct {
	system *System

	mainConfig string
	authFile   string
	dataDir    string
}

// NewConfigFiles creates a ConfigFiles sharing the run's System.
func NewConfigFiles(system *System) *ConfigFiles {
	return &ConfigFiles{system: system}
}

// MainConfig resolves the absolute path of postgresql.conf. Strategy order:
// ask the running server (SHOW config_file), then probe OS-specific
// well-known locations, then inspect the postgres process command line.
func (c *ConfigFiles) MainConfig() (string, error) {
	if c.mainConfig != "" {
		return c.mainConfig, nil
	}

	if path, err := c.system.QueryValue("SHOW config_file;", ""); err == nil && path != "" {
		c.mainConfig = path
		return path, nil
	}

	for _, pattern := range c.configCandidates("postgresql.conf") {
		if path := c.glob(pattern); path != "" {
			c.mainConfig = path
			return path, nil
		}
	}

	if path := c.pathFromProcess("config_file"); path != "" {
		c.mainConfig = path
		return path, nil
	}

	return "", opErrorf(KindConfiguration, "postgresql.conf not found: server not running and no file at known locations")
}

// AuthFile resolves the absolute path of pg_hba.conf using the same strategy
// order as MainConfig.
func (c *ConfigFiles) AuthFile() (string, error) {
	if c.authFile != "" {
		return c.authFile, nil
	}

	if path, err := c.system.QueryValue("SHOW hba_file;", ""); err == nil && path != "" {
		c.authFile = path
		return path, nil
	}

	for _, pattern := range c.configCandidates("pg_hba.conf") {
		if path := c.glob(pattern); path != "" {
			c.authFile = path
			return path, nil
		}
	}

	return "", opErrorf(KindConfiguration, "pg_hba.conf not found: server not running and no file at known locations")
}

// DataDirectory resolves the cluster data directory. Falls back to reading
// data_directory out of postgresql.conf when the server is down, which is
// the normal state mid-restore.
func (c *ConfigFiles) DataDirectory() (string, error) {
	if c.dataDir != "" {
		return c.dataDir, nil
	}

	if path, err := c.system.QueryValue("SHOW data_directory;", ""); err == nil && path != "" {
		c.dataDir = path
		return path, nil
	}

	if confPath, err := c.MainConfig(); err == nil {
		if value, err := c.readSetting(confPath, "data_directory"); err == nil && value != "" {
			c.dataDir = value
			return value, nil
		}
	}

	for _, pattern := range []string{"/var/lib/postgresql/*/main", "/var/lib/pgsql/*/data", "/var/lib/pgsql/data"} {
		if path := c.globDir(pattern); path != "" {
			c.dataDir = path
			return path, nil
		}
	}

	return "", opErrorf(KindConfiguration, "data directory not found: server not running and no directory at known locations")
}

// GetSetting reads one setting. It prefers the live server value and falls
// back to parsing the config file; an empty live answer counts as a miss.
func (c *ConfigFiles) GetSetting(name string) (string, error) {
	if !ValidIdent(name) {
		return "", opErrorf(KindValidation, "invalid setting name %q", name)
	}

	if value, err := c.system.QueryValue(fmt.Sprintf("SHOW %s;", quoteIdent(name)), ""); err == nil && value != "" {
		return value, nil
	}

	confPath, err := c.MainConfig()
	if err != nil {
		return "", err
	}
	return c.readSetting(confPath, name)
}

// UpdateSetting writes name = value into postgresql.conf, replacing an
// existing assignment (commented or not) or appending one. The file is
// backed up first. The server is never restarted here; callers that change
// settings requiring a restart decide when to bounce the service.
func (c *ConfigFiles) UpdateSetting(name, value string) error {
	if !ValidIdent(name) {
		return opErrorf(KindValidation, "invalid setting name %q", name)
	}

	confPath, err := c.MainConfig()
	if err != nil {
		return err
	}

	backupPath, err := c.system.BackupFile(confPath)
	if err != nil {
		return err
	}

	// Values may carry single quotes and ampersands (archive_command does),
	// so the whole sed program is built escaped and passed as one shell word.
	line := fmt.Sprintf("%s = %s", name, value)
	matchExpr := fmt.Sprintf("^[[:space:]]*#?[[:space:]]*%s[[:space:]]*=", name)
	sedExpr := fmt.Sprintf("s|%s.*|%s|", matchExpr, sedReplacement(line))
	result, err := c.system.runner.Run(fmt.Sprintf(
		"sudo grep -qE %s %s && sudo sed -i -E %s %s || echo %s | sudo tee -a %s > /dev/null",
		shellQuote(matchExpr), shellQuote(confPath), shellQuote(sedExpr), shellQuote(confPath), shellQuote(line), shellQuote(confPath)))
	if err != nil {
		return wrapOpError(KindConnection, err, "update %s: %v", name, err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindConfiguration, "update %s in %s: %s", name, confPath, firstError(result))
	}

	log.Info().Str("setting", name).Str("value", value).Str("file", confPath).Str("backup", backupPath).
		Msg("Updated PostgreSQL setting")
	return nil
}

// readSetting parses an uncommented `name = value` assignment out of a
// config file, stripping quotes and trailing comments.
func (c *ConfigFiles) readSetting(confPath, name string) (string, error) {
	result, err := c.system.runner.Run(fmt.Sprintf("sudo grep -E '^[[:space:]]*%s[[:space:]]*=' %s | tail -n 1", name, shellQuote(confPath)))
	if err != nil {
		return "", wrapOpError(KindConnection, err, "read %s: %v", name, err)
	}
	line := strings.TrimSpace(result.Stdout)
	if result.ExitCode != 0 || line == "" {
		return "", opErrorf(KindConfiguration, "setting %s not present in %s", name, confPath)
	}

	_, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", opErrorf(KindConfiguration, "setting %s malformed in %s", name, confPath)
	}
	if i := strings.Index(value, "#"); i >= 0 {
		value = value[:i]
	}
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `'"`)
	return value, nil
}

// configCandidates lists well-known config file globs for the detected OS,
// most specific family first.
func (c *ConfigFiles) configCandidates(file string) []string {
	debian := []string{"/etc/postgresql/*/main/" + file}
	rhel := []string{"/var/lib/pgsql/*/data/" + file, "/var/lib/pgsql/data/" + file}

	switch c.system.DetectOS() {
	case osDebian:
		return append(debian, rhel...)
	case osRHEL:
		return append(rhel, debian...)
	}
	return append(debian, rhel...)
}

// glob returns the first regular file matching pattern, or "".
func (c *ConfigFiles) glob(pattern string) string {
	result, err := c.system.runner.Run(fmt.Sprintf("ls %s 2>/dev/null | head -n 1", pattern))
	if err != nil || result.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}

// globDir returns the first directory matching pattern, or "".
func (c *ConfigFiles) globDir(pattern string) string {
	result, err := c.system.runner.Run(fmt.Sprintf("ls -d %s 2>/dev/null | head -n 1", pattern))
	if err != nil || result.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}

// pathFromProcess pulls a -c flag value off the running postgres command
// line, e.g. config_file=/etc/postgresql/16/main/postgresql.conf.
func (c *ConfigFiles) pathFromProcess(flag string) string {
	result, err := c.system.runner.Run("ps aux | grep [p]ostgres | grep -- '" + flag + "='")
	if err != nil || result.ExitCode != 0 {
		return ""
	}
	for _, field := range strings.Fields(result.Stdout) {
		if value, ok := strings.CutPrefix(field, flag+"="); ok {
			return value
		}
	}
	return ""
}
