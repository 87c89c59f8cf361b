package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/models"
)

const (
	walgBinary      = "/usr/local/bin/wal-g"
	walgEnvDir      = "/etc/wal-g"
	walgReleaseURL  = "https://github.com/wal-g/wal-g/releases/latest/download/wal-g-pg-ubuntu-20.04-amd64.tar.gz"
	postgresService = "postgresql"
)

// WalG drives the wal-g binary on a remote host: install, per-database env
// materialization, archiving configuration and the backup/restore/cleanup
// primitives themselves.
type WalG struct {
	system *System
	config *ConfigFiles
}

// NewWalG creates a WalG sharing the run's System and ConfigFiles.
func NewWalG(system *System, config *ConfigFiles) *WalG {
	return &WalG{system: system, config: config}
}

// backupNamespace maps a database name onto its object-store namespace.
// Backups live under postgres/<database>, except the postgres database
// itself maps to the root namespace (no postgres/postgres segment), and a
// wal-g internal identifier (basebackups_*) also resolves to the root.
func backupNamespace(database string) string {
	if database == "postgres" || strings.HasPrefix(database, "basebackups_") {
		return "postgres"
	}
	return "postgres/" + database
}

// BuildEnv renders the WAL-G environment file content for one database and
// S3 target. Pure: no remote calls, so the namespace and sanitization rules
// are directly testable.
func BuildEnv(database string, target models.S3Target, passphrase string) string {
	lines := []string{
		envLine("WALG_S3_PREFIX", fmt.Sprintf("s3://%s/%s", sanitizeCredential(target.Bucket), backupNamespace(database))),
		envLine("AWS_ACCESS_KEY_ID", target.AccessKey),
		envLine("AWS_SECRET_ACCESS_KEY", target.SecretKey),
		envLine("AWS_REGION", target.Region),
	}
	if target.Endpoint != "" {
		lines = append(lines,
			envLine("AWS_ENDPOINT", target.Endpoint),
			envLine("AWS_S3_FORCE_PATH_STYLE", "true"))
	}
	if passphrase != "" {
		lines = append(lines, envLine("WALG_LIBSODIUM_KEY", passphrase))
	}
	return strings.Join(lines, "\n") + "\n"
}

func envFilePath(database string) string {
	return fmt.Sprintf("%s/%s.env", walgEnvDir, database)
}

// IsInstalled checks for the wal-g binary on the remote host.
func (w *WalG) IsInstalled() bool {
	return w.system.FileExists(walgBinary)
}

// Install downloads and installs wal-g. Idempotent: no-ops when the binary
// is already present.
func (w *WalG) Install() error {
	if w.IsInstalled() {
		return nil
	}

	pkg, ok := w.system.packageManager()
	if !ok {
		return opErrorf(KindConfiguration, "unsupported OS %q: cannot install wal-g", w.system.DetectOS())
	}

	steps := []string{
		pkg.Update,
		pkg.Install + " curl tar",
		fmt.Sprintf("curl -fsSL %s -o /tmp/wal-g.tar.gz", shellQuote(walgReleaseURL)),
		"sudo tar -xzf /tmp/wal-g.tar.gz -C /tmp",
		fmt.Sprintf("sudo mv /tmp/wal-g-pg-ubuntu-20.04-amd64 %s", walgBinary),
		fmt.Sprintf("sudo chmod +x %s", walgBinary),
		"rm -f /tmp/wal-g.tar.gz",
	}
	for _, step := range steps {
		result, err := w.system.runner.Run(step)
		if err != nil {
			return wrapOpError(KindConnection, err, "install wal-g: %v", err)
		}
		if result.ExitCode != 0 {
			return opErrorf(KindCommand, "install wal-g: %s failed: %s", step, firstError(result))
		}
	}

	log.Info().Msg("Installed wal-g")
	return nil
}

// MaterializeConfig writes the per-database WAL-G env file, readable by the
// postgres user only. The content travels over stdin so credentials never
// appear on a command line.
func (w *WalG) MaterializeConfig(database string, target models.S3Target, passphrase string) error {
	if result, err := w.system.runner.Run("sudo mkdir -p " + walgEnvDir); err != nil {
		return wrapOpError(KindConnection, err, "create %s: %v", walgEnvDir, err)
	} else if result.ExitCode != 0 {
		return opErrorf(KindCommand, "create %s: %s", walgEnvDir, firstError(result))
	}

	path := envFilePath(database)
	result, err := w.system.runner.RunInput("sudo tee "+shellQuote(path)+" > /dev/null", BuildEnv(database, target, passphrase))
	if err != nil {
		return wrapOpError(KindConnection, err, "write %s: %v", path, err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindCommand, "write %s: %s", path, firstError(result))
	}

	result, err = w.system.runner.Run(fmt.Sprintf("sudo chown postgres:postgres %s && sudo chmod 0640 %s", shellQuote(path), shellQuote(path)))
	if err != nil {
		return wrapOpError(KindConnection, err, "secure %s: %v", path, err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindCommand, "secure %s: %s", path, firstError(result))
	}

	log.Info().Str("database", database).Str("path", path).Msg("Materialized WAL-G config")
	return nil
}

// ConfigureArchiving turns on WAL archiving through wal-g and restarts the
// service. Archive-mode changes only take effect after a restart, so this is
// the one place that bounces PostgreSQL.
func (w *WalG) ConfigureArchiving(database string) error {
	envFile := envFilePath(database)
	settings := [][2]string{
		{"wal_level", "replica"},
		{"max_wal_senders", "10"},
		{"archive_mode", "on"},
		{"archive_command", fmt.Sprintf("'. %s && %s wal-push %%p'", envFile, walgBinary)},
		{"restore_command", fmt.Sprintf("'. %s && %s wal-fetch %%f %%p'", envFile, walgBinary)},
		{"archive_timeout", "60"},
	}
	for _, kv := range settings {
		if err := w.config.UpdateSetting(kv[0], kv[1]); err != nil {
			return err
		}
	}

	if err := w.system.RestartService(postgresService); err != nil {
		return wrapOpError(KindConfiguration, err, "archiving configured but service restart failed: %v", err)
	}
	return nil
}

// runWalg executes one wal-g subcommand as postgres with the database's env
// file sourced.
func (w *WalG) runWalg(database, args string) (string, error) {
	cmd := fmt.Sprintf("set -a; . %s; set +a; %s %s", envFilePath(database), walgBinary, args)
	result, err := w.system.RunAsPostgres(cmd)
	if err != nil {
		return "", wrapOpError(KindConnection, err, "wal-g %s: %v", args, err)
	}
	if result.ExitCode != 0 {
		return "", opErrorf(KindCommand, "wal-g %s: %s", args, firstError(result))
	}
	return result.Stdout, nil
}

// PerformBackup pushes a backup of the cluster data directory. Always
// requested as an incremental push; wal-g decides on its own whether a full
// base backup is needed first.
func (w *WalG) PerformBackup(database string) (string, error) {
	dataDir, err := w.config.DataDirectory()
	if err != nil {
		return "", err
	}

	out, err := w.runWalg(database, "backup-push "+shellQuote(dataDir))
	if err != nil {
		var op *OpError
		if errors.As(err, &op) && op.Kind == KindCommand {
			return "", &OpError{Kind: KindBackup, Message: op.Message}
		}
		return "", err
	}

	log.Info().Str("database", database).Msg("Backup pushed")
	return out, nil
}

// walgListEntry mirrors one element of `wal-g backup-list --json` output.
type walgListEntry struct {
	BackupName   string    `json:"backup_name"`
	Time         time.Time `json:"time"`
	StartTime    time.Time `json:"start_time"`
	Uncompressed int64     `json:"uncompressed_size"`
	Compressed   int64     `json:"compressed_size"`
	Permanent    bool      `json:"is_permanent"`
}

// ListBackups reads the backup catalogue from the object store. Parse or
// command failures are logged and yield an empty list: callers treat empty
// as unknown, not as "no backups exist".
func (w *WalG) ListBackups(database string) []models.BackupRecord {
	out, err := w.runWalg(database, "backup-list --json")
	if err != nil {
		log.Warn().Err(err).Str("database", database).Msg("backup-list failed")
		return nil
	}
	return parseBackupList(out, database)
}

// parseBackupList decodes wal-g's JSON listing. Split out so the parsing
// rules are testable without a remote host.
func parseBackupList(out, database string) []models.BackupRecord {
	out = strings.TrimSpace(out)
	if out == "" || out == "null" {
		return nil
	}

	var entries []walgListEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		log.Warn().Err(err).Str("database", database).Msg("backup-list output unparseable")
		return nil
	}

	records := make([]models.BackupRecord, 0, len(entries))
	for _, e := range entries {
		backupType := "full"
		if strings.Contains(e.BackupName, "_D_") {
			backupType = "delta"
		}
		ts := e.Time
		if ts.IsZero() {
			ts = e.StartTime
		}
		size := e.Uncompressed
		if size == 0 {
			size = e.Compressed
		}
		records = append(records, models.BackupRecord{
			Name:      e.BackupName,
			Type:      backupType,
			Timestamp: ts,
			SizeBytes: size,
			Permanent: e.Permanent,
		})
	}
	return records
}

// Restore fetches a backup into the data directory. Sequence: stop the
// service, clear any stale lock file, backup-fetch, start the service. A
// fetch failure leaves the service stopped. A start failure after a good
// fetch returns ErrRestoredNotStarted so callers can retry only the start.
func (w *WalG) Restore(database, backupName string) error {
	if backupName == "" {
		backupName = "LATEST"
	}

	dataDir, err := w.config.DataDirectory()
	if err != nil {
		return err
	}

	if err := w.system.StopService(postgresService); err != nil {
		return err
	}

	// A crashed postmaster leaves its pid file behind; backup-fetch refuses
	// to write into a directory that looks live.
	if result, err := w.system.runner.Run(fmt.Sprintf("sudo rm -f %s/postmaster.pid", shellQuote(dataDir))); err != nil {
		return wrapOpError(KindConnection, err, "remove stale pid file: %v", err)
	} else if result.ExitCode != 0 {
		return opErrorf(KindRestore, "remove stale pid file: %s", firstError(result))
	}

	if _, err := w.runWalg(database, fmt.Sprintf("backup-fetch %s %s", shellQuote(dataDir), shellQuote(backupName))); err != nil {
		return wrapOpError(KindRestore, err, "backup-fetch %s failed, service left stopped: %v", backupName, err)
	}

	if err := w.system.StartService(postgresService); err != nil {
		return wrapOpError(KindRestore, ErrRestoredNotStarted,
			"backup %s restored but service failed to start: %v", backupName, err)
	}

	log.Info().Str("database", database).Str("backup", backupName).Msg("Restore completed")
	return nil
}

// Cleanup applies the retention policy, keeping the newest count backups.
// Which backups go is wal-g's decision, not ours.
func (w *WalG) Cleanup(database string, retentionCount int) error {
	if retentionCount < 1 {
		return opErrorf(KindValidation, "retention count must be at least 1, got %d", retentionCount)
	}
	if _, err := w.runWalg(database, fmt.Sprintf("delete retain %d --confirm", retentionCount)); err != nil {
		return err
	}
	log.Info().Str("database", database).Int("retain", retentionCount).Msg("Retention applied")
	return nil
}

// HealthReport is the result of one backup health check: five independent
// booleans plus an itemized issue list, never a single opaque pass/fail.
type HealthReport struct {
	ToolInstalled       bool     `json:"toolInstalled"`
	ServiceRunning      bool     `json:"serviceRunning"`
	ConfigPresent       bool     `json:"configPresent"`
	ArchivingConfigured bool     `json:"archivingConfigured"`
	HasBackups          bool     `json:"hasBackups"`
	Issues              []string `json:"issues"`
}

// Healthy reports whether every check passed.
func (r HealthReport) Healthy() bool {
	return r.ToolInstalled && r.ServiceRunning && r.ConfigPresent && r.ArchivingConfigured && r.HasBackups
}

// HealthCheck runs the five independent checks for one database's backup
// pipeline. Each check runs regardless of earlier failures so the issue
// list is complete.
func (w *WalG) HealthCheck(database string) HealthReport {
	var report HealthReport

	report.ToolInstalled = w.IsInstalled()
	if !report.ToolInstalled {
		report.Issues = append(report.Issues, "wal-g is not installed")
	}

	report.ServiceRunning = w.system.ServiceRunning(postgresService)
	if !report.ServiceRunning {
		report.Issues = append(report.Issues, "postgresql service is not running")
	}

	report.ConfigPresent = w.system.FileExists(envFilePath(database))
	if !report.ConfigPresent {
		report.Issues = append(report.Issues, "WAL-G environment file is missing")
	}

	if mode, err := w.config.GetSetting("archive_mode"); err == nil && mode == "on" {
		report.ArchivingConfigured = true
	} else {
		report.Issues = append(report.Issues, "WAL archiving is not enabled")
	}

	report.HasBackups = len(w.ListBackups(database)) > 0
	if !report.HasBackups {
		report.Issues = append(report.Issues, "no backups found in the object store")
	}

	return report
}

// SetupLogRotation installs a logrotate policy for wal-g output so long-lived
// hosts do not fill their disk with archive_command logs.
func (w *WalG) SetupLogRotation() error {
	policy := `/var/log/wal-g/*.log {
    weekly
    rotate 4
    compress
    missingok
    notifempty
    create 0640 postgres postgres
}
`
	if result, err := w.system.runner.Run("sudo mkdir -p /var/log/wal-g && sudo chown postgres:postgres /var/log/wal-g"); err != nil {
		return wrapOpError(KindConnection, err, "create wal-g log dir: %v", err)
	} else if result.ExitCode != 0 {
		return opErrorf(KindCommand, "create wal-g log dir: %s", firstError(result))
	}

	result, err := w.system.runner.RunInput("sudo tee /etc/logrotate.d/wal-g > /dev/null", policy)
	if err != nil {
		return wrapOpError(KindConnection, err, "write logrotate policy: %v", err)
	}
	if result.ExitCode != 0 {
		return opErrorf(KindCommand, "write logrotate policy: %s", firstError(result))
	}
	return nil
}
