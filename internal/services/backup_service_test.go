package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/sshexec"
)

func TestCreateJobRejectsInvalidCron(t *testing.T) {
	env := newTestEnv(t)
	_, databaseID, targetID := env.seed(t)

	_, err := env.backups.CreateJob(models.BackupJob{
		Name:           "bad cron",
		DatabaseID:     databaseID,
		S3TargetID:     targetID,
		CronExpression: "0 99 * * *",
		RetentionCount: 7,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hour")

	var count int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(*) FROM backup_jobs").Scan(&count))
	assert.Zero(t, count, "invalid job must not be persisted")
}

func TestCreateJobComputesNextRun(t *testing.T) {
	env := newTestEnv(t)
	_, databaseID, targetID := env.seed(t)

	env.backups.now = func() time.Time {
		return time.Date(2026, 8, 24, 1, 0, 0, 0, time.UTC)
	}

	job, err := env.backups.CreateJob(models.BackupJob{
		Name:           "nightly orders",
		DatabaseID:     databaseID,
		S3TargetID:     targetID,
		CronExpression: "0 2 * * *",
		RetentionCount: 7,
	})
	require.NoError(t, err)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC), job.NextRunAt.UTC())
	assert.True(t, job.Enabled)
	assert.Equal(t, "srv-1", job.ServerID)
}

func TestCreateJobEnforcesOneJobPerDatabase(t *testing.T) {
	env := newTestEnv(t)
	serverID, databaseID, targetID := env.seed(t)
	env.seedJob(t, databaseID, serverID, targetID)

	_, err := env.backups.CreateJob(models.BackupJob{
		Name:           "second job",
		DatabaseID:     databaseID,
		S3TargetID:     targetID,
		CronExpression: "30 3 * * *",
		RetentionCount: 3,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a backup job")
}

func TestSetEnabledFalseClearsNextRun(t *testing.T) {
	env := newTestEnv(t)
	serverID, databaseID, targetID := env.seed(t)
	jobID := env.seedJob(t, databaseID, serverID, targetID)

	job, err := env.backups.SetEnabled(jobID, false)
	require.NoError(t, err)
	assert.False(t, job.Enabled)
	assert.Nil(t, job.NextRunAt, "paused jobs carry no pending trigger")

	job, err = env.backups.SetEnabled(jobID, true)
	require.NoError(t, err)
	assert.True(t, job.Enabled)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(time.Now()))
}

func TestRunJobRefusesOverlappingRun(t *testing.T) {
	env := newTestEnv(t)
	serverID, databaseID, targetID := env.seed(t)
	jobID := env.seedJob(t, databaseID, serverID, targetID)

	require.True(t, env.backups.markInFlight(jobID))
	defer env.backups.clearInFlight(jobID)

	_, err := env.backups.RunJob(jobID, true)
	assert.ErrorIs(t, err, ErrRunInProgress)
}

const backupListJSON = `[{"backup_name":"base_000000010000000000000010","time":"2026-08-24T02:05:00Z","start_time":"2026-08-24T02:00:00Z","uncompressed_size":5242880,"compressed_size":1048576,"is_permanent":false}]`

// scriptBackupHost arranges the scripted host so a full run succeeds. The
// server reports archiving off, forcing the configuration pass before the
// first backup-push.
func scriptBackupHost(runner *scriptRunner) {
	runner.
		on("SHOW config_file", sshexec.Result{Stdout: "/etc/postgresql/16/main/postgresql.conf\n"}).
		on("SHOW data_directory", sshexec.Result{Stdout: "/var/lib/postgresql/16/main\n"}).
		on("SHOW \"archive_mode\"", sshexec.Result{Stdout: "off\n"}).
		on("backup-list --json", sshexec.Result{Stdout: backupListJSON})
}

func TestRunJobConfiguresBeforeBackup(t *testing.T) {
	env := newTestEnv(t)
	serverID, databaseID, targetID := env.seed(t)
	jobID := env.seedJob(t, databaseID, serverID, targetID)
	scriptBackupHost(env.runner)

	logEntry, err := env.backups.RunJob(jobID, true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, logEntry.Status)
	assert.True(t, logEntry.Manual)
	assert.Equal(t, int64(5242880), logEntry.SizeBytes)
	require.NotNil(t, logEntry.EndTime)

	envFile := env.runner.commandIndex("/etc/wal-g/orders.env")
	restart := env.runner.commandIndex("systemctl restart")
	push := env.runner.commandIndex("backup-push")
	retain := env.runner.commandIndex("delete retain 7")
	require.NotEqual(t, -1, envFile, "credentials env must be written")
	require.NotEqual(t, -1, restart, "archiving off forces a configure pass")
	require.NotEqual(t, -1, push)
	require.NotEqual(t, -1, retain, "retention runs after a successful push")
	assert.Less(t, envFile, push, "env file written before backup-push")
	assert.Less(t, restart, push, "archiving configured before backup-push")
	assert.Less(t, push, retain)

	// wal-g already present on the host: no reinstall.
	assert.Equal(t, -1, env.runner.commandIndex("curl"))
}

func TestRunJobSkipsConfigureWhenArchivingOn(t *testing.T) {
	env := newTestEnv(t)
	serverID, databaseID, targetID := env.seed(t)
	jobID := env.seedJob(t, databaseID, serverID, targetID)
	env.runner.on("SHOW \"archive_mode\"", sshexec.Result{Stdout: "on\n"})
	scriptBackupHost(env.runner)

	_, err := env.backups.RunJob(jobID, true)
	require.NoError(t, err)
	assert.Equal(t, -1, env.runner.commandIndex("systemctl restart"),
		"already-archiving host must not be restarted")
	assert.NotEqual(t, -1, env.runner.commandIndex("backup-push"))
}

func TestRunJobAdvancesScheduleOnFailure(t *testing.T) {
	env := newTestEnv(t)
	serverID, databaseID, targetID := env.seed(t)
	jobID := env.seedJob(t, databaseID, serverID, targetID)
	env.runner.
		on("SHOW \"archive_mode\"", sshexec.Result{Stdout: "on\n"}).
		on("backup-push", sshexec.Result{ExitCode: 1, Stderr: "S3 bucket unreachable"})
	scriptBackupHost(env.runner)

	before := time.Now()
	logEntry, err := env.backups.RunJob(jobID, true)
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, logEntry.Status)
	assert.Contains(t, logEntry.LogOutput, "S3 bucket unreachable")

	job, err := env.backups.GetJobByID(jobID)
	require.NoError(t, err)
	require.NotNil(t, job.LastRunAt)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(before), "failed runs still advance the schedule")
}

func TestRunJobRecordsLogRow(t *testing.T) {
	env := newTestEnv(t)
	serverID, databaseID, targetID := env.seed(t)
	jobID := env.seedJob(t, databaseID, serverID, targetID)
	scriptBackupHost(env.runner)

	logEntry, err := env.backups.RunJob(jobID, false)
	require.NoError(t, err)

	stored, err := env.backups.GetLogByID(logEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.False(t, stored.Manual)
	assert.Equal(t, jobID, stored.BackupJobID)

	logs, err := env.backups.GetJobLogs(jobID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestRunJobUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	_, err := env.backups.RunJob("missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetDueJobs(t *testing.T) {
	env := newTestEnv(t)
	serverID, databaseID, targetID := env.seed(t)
	env.seedJob(t, databaseID, serverID, targetID) // next_run_at 2026-08-24 02:00:00

	due, err := env.backups.GetDueJobs(time.Date(2026, 8, 24, 2, 0, 1, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "job-1", due[0].ID)

	due, err = env.backups.GetDueJobs(time.Date(2026, 8, 24, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, due)

	// Paused jobs are never due, whatever their stored fire time.
	_, err = env.db.Exec("UPDATE backup_jobs SET enabled = FALSE WHERE id = 'job-1'")
	require.NoError(t, err)
	due, err = env.backups.GetDueJobs(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestUpdateJobKeepsStoredPassphrase(t *testing.T) {
	env := newTestEnv(t)
	serverID, databaseID, targetID := env.seed(t)
	jobID := env.seedJob(t, databaseID, serverID, targetID)
	_, err := env.db.Exec("UPDATE backup_jobs SET passphrase = 'secret' WHERE id = ?", jobID)
	require.NoError(t, err)

	updated, err := env.backups.UpdateJob(jobID, models.BackupJob{
		Name:           "nightly orders v2",
		S3TargetID:     targetID,
		CronExpression: "15 4 * * *",
		RetentionCount: 14,
	})
	require.NoError(t, err)
	assert.Equal(t, "nightly orders v2", updated.Name)
	assert.Equal(t, "secret", updated.Passphrase)
	assert.Equal(t, databaseID, updated.DatabaseID, "a job never moves to another database")
}
