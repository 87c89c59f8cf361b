package services

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/cronexpr"
	"github.com/nexpostgres/nexpostgres/internal/models"
)

// ErrRunInProgress is returned when a job is triggered while a previous run
// of the same job has not finished.
var ErrRunInProgress = errors.New("a run of this job is already in progress")

// BackupServiceProvider defines the interface for backup job services.
type BackupServiceProvider interface {
	GetAllJobs() ([]models.BackupJob, error)
	GetJobByID(id string) (models.BackupJob, error)
	GetDueJobs(now time.Time) ([]models.BackupJob, error)
	CreateJob(job models.BackupJob) (models.BackupJob, error)
	UpdateJob(id string, job models.BackupJob) (models.BackupJob, error)
	DeleteJob(id string) error
	SetEnabled(id string, enabled bool) (models.BackupJob, error)
	RunJob(id string, manual bool) (models.BackupLog, error)
	GetJobLogs(jobID string, limit int) ([]models.BackupLog, error)
	GetLogByID(id string) (models.BackupLog, error)
	ListRemoteBackups(jobID string) ([]models.BackupRecord, error)
	HealthCheck(jobID string) (HealthStatus, error)
}

// HealthStatus is a job's backup pipeline health as reported to the API.
type HealthStatus struct {
	Healthy             bool     `json:"healthy"`
	ToolInstalled       bool     `json:"toolInstalled"`
	ServiceRunning      bool     `json:"serviceRunning"`
	ConfigPresent       bool     `json:"configPresent"`
	ArchivingConfigured bool     `json:"archivingConfigured"`
	HasBackups          bool     `json:"hasBackups"`
	Issues              []string `json:"issues"`
}

// BackupService provides business logic for backup jobs: definitions,
// scheduling metadata and the execution path itself.
type BackupService struct {
	db              *sql.DB
	opener          SessionOpener
	serverService   ServerServiceProvider
	databaseService DatabaseServiceProvider
	s3Service       S3ServiceProvider
	eventService    EventServiceProvider
	locks           *HostLocks
	now             func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool // job id -> running
}

// NewBackupService creates a new BackupService.
func NewBackupService(db *sql.DB, opener SessionOpener, serverService ServerServiceProvider,
	databaseService DatabaseServiceProvider, s3Service S3ServiceProvider, eventService EventServiceProvider,
	locks *HostLocks) *BackupService {
	return &BackupService{
		db:              db,
		opener:          opener,
		serverService:   serverService,
		databaseService: databaseService,
		s3Service:       s3Service,
		eventService:    eventService,
		locks:           locks,
		now:             time.Now,
		inFlight:        make(map[string]bool),
	}
}

const jobColumns = "id, name, database_id, server_id, s3_target_id, cron_expression, retention_count, passphrase, enabled, last_run_at, next_run_at, created_at"

func scanJob(row interface{ Scan(...interface{}) error }) (models.BackupJob, error) {
	var j models.BackupJob
	var passphrase sql.NullString
	err := row.Scan(&j.ID, &j.Name, &j.DatabaseID, &j.ServerID, &j.S3TargetID, &j.CronExpression,
		&j.RetentionCount, &passphrase, &j.Enabled, &j.LastRunAt, &j.NextRunAt, &j.CreatedAt)
	j.Passphrase = passphrase.String
	return j, err
}

func (s *BackupService) queryJobs(query string, args ...interface{}) ([]models.BackupJob, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.BackupJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetAllJobs lists every backup job.
func (s *BackupService) GetAllJobs() ([]models.BackupJob, error) {
	return s.queryJobs("SELECT " + jobColumns + " FROM backup_jobs ORDER BY name")
}

// GetJobByID fetches one job.
func (s *BackupService) GetJobByID(id string) (models.BackupJob, error) {
	j, err := scanJob(s.db.QueryRow("SELECT "+jobColumns+" FROM backup_jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BackupJob{}, fmt.Errorf("backup job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// GetDueJobs lists enabled jobs whose next fire time has passed.
func (s *BackupService) GetDueJobs(now time.Time) ([]models.BackupJob, error) {
	return s.queryJobs("SELECT "+jobColumns+" FROM backup_jobs WHERE enabled = TRUE AND next_run_at IS NOT NULL AND next_run_at <= ?", now)
}

func (s *BackupService) validateJob(job models.BackupJob) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if err := cronexpr.Validate(job.CronExpression); err != nil {
		return err
	}
	if job.RetentionCount < 1 {
		return errors.New("retention count must be at least 1")
	}
	if _, err := s.databaseService.GetDatabaseByID(job.DatabaseID); err != nil {
		return err
	}
	if _, err := s.s3Service.GetTargetByID(job.S3TargetID); err != nil {
		return err
	}
	return nil
}

// CreateJob validates and stores a job and computes its first fire time.
// A database carries at most one job; a second is rejected.
func (s *BackupService) CreateJob(job models.BackupJob) (models.BackupJob, error) {
	if err := s.validateJob(job); err != nil {
		return models.BackupJob{}, err
	}

	d, err := s.databaseService.GetDatabaseByID(job.DatabaseID)
	if err != nil {
		return models.BackupJob{}, err
	}
	job.ServerID = d.ServerID

	var existing int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM backup_jobs WHERE database_id = ?", job.DatabaseID).Scan(&existing); err != nil {
		return models.BackupJob{}, err
	}
	if existing > 0 {
		return models.BackupJob{}, fmt.Errorf("database already has a backup job")
	}

	next, err := cronexpr.Next(job.CronExpression, s.now())
	if err != nil {
		return models.BackupJob{}, err
	}

	job.ID = uuid.New().String()
	_, err = s.db.Exec(
		"INSERT INTO backup_jobs (id, name, database_id, server_id, s3_target_id, cron_expression, retention_count, passphrase, enabled, next_run_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?)",
		job.ID, job.Name, job.DatabaseID, job.ServerID, job.S3TargetID, job.CronExpression,
		job.RetentionCount, nullable(job.Passphrase), next)
	if err != nil {
		return models.BackupJob{}, err
	}

	s.eventService.CreateEvent("backup.job.create", "info",
		fmt.Sprintf("Backup job '%s' scheduled (%s)", job.Name, job.CronExpression), &job.ServerID)
	return s.GetJobByID(job.ID)
}

// UpdateJob edits a job. Replacing the cron expression replaces the fire
// time: at most one pending trigger per job at any moment.
func (s *BackupService) UpdateJob(id string, job models.BackupJob) (models.BackupJob, error) {
	existing, err := s.GetJobByID(id)
	if err != nil {
		return models.BackupJob{}, err
	}
	job.DatabaseID = existing.DatabaseID
	job.ServerID = existing.ServerID
	if job.Passphrase == "" {
		job.Passphrase = existing.Passphrase
	}
	if err := s.validateJob(job); err != nil {
		return models.BackupJob{}, err
	}

	next, err := cronexpr.Next(job.CronExpression, s.now())
	if err != nil {
		return models.BackupJob{}, err
	}

	_, err = s.db.Exec(
		"UPDATE backup_jobs SET name = ?, s3_target_id = ?, cron_expression = ?, retention_count = ?, passphrase = ?, next_run_at = ? WHERE id = ?",
		job.Name, job.S3TargetID, job.CronExpression, job.RetentionCount, nullable(job.Passphrase), next, id)
	if err != nil {
		return models.BackupJob{}, err
	}

	s.eventService.CreateEvent("backup.job.update", "info",
		fmt.Sprintf("Backup job '%s' rescheduled (%s)", job.Name, job.CronExpression), &existing.ServerID)
	return s.GetJobByID(id)
}

// DeleteJob removes a job and its logs; it no longer fires.
func (s *BackupService) DeleteJob(id string) error {
	job, err := s.GetJobByID(id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM backup_jobs WHERE id = ?", id); err != nil {
		return err
	}
	s.eventService.CreateEvent("backup.job.delete", "warn",
		fmt.Sprintf("Backup job '%s' removed", job.Name), &job.ServerID)
	return nil
}

// SetEnabled pauses or resumes a job. Resuming recomputes the fire time so
// a long pause does not cause an immediate stale trigger.
func (s *BackupService) SetEnabled(id string, enabled bool) (models.BackupJob, error) {
	job, err := s.GetJobByID(id)
	if err != nil {
		return models.BackupJob{}, err
	}

	if enabled {
		next, err := cronexpr.Next(job.CronExpression, s.now())
		if err != nil {
			return models.BackupJob{}, err
		}
		_, err = s.db.Exec("UPDATE backup_jobs SET enabled = TRUE, next_run_at = ? WHERE id = ?", next, id)
		if err != nil {
			return models.BackupJob{}, err
		}
	} else {
		if _, err := s.db.Exec("UPDATE backup_jobs SET enabled = FALSE, next_run_at = NULL WHERE id = ?", id); err != nil {
			return models.BackupJob{}, err
		}
	}
	return s.GetJobByID(id)
}

func (s *BackupService) markInFlight(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[jobID] {
		return false
	}
	s.inFlight[jobID] = true
	return true
}

func (s *BackupService) clearInFlight(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, jobID)
}

// RunJob executes one backup run: ensure configuration, push the backup,
// apply retention. Cron triggers and manual requests share this exact path.
// The job's next fire time is advanced whether the run succeeds or fails.
func (s *BackupService) RunJob(id string, manual bool) (models.BackupLog, error) {
	job, err := s.GetJobByID(id)
	if err != nil {
		return models.BackupLog{}, err
	}
	if !s.markInFlight(id) {
		return models.BackupLog{}, ErrRunInProgress
	}
	defer s.clearInFlight(id)

	d, err := s.databaseService.GetDatabaseByID(job.DatabaseID)
	if err != nil {
		return models.BackupLog{}, err
	}

	lock := s.locks.Get(job.ServerID, d.Name)
	lock.Lock()
	defer lock.Unlock()

	logEntry := models.BackupLog{
		ID:          uuid.New().String(),
		BackupJobID: id,
		Status:      models.StatusInProgress,
		StartTime:   s.now(),
		Manual:      manual,
	}
	if _, err := s.db.Exec(
		"INSERT INTO backup_logs (id, backup_job_id, status, start_time, manual) VALUES (?, ?, ?, ?, ?)",
		logEntry.ID, logEntry.BackupJobID, logEntry.Status, logEntry.StartTime, logEntry.Manual); err != nil {
		return models.BackupLog{}, err
	}

	output, size, runErr := s.executeRun(job, d)

	end := s.now()
	logEntry.EndTime = &end
	logEntry.LogOutput = output
	logEntry.SizeBytes = size
	if runErr != nil {
		logEntry.Status = models.StatusFailed
		if logEntry.LogOutput != "" {
			logEntry.LogOutput += "\n"
		}
		logEntry.LogOutput += runErr.Error()
	} else {
		logEntry.Status = models.StatusSuccess
	}

	if _, err := s.db.Exec("UPDATE backup_logs SET status = ?, end_time = ?, size_bytes = ?, log_output = ? WHERE id = ?",
		logEntry.Status, logEntry.EndTime, logEntry.SizeBytes, logEntry.LogOutput, logEntry.ID); err != nil {
		log.Error().Err(err).Str("log_id", logEntry.ID).Msg("Failed to finalize backup log")
	}

	s.advanceSchedule(job)

	if runErr != nil {
		s.eventService.CreateEvent("backup.execute.failed", "error",
			fmt.Sprintf("Backup of '%s' failed: %v", d.Name, runErr), &job.ServerID)
		return logEntry, runErr
	}
	s.eventService.CreateEvent("backup.execute.success", "info",
		fmt.Sprintf("Backup of '%s' completed", d.Name), &job.ServerID)
	return logEntry, nil
}

// executeRun performs the remote steps of one run over a single session.
func (s *BackupService) executeRun(job models.BackupJob, d models.Database) (output string, size int64, err error) {
	server, err := s.serverService.GetServerByID(job.ServerID)
	if err != nil {
		return "", 0, err
	}
	target, err := s.s3Service.GetTargetByID(job.S3TargetID)
	if err != nil {
		return "", 0, err
	}

	session, err := s.opener.Open(server)
	if err != nil {
		return "", 0, err
	}
	defer session.Close()

	walg := session.Manager.WalG

	// Every run re-derives the remote config from current job state, so
	// rotated credentials or a re-provisioned host heal on the next run.
	if err := walg.Install(); err != nil {
		return "", 0, err
	}
	if err := walg.MaterializeConfig(d.Name, target, job.Passphrase); err != nil {
		return "", 0, err
	}
	if mode, err := session.Manager.Config.GetSetting("archive_mode"); err != nil || mode != "on" {
		if err := walg.ConfigureArchiving(d.Name); err != nil {
			return "", 0, err
		}
	}

	output, err = walg.PerformBackup(d.Name)
	if err != nil {
		return output, 0, err
	}

	if records := walg.ListBackups(d.Name); len(records) > 0 {
		size = records[len(records)-1].SizeBytes
	}

	if err := walg.Cleanup(d.Name, job.RetentionCount); err != nil {
		// Retention failure does not fail the run: the backup itself is safe.
		log.Warn().Err(err).Str("job_id", job.ID).Msg("Retention cleanup failed")
		output += "\nretention cleanup failed: " + err.Error()
	}
	return strings.TrimSpace(output), size, nil
}

// advanceSchedule stamps last_run_at and computes the next fire time.
func (s *BackupService) advanceSchedule(job models.BackupJob) {
	now := s.now()
	next, err := cronexpr.Next(job.CronExpression, now)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to compute next run")
		return
	}
	if _, err := s.db.Exec("UPDATE backup_jobs SET last_run_at = ?, next_run_at = ? WHERE id = ? AND enabled = TRUE", now, next, job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to advance schedule")
	}
}

// GetJobLogs lists recent runs of a job, newest first.
func (s *BackupService) GetJobLogs(jobID string, limit int) ([]models.BackupLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT id, backup_job_id, status, start_time, end_time, size_bytes, manual, log_output FROM backup_logs WHERE backup_job_id = ? ORDER BY start_time DESC LIMIT ?", jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.BackupLog
	for rows.Next() {
		l, err := scanBackupLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetLogByID fetches one run record, for status polling.
func (s *BackupService) GetLogByID(id string) (models.BackupLog, error) {
	l, err := scanBackupLog(s.db.QueryRow(
		"SELECT id, backup_job_id, status, start_time, end_time, size_bytes, manual, log_output FROM backup_logs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.BackupLog{}, fmt.Errorf("backup log %s: %w", id, ErrNotFound)
	}
	return l, err
}

func scanBackupLog(row interface{ Scan(...interface{}) error }) (models.BackupLog, error) {
	var l models.BackupLog
	var size sql.NullInt64
	var logOutput sql.NullString
	err := row.Scan(&l.ID, &l.BackupJobID, &l.Status, &l.StartTime, &l.EndTime, &size, &l.Manual, &logOutput)
	l.SizeBytes = size.Int64
	l.LogOutput = logOutput.String
	return l, err
}

// ListRemoteBackups reads the backup catalogue from the object store for a
// job's database. An empty list means unknown, not necessarily none.
func (s *BackupService) ListRemoteBackups(jobID string) ([]models.BackupRecord, error) {
	job, err := s.GetJobByID(jobID)
	if err != nil {
		return nil, err
	}
	d, err := s.databaseService.GetDatabaseByID(job.DatabaseID)
	if err != nil {
		return nil, err
	}
	server, err := s.serverService.GetServerByID(job.ServerID)
	if err != nil {
		return nil, err
	}
	target, err := s.s3Service.GetTargetByID(job.S3TargetID)
	if err != nil {
		return nil, err
	}

	session, err := s.opener.Open(server)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.Manager.WalG.MaterializeConfig(d.Name, target, job.Passphrase); err != nil {
		return nil, err
	}
	return session.Manager.WalG.ListBackups(d.Name), nil
}

// HealthCheck runs the five-point backup pipeline check for a job.
func (s *BackupService) HealthCheck(jobID string) (HealthStatus, error) {
	job, err := s.GetJobByID(jobID)
	if err != nil {
		return HealthStatus{}, err
	}
	d, err := s.databaseService.GetDatabaseByID(job.DatabaseID)
	if err != nil {
		return HealthStatus{}, err
	}
	server, err := s.serverService.GetServerByID(job.ServerID)
	if err != nil {
		return HealthStatus{}, err
	}

	session, err := s.opener.Open(server)
	if err != nil {
		return HealthStatus{}, err
	}
	defer session.Close()

	report := session.Manager.WalG.HealthCheck(d.Name)
	return HealthStatus{
		Healthy:             report.Healthy(),
		ToolInstalled:       report.ToolInstalled,
		ServiceRunning:      report.ServiceRunning,
		ConfigPresent:       report.ConfigPresent,
		ArchivingConfigured: report.ArchivingConfigured,
		HasBackups:          report.HasBackups,
		Issues:              report.Issues,
	}, nil
}
