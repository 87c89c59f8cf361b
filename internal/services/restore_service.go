package services

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/postgres"
)

// RestoreRequest describes one restore operation. BackupName may be empty
// or "LATEST". A non-nil RecoveryTime selects the newest backup taken at or
// before that instant instead. OwnerUsername, when set, is the login that
// receives ownership of everything in the restored database — the disaster
// recovery path for clusters restored from another installation's backups.
type RestoreRequest struct {
	BackupName    string     `json:"backupName"`
	RecoveryTime  *time.Time `json:"recoveryTime,omitempty"`
	OwnerUsername string     `json:"ownerUsername,omitempty"`
	OwnerPassword string     `json:"ownerPassword,omitempty"`
}

// RestoreServiceProvider defines the interface for restore services.
type RestoreServiceProvider interface {
	Restore(databaseID string, req RestoreRequest) (models.RestoreLog, error)
	GetRestoreLogs(databaseID string, limit int) ([]models.RestoreLog, error)
	GetLogByID(id string) (models.RestoreLog, error)
}

// RestoreService provides business logic for restoring databases from the
// object store.
type RestoreService struct {
	db              *sql.DB
	opener          SessionOpener
	serverService   ServerServiceProvider
	databaseService DatabaseServiceProvider
	backupService   BackupServiceProvider
	s3Service       S3ServiceProvider
	eventService    EventServiceProvider
	locks           *HostLocks
	now             func() time.Time
}

// NewRestoreService creates a new RestoreService.
func NewRestoreService(db *sql.DB, opener SessionOpener, serverService ServerServiceProvider,
	databaseService DatabaseServiceProvider, backupService BackupServiceProvider,
	s3Service S3ServiceProvider, eventService EventServiceProvider, locks *HostLocks) *RestoreService {
	return &RestoreService{
		db:              db,
		opener:          opener,
		serverService:   serverService,
		databaseService: databaseService,
		backupService:   backupService,
		s3Service:       s3Service,
		eventService:    eventService,
		locks:           locks,
		now:             time.Now,
	}
}

// jobFor finds the backup job carrying a database's object-store config.
// Restores depend on it: without a job there is no S3 target to fetch from.
func (s *RestoreService) jobFor(databaseID string) (models.BackupJob, error) {
	jobs, err := s.backupService.GetAllJobs()
	if err != nil {
		return models.BackupJob{}, err
	}
	for _, j := range jobs {
		if j.DatabaseID == databaseID {
			return j, nil
		}
	}
	return models.BackupJob{}, fmt.Errorf("database has no backup job, nothing to restore from")
}

// selectBackup resolves the backup to fetch. A recovery time picks the
// newest backup at or before that instant; otherwise the explicit name or
// LATEST is used.
func selectBackup(records []models.BackupRecord, req RestoreRequest) (string, error) {
	if req.RecoveryTime == nil {
		if req.BackupName == "" {
			return "LATEST", nil
		}
		return req.BackupName, nil
	}

	var best *models.BackupRecord
	for i := range records {
		r := &records[i]
		if r.Timestamp.After(*req.RecoveryTime) {
			continue
		}
		if best == nil || r.Timestamp.After(best.Timestamp) {
			best = r
		}
	}
	if best == nil {
		return "", fmt.Errorf("no backup exists at or before %s", req.RecoveryTime.Format(time.RFC3339))
	}
	return best.Name, nil
}

// Restore fetches a backup into the database's cluster, optionally hands
// ownership to a fresh login, and records the whole operation.
func (s *RestoreService) Restore(databaseID string, req RestoreRequest) (models.RestoreLog, error) {
	d, err := s.databaseService.GetDatabaseByID(databaseID)
	if err != nil {
		return models.RestoreLog{}, err
	}
	server, err := s.serverService.GetServerByID(d.ServerID)
	if err != nil {
		return models.RestoreLog{}, err
	}
	job, err := s.jobFor(databaseID)
	if err != nil {
		return models.RestoreLog{}, err
	}
	target, err := s.s3Service.GetTargetByID(job.S3TargetID)
	if err != nil {
		return models.RestoreLog{}, err
	}
	if req.OwnerUsername != "" && !postgres.ValidIdent(req.OwnerUsername) {
		return models.RestoreLog{}, fmt.Errorf("invalid owner role name %q", req.OwnerUsername)
	}

	lock := s.locks.Get(d.ServerID, d.Name)
	lock.Lock()
	defer lock.Unlock()

	entry := models.RestoreLog{
		ID:           uuid.New().String(),
		DatabaseID:   databaseID,
		BackupName:   req.BackupName,
		RecoveryTime: req.RecoveryTime,
		Status:       models.StatusInProgress,
		StartTime:    s.now(),
	}
	if _, err := s.db.Exec(
		"INSERT INTO restore_logs (id, database_id, backup_name, recovery_time, status, start_time) VALUES (?, ?, ?, ?, ?, ?)",
		entry.ID, entry.DatabaseID, entry.BackupName, entry.RecoveryTime, entry.Status, entry.StartTime); err != nil {
		return models.RestoreLog{}, err
	}

	detail, output, runErr := s.executeRestore(server, d, job, target, req, &entry)

	end := s.now()
	entry.EndTime = &end
	entry.Detail = detail
	entry.LogOutput = output
	if runErr != nil {
		entry.Status = models.StatusFailed
		if entry.LogOutput != "" {
			entry.LogOutput += "\n"
		}
		entry.LogOutput += runErr.Error()
	} else {
		entry.Status = models.StatusSuccess
	}

	if _, err := s.db.Exec(
		"UPDATE restore_logs SET status = ?, detail = ?, backup_name = ?, end_time = ?, log_output = ? WHERE id = ?",
		entry.Status, entry.Detail, entry.BackupName, entry.EndTime, entry.LogOutput, entry.ID); err != nil {
		log.Error().Err(err).Str("log_id", entry.ID).Msg("Failed to finalize restore log")
	}

	if runErr != nil {
		s.eventService.CreateEvent("restore.failed", "error",
			fmt.Sprintf("Restore of '%s' failed: %v", d.Name, runErr), &d.ServerID)
		return entry, runErr
	}

	level, msg := "info", fmt.Sprintf("Restore of '%s' completed (%s)", d.Name, entry.BackupName)
	if detail == models.RestoreDetailOwnerMismatch {
		level, msg = "warn", msg+" with owner verification warning"
	}
	s.eventService.CreateEvent("restore.success", level, msg, &d.ServerID)
	return entry, nil
}

func (s *RestoreService) executeRestore(server models.Server, d models.Database, job models.BackupJob,
	target models.S3Target, req RestoreRequest, entry *models.RestoreLog) (detail, output string, err error) {

	session, err := s.opener.Open(server)
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	walg := session.Manager.WalG
	if err := walg.MaterializeConfig(d.Name, target, job.Passphrase); err != nil {
		return "", "", err
	}

	backupName := req.BackupName
	if req.RecoveryTime != nil {
		records := walg.ListBackups(d.Name)
		backupName, err = selectBackup(records, req)
		if err != nil {
			return "", "", err
		}
	} else if backupName == "" {
		backupName = "LATEST"
	}
	entry.BackupName = backupName

	var steps []string
	if err := walg.Restore(d.Name, backupName); err != nil {
		if errors.Is(err, postgres.ErrRestoredNotStarted) {
			return models.RestoreDetailRestoredNotStarted, strings.Join(steps, "\n"), err
		}
		return "", strings.Join(steps, "\n"), err
	}
	steps = append(steps, fmt.Sprintf("backup %s fetched and service restarted", backupName))

	if req.OwnerUsername == "" {
		return "", strings.Join(steps, "\n"), nil
	}

	// Disaster recovery: the restored cluster's objects belong to logins
	// that may not exist here. Create the owner, take ownership, then open
	// up read/write for it.
	users := session.Manager.Users
	if err := users.EnsureUser(req.OwnerUsername, req.OwnerPassword); err != nil {
		return "", strings.Join(steps, "\n"), err
	}
	steps = append(steps, fmt.Sprintf("login %s ensured", req.OwnerUsername))

	res, err := users.TransferOwnership(req.OwnerUsername, d.Name)
	if err != nil {
		return "", strings.Join(steps, "\n"), err
	}
	steps = append(steps, fmt.Sprintf("ownership transferred: %d succeeded, %d failed", res.Succeeded, res.Failed))

	readWrite, _ := models.CombinationSet(models.CombinationReadWrite)
	if err := users.Grant(req.OwnerUsername, d.Name, readWrite); err != nil {
		return "", strings.Join(steps, "\n"), err
	}
	steps = append(steps, "read_write privileges granted")

	if _, err := s.db.Exec(
		"INSERT INTO database_users (id, database_id, username, password, is_primary) VALUES (?, ?, ?, ?, TRUE) ON CONFLICT (database_id, username) DO UPDATE SET password = excluded.password, is_primary = TRUE",
		uuid.New().String(), d.ID, req.OwnerUsername, req.OwnerPassword); err != nil {
		log.Error().Err(err).Str("database_id", d.ID).Msg("Failed to record primary user")
	}

	if res.Warning != "" {
		steps = append(steps, res.Warning)
		return models.RestoreDetailOwnerMismatch, strings.Join(steps, "\n"), nil
	}
	return "", strings.Join(steps, "\n"), nil
}

// GetRestoreLogs lists restore operations for a database, newest first.
func (s *RestoreService) GetRestoreLogs(databaseID string, limit int) ([]models.RestoreLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT id, database_id, backup_name, recovery_time, status, detail, start_time, end_time, log_output FROM restore_logs WHERE database_id = ? ORDER BY start_time DESC LIMIT ?",
		databaseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RestoreLog
	for rows.Next() {
		l, err := scanRestoreLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetLogByID fetches one restore record, for status polling.
func (s *RestoreService) GetLogByID(id string) (models.RestoreLog, error) {
	l, err := scanRestoreLog(s.db.QueryRow(
		"SELECT id, database_id, backup_name, recovery_time, status, detail, start_time, end_time, log_output FROM restore_logs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.RestoreLog{}, fmt.Errorf("restore log %s: %w", id, ErrNotFound)
	}
	return l, err
}

func scanRestoreLog(row interface{ Scan(...interface{}) error }) (models.RestoreLog, error) {
	var l models.RestoreLog
	var detail, logOutput sql.NullString
	err := row.Scan(&l.ID, &l.DatabaseID, &l.BackupName, &l.RecoveryTime, &l.Status, &detail, &l.StartTime, &l.EndTime, &logOutput)
	l.Detail = detail.String
	l.LogOutput = logOutput.String
	return l, err
}
