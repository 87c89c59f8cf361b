package models

import "time"

// Run statuses shared by backup and restore logs.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// BackupJob is a declarative backup definition for one database. A database
// has at most one job; its remote WAL-G config is re-derived from the job's
// current field values on every configure call.
type BackupJob struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	DatabaseID     string     `json:"databaseId"`
	ServerID       string     `json:"serverId"`
	S3TargetID     string     `json:"s3TargetId"`
	CronExpression string     `json:"cronExpression"`
	RetentionCount int        `json:"retentionCount"`
	Passphrase     string     `json:"-"` // optional WAL-G encryption key
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"lastRunAt"`
	NextRunAt      *time.Time `json:"nextRunAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// BackupLog records one execution of a backup job.
type BackupLog struct {
	ID          string     `json:"id"`
	BackupJobID string     `json:"backupJobId"`
	Status      string     `json:"status"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	SizeBytes   int64      `json:"sizeBytes"`
	Manual      bool       `json:"manual"`
	LogOutput   string     `json:"logOutput"`
}

// BackupRecord is a point-in-time view of one backup as reported by
// `wal-g backup-list --json`. It is never persisted: the object store is the
// system of record, so the catalogue is re-read on every listing.
type BackupRecord struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"` // "full" or "delta"
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"sizeBytes"`
	Permanent bool      `json:"permanent"`
}
