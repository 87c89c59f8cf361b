package models

import "time"

// Restore outcome detail beyond the terminal status. RestoredNotStarted
// means backup-fetch succeeded but the service failed to come back up, so a
// caller can retry just the start step instead of re-fetching.
const (
	RestoreDetailNone               = ""
	RestoreDetailRestoredNotStarted = "restored_not_started"
	RestoreDetailOwnerMismatch      = "owner_mismatch"
)

// RestoreLog records one restore operation for a database. It transitions to
// a terminal status exactly once.
type RestoreLog struct {
	ID           string     `json:"id"`
	DatabaseID   string     `json:"databaseId"`
	BackupName   string     `json:"backupName"`
	RecoveryTime *time.Time `json:"recoveryTime,omitempty"` // PITR target, nil for plain restore
	Status       string     `json:"status"`
	Detail       string     `json:"detail,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime"`
	LogOutput    string     `json:"logOutput"`
}
