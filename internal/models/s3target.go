package models

import "time"

// S3Target holds credentials and location for an S3-compatible object store
// that WAL-G pushes backups to.
type S3Target struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Bucket    string    `json:"bucket"`
	Region    string    `json:"region"`
	AccessKey string    `json:"-"`
	SecretKey string    `json:"-"`
	Endpoint  string    `json:"endpoint,omitempty"` // set for non-AWS S3-compatible stores
	CreatedAt time.Time `json:"createdAt"`
}
