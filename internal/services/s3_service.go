package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/nexpostgres/nexpostgres/internal/models"
)

// S3ServiceProvider defines the interface for object-store target services.
type S3ServiceProvider interface {
	GetAllTargets() ([]models.S3Target, error)
	GetTargetByID(id string) (models.S3Target, error)
	CreateTarget(target models.S3Target) (models.S3Target, error)
	UpdateTarget(id string, target models.S3Target) (models.S3Target, error)
	DeleteTarget(id string) error
	TestTarget(ctx context.Context, id string) error
}

// S3Service provides business logic for S3 target management.
type S3Service struct {
	db           *sql.DB
	eventService EventServiceProvider
}

// NewS3Service creates a new S3Service.
func NewS3Service(db *sql.DB, eventService EventServiceProvider) *S3Service {
	return &S3Service{db: db, eventService: eventService}
}

const s3Columns = "id, name, bucket, region, access_key, secret_key, endpoint, created_at"

func scanTarget(row interface{ Scan(...interface{}) error }) (models.S3Target, error) {
	var t models.S3Target
	var endpoint sql.NullString
	err := row.Scan(&t.ID, &t.Name, &t.Bucket, &t.Region, &t.AccessKey, &t.SecretKey, &endpoint, &t.CreatedAt)
	t.Endpoint = endpoint.String
	return t, err
}

// GetAllTargets lists every configured target.
func (s *S3Service) GetAllTargets() ([]models.S3Target, error) {
	rows, err := s.db.Query("SELECT " + s3Columns + " FROM s3_targets ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []models.S3Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// GetTargetByID fetches one target.
func (s *S3Service) GetTargetByID(id string) (models.S3Target, error) {
	t, err := scanTarget(s.db.QueryRow("SELECT "+s3Columns+" FROM s3_targets WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.S3Target{}, fmt.Errorf("s3 target %s: %w", id, ErrNotFound)
	}
	return t, err
}

func validateTarget(t models.S3Target) error {
	if t.Name == "" || t.Bucket == "" || t.Region == "" || t.AccessKey == "" || t.SecretKey == "" {
		return errors.New("name, bucket, region and credentials are required")
	}
	return nil
}

// CreateTarget stores a target after verifying the bucket is reachable.
func (s *S3Service) CreateTarget(target models.S3Target) (models.S3Target, error) {
	if err := validateTarget(target); err != nil {
		return models.S3Target{}, err
	}
	if err := headBucket(context.Background(), target); err != nil {
		return models.S3Target{}, fmt.Errorf("bucket check failed: %w", err)
	}

	target.ID = uuid.New().String()
	_, err := s.db.Exec(
		"INSERT INTO s3_targets (id, name, bucket, region, access_key, secret_key, endpoint) VALUES (?, ?, ?, ?, ?, ?, ?)",
		target.ID, target.Name, target.Bucket, target.Region, target.AccessKey, target.SecretKey, nullable(target.Endpoint))
	if err != nil {
		return models.S3Target{}, err
	}

	s.eventService.CreateEvent("s3.create", "info", fmt.Sprintf("S3 target '%s' registered", target.Name), nil)
	return s.GetTargetByID(target.ID)
}

// UpdateTarget edits a target. Empty credentials keep the stored ones.
func (s *S3Service) UpdateTarget(id string, target models.S3Target) (models.S3Target, error) {
	existing, err := s.GetTargetByID(id)
	if err != nil {
		return models.S3Target{}, err
	}
	if target.AccessKey == "" {
		target.AccessKey = existing.AccessKey
	}
	if target.SecretKey == "" {
		target.SecretKey = existing.SecretKey
	}
	if err := validateTarget(target); err != nil {
		return models.S3Target{}, err
	}
	if err := headBucket(context.Background(), target); err != nil {
		return models.S3Target{}, fmt.Errorf("bucket check failed: %w", err)
	}

	_, err = s.db.Exec(
		"UPDATE s3_targets SET name = ?, bucket = ?, region = ?, access_key = ?, secret_key = ?, endpoint = ? WHERE id = ?",
		target.Name, target.Bucket, target.Region, target.AccessKey, target.SecretKey, nullable(target.Endpoint), id)
	if err != nil {
		return models.S3Target{}, err
	}

	s.eventService.CreateEvent("s3.update", "info", fmt.Sprintf("S3 target '%s' updated", target.Name), nil)
	return s.GetTargetByID(id)
}

// DeleteTarget removes a target. Refused while a backup job references it.
func (s *S3Service) DeleteTarget(id string) error {
	target, err := s.GetTargetByID(id)
	if err != nil {
		return err
	}

	var inUse int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM backup_jobs WHERE s3_target_id = ?", id).Scan(&inUse); err != nil {
		return err
	}
	if inUse > 0 {
		return fmt.Errorf("s3 target '%s' is referenced by %d backup job(s)", target.Name, inUse)
	}

	if _, err := s.db.Exec("DELETE FROM s3_targets WHERE id = ?", id); err != nil {
		return err
	}

	s.eventService.CreateEvent("s3.delete", "warn", fmt.Sprintf("S3 target '%s' removed", target.Name), nil)
	return nil
}

// TestTarget verifies the stored credentials can reach the bucket.
func (s *S3Service) TestTarget(ctx context.Context, id string) error {
	target, err := s.GetTargetByID(id)
	if err != nil {
		return err
	}
	return headBucket(ctx, target)
}

// headBucket issues a HeadBucket request with the target's credentials. A
// custom endpoint switches the client to path-style addressing, which
// S3-compatible stores expect.
func headBucket(ctx context.Context, target models.S3Target) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(target.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(target.AccessKey, target.SecretKey, "")))
	if err != nil {
		return err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if target.Endpoint != "" {
			o.BaseEndpoint = aws.String(target.Endpoint)
			o.UsePathStyle = true
		}
	})

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(target.Bucket)})
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
