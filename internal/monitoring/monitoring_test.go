package monitoring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/services"
)

// fakeBackupService records triggered runs and serves canned jobs and health
// reports.
type fakeBackupService struct {
	mu     sync.Mutex
	jobs   []models.BackupJob
	due    []models.BackupJob
	health map[string]services.HealthStatus
	runs   []string
	runErr error
	ran    chan string
}

func newFakeBackupService() *fakeBackupService {
	return &fakeBackupService{
		health: make(map[string]services.HealthStatus),
		ran:    make(chan string, 16),
	}
}

func (f *fakeBackupService) GetAllJobs() ([]models.BackupJob, error) { return f.jobs, nil }
func (f *fakeBackupService) GetJobByID(string) (models.BackupJob, error) {
	return models.BackupJob{}, services.ErrNotFound
}
func (f *fakeBackupService) GetDueJobs(time.Time) ([]models.BackupJob, error) { return f.due, nil }
func (f *fakeBackupService) CreateJob(j models.BackupJob) (models.BackupJob, error) { return j, nil }
func (f *fakeBackupService) UpdateJob(_ string, j models.BackupJob) (models.BackupJob, error) {
	return j, nil
}
func (f *fakeBackupService) DeleteJob(string) error { return nil }
func (f *fakeBackupService) SetEnabled(string, bool) (models.BackupJob, error) {
	return models.BackupJob{}, nil
}

func (f *fakeBackupService) RunJob(id string, manual bool) (models.BackupLog, error) {
	f.mu.Lock()
	f.runs = append(f.runs, id)
	err := f.runErr
	f.mu.Unlock()
	f.ran <- id
	if err != nil {
		return models.BackupLog{}, err
	}
	return models.BackupLog{BackupJobID: id, Manual: manual}, nil
}

func (f *fakeBackupService) GetJobLogs(string, int) ([]models.BackupLog, error) { return nil, nil }
func (f *fakeBackupService) GetLogByID(string) (models.BackupLog, error) {
	return models.BackupLog{}, services.ErrNotFound
}
func (f *fakeBackupService) ListRemoteBackups(string) ([]models.BackupRecord, error) {
	return nil, nil
}
func (f *fakeBackupService) HealthCheck(id string) (services.HealthStatus, error) {
	return f.health[id], nil
}

// fakeEventService records raised events.
type fakeEventService struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEventService) CreateEvent(eventType, level, message string, serverID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeEventService) GetRecentEvents(int) ([]models.Event, error) { return nil, nil }

func (f *fakeEventService) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func waitForRun(t *testing.T, ran chan string) string {
	t.Helper()
	select {
	case id := <-ran:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a triggered run")
		return ""
	}
}

func TestSchedulerTriggersDueJobs(t *testing.T) {
	backupSvc := newFakeBackupService()
	backupSvc.due = []models.BackupJob{
		{ID: "job-1", Name: "nightly orders"},
		{ID: "job-2", Name: "nightly billing"},
	}
	s := NewScheduler(backupSvc, &fakeEventService{}, time.Minute)
	s.now = func() time.Time { return time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC) }

	s.checkDueJobs()

	got := map[string]bool{waitForRun(t, backupSvc.ran): true, waitForRun(t, backupSvc.ran): true}
	assert.True(t, got["job-1"])
	assert.True(t, got["job-2"])
}

func TestSchedulerIgnoresInProgressRuns(t *testing.T) {
	backupSvc := newFakeBackupService()
	backupSvc.due = []models.BackupJob{{ID: "job-1", Name: "nightly orders"}}
	backupSvc.runErr = services.ErrRunInProgress
	s := NewScheduler(backupSvc, &fakeEventService{}, time.Minute)

	// An already-running job is not an error worth surfacing; the next tick
	// will catch up if the job is still due.
	s.checkDueJobs()
	waitForRun(t, backupSvc.ran)
}

func TestSchedulerRunStop(t *testing.T) {
	backupSvc := newFakeBackupService()
	s := NewScheduler(backupSvc, &fakeEventService{}, time.Hour)

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestHealthUpdaterRaisesEdgeEvents(t *testing.T) {
	backupSvc := newFakeBackupService()
	backupSvc.health["job-1"] = services.HealthStatus{
		Healthy: false,
		Issues:  []string{"wal-g is not installed"},
	}
	eventSvc := &fakeEventService{}
	h := NewHealthUpdater(backupSvc, eventSvc, nil, time.Hour)

	h.checkJob("job-1", "nightly orders", "srv-1")
	require.Equal(t, []string{"backup.health.degraded"}, eventSvc.types())

	// Still degraded: no repeat event.
	h.checkJob("job-1", "nightly orders", "srv-1")
	require.Equal(t, []string{"backup.health.degraded"}, eventSvc.types())

	backupSvc.health["job-1"] = services.HealthStatus{Healthy: true}
	h.checkJob("job-1", "nightly orders", "srv-1")
	require.Equal(t, []string{"backup.health.degraded", "backup.health.recovered"}, eventSvc.types())

	// Healthy again: quiet.
	h.checkJob("job-1", "nightly orders", "srv-1")
	require.Equal(t, []string{"backup.health.degraded", "backup.health.recovered"}, eventSvc.types())
}

func TestHealthUpdaterSkipsDisabledJobs(t *testing.T) {
	backupSvc := newFakeBackupService()
	backupSvc.jobs = []models.BackupJob{
		{ID: "job-1", Name: "paused", Enabled: false},
	}
	backupSvc.health["job-1"] = services.HealthStatus{Healthy: false, Issues: []string{"whatever"}}
	eventSvc := &fakeEventService{}
	h := NewHealthUpdater(backupSvc, eventSvc, nil, time.Hour)

	h.checkAllJobs()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, eventSvc.types(), "paused jobs are not health-checked")
}
