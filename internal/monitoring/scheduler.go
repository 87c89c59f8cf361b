package monitoring

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/services"
)

// Scheduler polls for due backup jobs and fires them. Fire times live in
// the database (next_run_at, computed from each job's cron expression), so
// a restart never loses the schedule: the first tick after boot picks up
// anything that came due while the process was down.
type Scheduler struct {
	backupSvc services.BackupServiceProvider
	eventSvc  services.EventServiceProvider
	interval  time.Duration
	now       func() time.Time // injectable for tests
	ticker    *time.Ticker
	done      chan bool
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(backupSvc services.BackupServiceProvider, eventSvc services.EventServiceProvider, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		backupSvc: backupSvc,
		eventSvc:  eventSvc,
		interval:  interval,
		now:       time.Now,
		done:      make(chan bool),
	}
}

// Run starts the scheduler's ticking loop.
func (s *Scheduler) Run() {
	log.Info().Dur("interval", s.interval).Msg("Starting backup scheduler...")
	s.ticker = time.NewTicker(s.interval)
	defer s.ticker.Stop()

	// Run once immediately on start
	s.checkDueJobs()

	for {
		select {
		case <-s.done:
			log.Info().Msg("Stopping backup scheduler.")
			return
		case <-s.ticker.C:
			s.checkDueJobs()
		}
	}
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	s.done <- true
}

// checkDueJobs fires every job whose next_run_at has passed. Each run goes
// to its own goroutine so one slow host cannot delay the others; RunJob
// itself refuses overlapping runs of the same job.
func (s *Scheduler) checkDueJobs() {
	jobs, err := s.backupSvc.GetDueJobs(s.now())
	if err != nil {
		log.Error().Err(err).Msg("Scheduler: failed to query due jobs")
		return
	}

	for _, job := range jobs {
		job := job
		log.Info().Str("job_id", job.ID).Str("job_name", job.Name).Msg("Scheduler: triggering backup job")
		go func() {
			if _, err := s.backupSvc.RunJob(job.ID, false); err != nil && !errors.Is(err, services.ErrRunInProgress) {
				log.Error().Err(err).Str("job_id", job.ID).Msg("Scheduler: backup run failed")
			}
		}()
	}
}
