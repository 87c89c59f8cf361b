package monitoring

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/services"
	"github.com/nexpostgres/nexpostgres/internal/websocket"
)

// HealthUpdater periodically runs the backup pipeline health check for every
// job and raises an event when a pipeline degrades. Results are pushed to
// connected clients so dashboards stay current without polling.
type HealthUpdater struct {
	backupSvc services.BackupServiceProvider
	eventSvc  services.EventServiceProvider
	hub       *websocket.Hub
	interval  time.Duration
	ticker    *time.Ticker
	done      chan bool

	mu        sync.Mutex
	unhealthy map[string]bool // job id -> last known degraded state
}

// NewHealthUpdater creates a new HealthUpdater.
func NewHealthUpdater(backupSvc services.BackupServiceProvider, eventSvc services.EventServiceProvider, hub *websocket.Hub, interval time.Duration) *HealthUpdater {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &HealthUpdater{
		backupSvc: backupSvc,
		eventSvc:  eventSvc,
		hub:       hub,
		interval:  interval,
		done:      make(chan bool),
		unhealthy: make(map[string]bool),
	}
}

// Run starts the periodic checks.
func (h *HealthUpdater) Run() {
	log.Info().Dur("interval", h.interval).Msg("Starting backup health updater...")
	h.ticker = time.NewTicker(h.interval)
	defer h.ticker.Stop()

	for {
		select {
		case <-h.done:
			log.Info().Msg("Stopping backup health updater.")
			return
		case <-h.ticker.C:
			h.checkAllJobs()
		}
	}
}

// Stop halts the periodic checks.
func (h *HealthUpdater) Stop() {
	h.done <- true
}

func (h *HealthUpdater) checkAllJobs() {
	jobs, err := h.backupSvc.GetAllJobs()
	if err != nil {
		log.Error().Err(err).Msg("HealthUpdater: failed to query jobs")
		return
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		job := job
		go h.checkJob(job.ID, job.Name, job.ServerID)
	}
}

func (h *HealthUpdater) checkJob(jobID, jobName, serverID string) {
	status, err := h.backupSvc.HealthCheck(jobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("HealthUpdater: check failed")
		return
	}

	if h.hub != nil {
		if msg := websocket.NewMessage("backup.health", map[string]interface{}{
			"jobId":  jobID,
			"status": status,
		}); msg != nil {
			h.hub.BroadcastTo(serverID, msg)
		}
	}

	h.mu.Lock()
	wasUnhealthy := h.unhealthy[jobID]
	h.unhealthy[jobID] = !status.Healthy
	h.mu.Unlock()

	// Only edge transitions raise events, not every degraded tick.
	if !status.Healthy && !wasUnhealthy {
		h.eventSvc.CreateEvent("backup.health.degraded", "warn",
			fmt.Sprintf("Backup pipeline for job '%s' is degraded: %s", jobName, strings.Join(status.Issues, "; ")), &serverID)
	}
	if status.Healthy && wasUnhealthy {
		h.eventSvc.CreateEvent("backup.health.recovered", "info",
			fmt.Sprintf("Backup pipeline for job '%s' recovered", jobName), &serverID)
	}
}
