package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/services"
)

// BackupHandler handles HTTP requests related to backup jobs.
type BackupHandler struct {
	service services.BackupServiceProvider
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(service services.BackupServiceProvider) *BackupHandler {
	return &BackupHandler{service: service}
}

// GetAll handles the request to list all backup jobs.
func (h *BackupHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.GetAllJobs()
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Get handles the request to get one job.
func (h *BackupHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJobByID(chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type jobPayload struct {
	models.BackupJob
	Passphrase string `json:"passphrase"`
}

// Create handles the request to schedule a backup job.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload jobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	payload.BackupJob.Passphrase = payload.Passphrase

	job, err := h.service.CreateJob(payload.BackupJob)
	if err != nil {
		http.Error(w, "Failed to create backup job: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// Update handles the request to edit a job.
func (h *BackupHandler) Update(w http.ResponseWriter, r *http.Request) {
	var payload jobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	payload.BackupJob.Passphrase = payload.Passphrase

	job, err := h.service.UpdateJob(chi.URLParam(r, "id"), payload.BackupJob)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Delete handles the request to remove a job. Its trigger goes with it.
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteJob(chi.URLParam(r, "id")); err != nil {
		serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetEnabled handles the request to pause or resume a job.
func (h *BackupHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.service.SetEnabled(chi.URLParam(r, "id"), payload.Enabled)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Run handles the request to trigger a job immediately. The run itself
// happens in the background; clients poll the logs for the outcome.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.service.GetJobByID(id); err != nil {
		serviceError(w, err)
		return
	}

	go func() {
		if _, err := h.service.RunJob(id, true); err != nil {
			log.Error().Err(err).Str("job_id", id).Msg("Manual backup run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Backup run started"})
}

// GetLogs handles the request for a job's run history.
func (h *BackupHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.service.GetJobLogs(chi.URLParam(r, "id"), limit)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// GetLog handles the request for one run record, used for status polling.
func (h *BackupHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetLogByID(chi.URLParam(r, "logId"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ListRemote handles the request for the backup catalogue in the object
// store. An empty list means unknown, not proof that no backups exist.
func (h *BackupHandler) ListRemote(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListRemoteBackups(chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	if records == nil {
		records = []models.BackupRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Health handles the request for a job's pipeline health check.
func (h *BackupHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.HealthCheck(chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
