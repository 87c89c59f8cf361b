package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/services"
)

// RestoreHandler handles HTTP requests related to restores.
type RestoreHandler struct {
	service services.RestoreServiceProvider
}

// NewRestoreHandler creates a new RestoreHandler.
func NewRestoreHandler(service services.RestoreServiceProvider) *RestoreHandler {
	return &RestoreHandler{service: service}
}

// Start handles the request to restore a database. The restore runs in the
// background; clients poll the restore logs for progress and outcome.
func (h *RestoreHandler) Start(w http.ResponseWriter, r *http.Request) {
	databaseID := chi.URLParam(r, "id")

	var req services.RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	go func() {
		if _, err := h.service.Restore(databaseID, req); err != nil {
			log.Error().Err(err).Str("database_id", databaseID).Msg("Restore failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Restore started"})
}

// GetLogs handles the request for a database's restore history.
func (h *RestoreHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.service.GetRestoreLogs(chi.URLParam(r, "id"), limit)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// GetLog handles the request for one restore record, for status polling.
func (h *RestoreHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetLogByID(chi.URLParam(r, "logId"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
