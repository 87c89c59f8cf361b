package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/services"
)

// ServerHandler handles HTTP requests related to servers.
type ServerHandler struct {
	service services.ServerServiceProvider
}

// NewServerHandler creates a new ServerHandler.
func NewServerHandler(service services.ServerServiceProvider) *ServerHandler {
	return &ServerHandler{service: service}
}

// GetAll handles the request to get all servers.
func (h *ServerHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	servers, err := h.service.GetAllServers()
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

// Get handles the request to get a single server by its ID.
func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	server, err := h.service.GetServerByID(chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

// Create handles the request to register a new server.
func (h *ServerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		models.Server
		SSHKey string `json:"sshKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	payload.Server.SSHKeyContent = payload.SSHKey

	server, err := h.service.CreateServer(payload.Server)
	if err != nil {
		http.Error(w, "Failed to create server: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, server)
}

// Update handles the request to update an existing server.
func (h *ServerHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var payload struct {
		models.Server
		SSHKey string `json:"sshKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	payload.Server.SSHKeyContent = payload.SSHKey

	server, err := h.service.UpdateServer(id, payload.Server)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

// Delete handles the request to delete a server.
func (h *ServerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteServer(chi.URLParam(r, "id")); err != nil {
		serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestConnection handles the request to verify a server is reachable.
func (h *ServerHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.service.TestConnection(chi.URLParam(r, "id")); err != nil {
		http.Error(w, "Connection failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Connection successful"})
}

// Initialize handles the request to install PostgreSQL and the backup tool
// on a server. Long-running, so it is accepted and runs in the background.
func (h *ServerHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.service.GetServerByID(id); err != nil {
		serviceError(w, err)
		return
	}

	go func() {
		if err := h.service.InitializeServer(id); err != nil {
			log.Error().Err(err).Str("server_id", id).Msg("Server initialization failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Initialization started"})
}

// GetVersion handles the request for the PostgreSQL version on a server.
func (h *ServerHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.service.GetVersion(chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}
