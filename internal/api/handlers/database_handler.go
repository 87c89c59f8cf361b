package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/services"
)

// DatabaseHandler handles HTTP requests related to managed databases.
type DatabaseHandler struct {
	service services.DatabaseServiceProvider
}

// NewDatabaseHandler creates a new DatabaseHandler.
func NewDatabaseHandler(service services.DatabaseServiceProvider) *DatabaseHandler {
	return &DatabaseHandler{service: service}
}

// GetAll handles the request to list all managed databases.
func (h *DatabaseHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	if serverID := r.URL.Query().Get("serverId"); serverID != "" {
		dbs, err := h.service.GetDatabasesByServer(serverID)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dbs)
		return
	}

	dbs, err := h.service.GetAllDatabases()
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dbs)
}

// Get handles the request to get one database.
func (h *DatabaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.GetDatabaseByID(chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Create handles the request to create a database on a server.
func (h *DatabaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ServerID string `json:"serverId"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.service.CreateDatabase(payload.ServerID, payload.Name)
	if err != nil {
		http.Error(w, "Failed to create database: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// Delete handles the request to drop a database.
func (h *DatabaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteDatabase(chi.URLParam(r, "id")); err != nil {
		serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync handles the request to reconcile the catalogue with a server.
func (h *DatabaseHandler) Sync(w http.ResponseWriter, r *http.Request) {
	dbs, err := h.service.SyncDatabases(chi.URLParam(r, "serverId"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dbs)
}

// GetUsers handles the request to list a database's managed roles.
func (h *DatabaseHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.GetUsers(chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// CreateUser handles the request to create a login role on a database.
func (h *DatabaseHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		Combination string `json:"combination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.service.CreateUser(chi.URLParam(r, "id"), payload.Username, payload.Password, payload.Combination)
	if err != nil {
		http.Error(w, "Failed to create user: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// DeleteUser handles the request to drop a login role.
func (h *DatabaseHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(chi.URLParam(r, "id"), chi.URLParam(r, "userId")); err != nil {
		serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPermissions handles the request for a role's effective privileges.
func (h *DatabaseHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "username query parameter is required", http.StatusBadRequest)
		return
	}

	set, combination, err := h.service.GetPermissions(chi.URLParam(r, "id"), username)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"permissions": set,
		"combination": combination,
	})
}

// SetPermissions handles the request to reconcile a role's privileges. The
// body carries either a named combination or an explicit permission set.
func (h *DatabaseHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username    string                `json:"username"`
		Combination string                `json:"combination,omitempty"`
		Permissions *models.PermissionSet `json:"permissions,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var set models.PermissionSet
	switch {
	case payload.Combination != "":
		named, ok := models.CombinationSet(payload.Combination)
		if !ok {
			http.Error(w, "Unknown permission combination: "+payload.Combination, http.StatusBadRequest)
			return
		}
		set = named
	case payload.Permissions != nil:
		set = *payload.Permissions
	default:
		http.Error(w, "Either combination or permissions is required", http.StatusBadRequest)
		return
	}

	if err := h.service.SetPermissions(chi.URLParam(r, "id"), payload.Username, set); err != nil {
		http.Error(w, "Failed to set permissions: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Permissions updated"})
}
