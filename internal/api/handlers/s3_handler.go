package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexpostgres/nexpostgres/internal/models"
	"github.com/nexpostgres/nexpostgres/internal/services"
)

// S3Handler handles HTTP requests related to object-store targets.
type S3Handler struct {
	service services.S3ServiceProvider
}

// NewS3Handler creates a new S3Handler.
func NewS3Handler(service services.S3ServiceProvider) *S3Handler {
	return &S3Handler{service: service}
}

// GetAll handles the request to list all targets.
func (h *S3Handler) GetAll(w http.ResponseWriter, r *http.Request) {
	targets, err := h.service.GetAllTargets()
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

// Get handles the request to get one target.
func (h *S3Handler) Get(w http.ResponseWriter, r *http.Request) {
	target, err := h.service.GetTargetByID(chi.URLParam(r, "id"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

type s3Payload struct {
	models.S3Target
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

// Create handles the request to register a target.
func (h *S3Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload s3Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	payload.S3Target.AccessKey = payload.AccessKey
	payload.S3Target.SecretKey = payload.SecretKey

	target, err := h.service.CreateTarget(payload.S3Target)
	if err != nil {
		http.Error(w, "Failed to create S3 target: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

// Update handles the request to edit a target.
func (h *S3Handler) Update(w http.ResponseWriter, r *http.Request) {
	var payload s3Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	payload.S3Target.AccessKey = payload.AccessKey
	payload.S3Target.SecretKey = payload.SecretKey

	target, err := h.service.UpdateTarget(chi.URLParam(r, "id"), payload.S3Target)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// Delete handles the request to remove a target.
func (h *S3Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteTarget(chi.URLParam(r, "id")); err != nil {
		http.Error(w, "Failed to delete S3 target: "+err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles the request to verify a target's bucket is reachable.
func (h *S3Handler) Test(w http.ResponseWriter, r *http.Request) {
	if err := h.service.TestTarget(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, "Bucket check failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Bucket reachable"})
}
