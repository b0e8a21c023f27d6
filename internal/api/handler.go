// Package api provides shared HTTP helpers and the health endpoints of the agent server.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/agent-chat/internal/config"
	"github.com/ashureev/agent-chat/internal/domain"
	"github.com/go-chi/chi/v5"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ConfigHandler exposes the limits a chat client should respect.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler creates a config handler.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetConfig returns upload limits and the active provider.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"provider":            h.cfg.Provider,
		"max_upload_bytes":    h.cfg.MaxUploadBytes,
		"accepted_extensions": domain.AcceptedExtensions,
	})
}

// RegisterRoutes registers the config route.
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.GetConfig)
}
