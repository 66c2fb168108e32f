package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/config"
	"github.com/empiworks/empi-engine/pkg/services/workqueue"
)

// QueueStats is the slice of the work queue the health payload reports.
type QueueStats interface {
	Progress() workqueue.Progress
}

// StatusResponse contains service status and version information.
type StatusResponse struct {
	Status      string             `json:"status"`
	Version     string             `json:"version"`
	Service     string             `json:"service"`
	GoVersion   string             `json:"go_version"`
	Hostname    string             `json:"hostname"`
	Environment string             `json:"environment"`
	Queue       workqueue.Progress `json:"queue"`
}

// HealthHandler handles the root and health endpoints.
type HealthHandler struct {
	cfg    *config.Config
	queue  QueueStats
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with the given configuration.
func NewHealthHandler(cfg *config.Config, queue QueueStats, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, queue: queue, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Hello)
	mux.HandleFunc("GET /health", h.Health)
}

// Hello handles GET /. The body is fixed; smoke tests look for it.
func (h *HealthHandler) Hello(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Health handles GET /health requests.
// Returns service information, including how the batch queue is doing.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "empi-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Queue:       h.queue.Progress(),
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
