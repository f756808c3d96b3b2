package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/service"
)

// HealthHandler reports whether the storage engine is reachable.
type HealthHandler struct {
	catalogue *service.CatalogueService
	l         *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(catalogue *service.CatalogueService, l *zap.Logger) *HealthHandler {
	return &HealthHandler{
		catalogue: catalogue,
		l:         l,
	}
}

// HandleHealthz handles GET /healthz.
// It responds 503 if the storage round-trip fails.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	report, err := h.catalogue.Health(r.Context())

	res := HealthDTO{
		Status:   "ok",
		Mode:     string(report.Mode),
		Revision: report.Revision,
	}

	if err != nil {
		h.l.Warn("Health check failed.", zap.Error(err))

		res.Status = "unavailable"
		w.Header().Set("Retry-After", "1")
		writeJSON(w, h.l, http.StatusServiceUnavailable, res)

		return
	}

	writeJSON(w, h.l, http.StatusOK, res)
}
