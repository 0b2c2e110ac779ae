package api

import (
	"context"
	"net/http"
	"time"

	"github.com/acmetech/docchat/internal/log"
	"github.com/acmetech/docchat/internal/store"
)

// HealthStore is the slice of the fragment store the health probe needs.
type HealthStore interface {
	Stats(ctx context.Context) (store.Stats, error)
}

type healthResponse struct {
	Status      string `json:"status"`
	VectorCount int64  `json:"vector_count"`
	Timestamp   string `json:"timestamp"`
}

type healthHandler struct {
	store  HealthStore
	logger log.Logger
}

// get handles GET /health. The probe reports unhealthy when the store is
// unreachable but still answers 200 so load balancers can read the payload.
func (h *healthHandler) get(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Warn("health check failed", "error", err)
		resp.Status = "unhealthy"
	} else {
		resp.VectorCount = stats.TotalVectors
	}

	writeJSON(w, http.StatusOK, resp, h.logger)
}
