package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/microtower/pkg/runtime"
)

// Runtime is the view of the service runtime the handlers need.
type Runtime interface {
	Ready(ctx context.Context) error
	Services() []runtime.ServiceInfo
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	rt      Runtime
	timeout time.Duration
}

// NewHealthHandler creates a health handler. timeout bounds the readiness
// check; rt may be nil, in which case readiness always fails.
func NewHealthHandler(rt Runtime, timeout time.Duration) *HealthHandler {
	return &HealthHandler{rt: rt, timeout: timeout}
}

// Liveness handles GET /health. It succeeds as long as the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "microtower",
	}))
}

// Readiness handles GET /health/ready. It answers 200 once every listener is
// bound and every pool is ready, 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.rt == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("runtime not initialized", nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.rt.Ready(ctx); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error(), h.rt.Services()))
		return
	}

	WriteJSON(w, http.StatusOK, healthyResponse(map[string]int{
		"services": len(h.rt.Services()),
	}))
}
