package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ServiceHandler exposes the bindings of the runtime.
type ServiceHandler struct {
	rt Runtime
}

// NewServiceHandler creates a service handler.
func NewServiceHandler(rt Runtime) *ServiceHandler {
	return &ServiceHandler{rt: rt}
}

// List handles GET /api/v1/services.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, okResponse(h.rt.Services()))
}

// Get handles GET /api/v1/services/{name}.
func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, info := range h.rt.Services() {
		if info.Name == name {
			WriteJSON(w, http.StatusOK, okResponse(info))
			return
		}
	}
	NotFound(w, fmt.Sprintf("service %q not found", name))
}
