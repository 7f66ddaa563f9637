// Package health provides HTTP liveness and readiness handlers for the
// Dealscribe server.
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when every registered
//     probe passes (e.g. the completion provider and the audit sink).
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "probes" map with one entry per named probe.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Run should return nil when the
// dependency is usable and an error describing the failure otherwise, and
// must respect context cancellation.
type Probe struct {
	// Name is a short label for this probe (e.g. "provider", "audit").
	// It appears as a key in the JSON response.
	Name string

	// Run checks the dependency.
	Run func(ctx context.Context) error
}

type report struct {
	Status string            `json:"status"`
	Probes map[string]string `json:"probes,omitempty"`
}

// Handler serves /healthz and /readyz. The probe list is fixed at
// construction time; Handler is safe for concurrent use.
type Handler struct {
	probes []Probe
}

// New creates a [Handler] that evaluates the given probes, in order, on each
// /readyz request.
func New(probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{probes: p}
}

// Healthz always returns 200 OK. A process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz returns 200 only when every registered [Probe] passes. Each probe
// runs under a [probeTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	probes := make(map[string]string, len(h.probes))
	status := http.StatusOK

	res := report{Status: "ok", Probes: probes}
	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Run(ctx)
		cancel()

		if err != nil {
			probes[p.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			probes[p.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
