// Package health serves liveness and readiness probes for a voxnode process.
//
// GET /healthz answers 200 as long as the process can serve HTTP. GET /readyz
// runs every registered [Checker] concurrently and answers 503 when any of
// them fails. Both bodies are a JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Report statuses.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// Checker is one named readiness probe.
type Checker struct {
	// Name labels the probe in a [Report] ("storage", "recognition").
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx.
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Report is the body of both probe endpoints.
type Report struct {
	Status  string        `json:"status"`
	Version string        `json:"version,omitempty"`
	Checks  []CheckResult `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == StatusOK }

// Handler serves the probe endpoints. The checker list is fixed at
// construction.
type Handler struct {
	version  string
	checkers []Checker
}

// New returns a Handler reporting version and evaluating checkers on each
// readiness request.
func New(version string, checkers ...Checker) *Handler {
	return &Handler{version: version, checkers: append([]Checker(nil), checkers...)}
}

// Check runs every checker concurrently, each under its own [checkTimeout],
// and collects the results in registration order.
func (h *Handler) Check(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{
				Name:     c.Name,
				Status:   StatusOK,
				Duration: time.Since(start).Round(time.Microsecond).String(),
			}
			if err != nil {
				res.Status = StatusFail
				res.Error = err.Error()
			}
			results[i] = res
		})
	}
	wg.Wait()

	rep := Report{Status: StatusOK, Version: h.version, Checks: results}
	for _, res := range results {
		if res.Status != StatusOK {
			rep.Status = StatusFail
			break
		}
	}
	return rep
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK, Version: h.version})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
