// Package health serves liveness and readiness probes.
//
//   - GET /healthz always answers 200 while the process can serve HTTP.
//   - GET /readyz runs every registered [Checker] concurrently. A failing
//     critical checker makes the service unready (503). A failing
//     non-critical checker, such as the backend being offline, only marks it
//     "degraded" (200).
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicecmd/internal/resilience"
	"github.com/MrWong99/voicecmd/pkg/storage"
)

const checkTimeout = 5 * time.Second

// Overall and per-check statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is one named readiness check.
type Checker struct {
	Name string

	// Check returns nil when the dependency is healthy. It must respect ctx.
	Check func(ctx context.Context) error

	// Critical failures make the service unready.
	Critical bool
}

// Report is the body of a probe response.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler].
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Evaluate(r.Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Evaluate runs all checkers concurrently, each bounded by a 5s timeout.
func (h *Handler) Evaluate(ctx context.Context) Report {
	var (
		mu       sync.Mutex
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = StatusOK
			case c.Critical:
				checks[c.Name] = StatusFail + ": " + err.Error()
				failed = true
			default:
				checks[c.Name] = StatusDegraded + ": " + err.Error()
				degraded = true
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Report{Status: StatusOK, Checks: checks}
	switch {
	case failed:
		res.Status = StatusFail
	case degraded:
		res.Status = StatusDegraded
	}
	return res
}

// Register adds the probe routes to mux.
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

// ─── Checkers ───

// probeKey is read by [StoreCheck]. It is never written.
const probeKey = "voicecmd.health"

// StoreCheck verifies that the queue's persistent store answers reads.
// A missing key counts as healthy.
func StoreCheck(s storage.Store) Checker {
	return Checker{
		Name:     "storage",
		Critical: true,
		Check: func(ctx context.Context) error {
			if _, err := s.Load(ctx, probeKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			return nil
		},
	}
}

// NetworkCheck reports whether the command backend is reachable.
func NetworkCheck(online func() bool) Checker {
	return Checker{
		Name: "network",
		Check: func(context.Context) error {
			if !online() {
				return errors.New("offline, commands are queued")
			}
			return nil
		},
	}
}

// BreakerCheck reports an open circuit breaker.
func BreakerCheck(cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: "breaker:" + cb.Name(),
		Check: func(context.Context) error {
			if st := cb.State(); st == resilience.StateOpen {
				return fmt.Errorf("circuit %s", st)
			}
			return nil
		},
	}
}
