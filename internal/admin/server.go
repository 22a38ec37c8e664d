// Package admin exposes the worker's out-of-core-scope HTTP surface: a
// static root, readiness/liveness checks, and a text metrics page. None of
// it is read by the queue engine or the worker's dispatch path; it exists
// purely for an operator or an orchestrator's health probe.
package admin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LivenessChecker reports when the worker last completed a poll cycle. A
// *webhook.WebhookWorker satisfies this.
type LivenessChecker interface {
	Liveness() time.Time
}

// NewRouter builds the admin server's chi router. maxLag is the grace
// period a worker's liveness tick may lag before /_liveness reports
// unhealthy; the zero value disables the staleness check (useful before the
// worker's first tick).
func NewRouter(worker LivenessChecker, maxLag time.Duration) *chi.Mux {
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "hookrelay webhook worker")
	})

	// Static: once the process is serving HTTP at all it has already
	// completed database connection and migration at startup.
	r.Get("/_readiness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ready")
	})

	r.Get("/_liveness", func(w http.ResponseWriter, r *http.Request) {
		last := worker.Liveness()
		if last.IsZero() {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "alive (no poll cycle completed yet)")
			return
		}

		lag := time.Since(last)
		if maxLag > 0 && lag > maxLag {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy: last poll cycle %s ago exceeds grace period %s\n", lag, maxLag)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "alive: last poll cycle %s ago\n", lag)
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		last := worker.Liveness()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "hookrelay_worker_uptime_seconds %f\n", time.Since(started).Seconds())
		if !last.IsZero() {
			fmt.Fprintf(w, "hookrelay_worker_last_poll_seconds_ago %f\n", time.Since(last).Seconds())
		}
	})

	return r
}
