package handlers

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"media-pipeline/internal/reconcile"
	"media-pipeline/internal/startup"
)

var startTime = time.Now()

// HealthResponse contains the health check response.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Uptime         string `json:"uptime"`
	TranscodeDepth int    `json:"transcodeQueueDepth"`
	ConvertDepth   int    `json:"convertQueueDepth"`
	GoVersion      string `json:"goVersion"`
	NumGoroutine   int    `json:"numGoroutine"`
}

// HealthCheck reports liveness and queue depths.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, HealthResponse{
		Status:         "healthy",
		Version:        startup.Version,
		Uptime:         time.Since(startTime).Round(time.Second).String(),
		TranscodeDepth: h.transcoder.Depth(),
		ConvertDepth:   h.converter.Depth(),
		GoVersion:      runtime.Version(),
		NumGoroutine:   runtime.NumGoroutine(),
	})
}

// ReadyCheck reports readiness: the process serves once the database
// answers queries.
func (h *Handlers) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.db.MediaCountByStatus(r.Context()); err != nil {
		writeJSONError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// Version returns build information.
func (h *Handlers) Version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, startup.GetBuildInfo())
}

// Stats returns the headline dedup efficiency summary.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.reporter.GetStats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, s)
}

// DetailedStats returns the full efficiency report. Query param topN bounds
// the duplicated-hash ranking.
func (h *Handlers) DetailedStats(w http.ResponseWriter, r *http.Request) {
	topN := 10
	if v := r.URL.Query().Get("topN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topN = n
		}
	}

	ds, err := h.reporter.GetDetailedStats(r.Context(), topN)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, ds)
}

// TriggerReconcile runs one sweep immediately. Admin only; dryRun defaults
// to true unless explicitly disabled.
func (h *Handlers) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if !caller.Admin {
		writeJSONError(w, "forbidden", http.StatusForbidden)
		return
	}

	opts := reconcile.DefaultOptions()
	opts.DryRun = r.URL.Query().Get("dryRun") != "false"
	if v := r.URL.Query().Get("minAge"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			opts.MinAge = d
		}
	}

	report, err := h.reconciler.Run(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, report)
}

// PurgeHash removes a digest from the registry. Admin only; refused with
// 409 while any media record still references the hash.
func (h *Handlers) PurgeHash(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if !caller.Admin {
		writeJSONError(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := h.registry.Purge(r.Context(), mux.Vars(r)["hash"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
