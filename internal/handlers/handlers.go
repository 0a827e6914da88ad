package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"media-pipeline/internal/convert"
	"media-pipeline/internal/database"
	"media-pipeline/internal/ingest"
	"media-pipeline/internal/reconcile"
	"media-pipeline/internal/registry"
	"media-pipeline/internal/stats"
	"media-pipeline/internal/transcode"
)

// Handlers wires the pipeline components to the HTTP API.
type Handlers struct {
	db         *database.Database
	processor  *ingest.Processor
	registry   *registry.Registry
	transcoder *transcode.Queue
	converter  *convert.Queue
	reconciler *reconcile.Reconciler
	reporter   *stats.Reporter
}

// New creates the handler set.
func New(db *database.Database, processor *ingest.Processor, reg *registry.Registry, transcoder *transcode.Queue, converter *convert.Queue, reconciler *reconcile.Reconciler, reporter *stats.Reporter) *Handlers {
	return &Handlers{
		db:         db,
		processor:  processor,
		registry:   reg,
		transcoder: transcoder,
		converter:  converter,
		reconciler: reconciler,
		reporter:   reporter,
	}
}

// Register attaches all routes to the router.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.ReadyCheck).Methods(http.MethodGet)
	r.HandleFunc("/api/version", h.Version).Methods(http.MethodGet)

	r.HandleFunc("/api/media", h.Upload).Methods(http.MethodPost)
	r.HandleFunc("/api/media/{id}", h.GetMedia).Methods(http.MethodGet)
	r.HandleFunc("/api/media/{id}", h.DeleteMedia).Methods(http.MethodDelete)

	r.HandleFunc("/api/transcode", h.SubmitTranscode).Methods(http.MethodPost)
	r.HandleFunc("/api/transcode/{jobId}", h.TranscodeStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/transcode/{jobId}", h.CancelTranscode).Methods(http.MethodDelete)

	r.HandleFunc("/api/convert", h.SubmitConvert).Methods(http.MethodPost)
	r.HandleFunc("/api/convert/{taskId}", h.ConvertStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/convert/{taskId}", h.CancelConvert).Methods(http.MethodDelete)

	r.HandleFunc("/api/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/detailed", h.DetailedStats).Methods(http.MethodGet)

	r.HandleFunc("/api/admin/reconcile", h.TriggerReconcile).Methods(http.MethodPost)
	r.HandleFunc("/api/admin/hashes/{hash}", h.PurgeHash).Methods(http.MethodDelete)
}
