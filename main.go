package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-pipeline/internal/convert"
	"media-pipeline/internal/database"
	"media-pipeline/internal/handlers"
	"media-pipeline/internal/ingest"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/middleware"
	"media-pipeline/internal/reconcile"
	"media-pipeline/internal/registry"
	"media-pipeline/internal/stats"
	"media-pipeline/internal/startup"
	"media-pipeline/internal/transcode"
)

func main() {
	ctx := context.Background()

	config, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}
	metrics.SetAppInfo(startup.Version, startup.Commit, runtime.Version())

	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		logging.Fatal("Failed to initialize database: %v", err)
	}
	defer db.Close()

	store, err := startup.NewObjectStore(ctx, config)
	if err != nil {
		logging.Fatal("Failed to initialize object store: %v", err)
	}

	// Periodic database connection metrics
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		for range ticker.C {
			db.UpdateDBMetrics()
		}
	}()

	if !config.VideoEnabled {
		logging.Warn("Video transcoding disabled: ffmpeg not available")
	}
	transcoder := transcode.New(db, transcode.NewFFmpegRunner(store, config.WorkDir), config.Transcode)
	converter := convert.New(db, store, convert.NewEncoder(config.ConvertFallback), config.Convert)
	reg := registry.New(db)
	processor := ingest.NewProcessor(db, reg, store, transcoder, converter)
	processor.MaxUploadBytes = config.MaxUploadMB * 1024 * 1024
	reconciler := reconcile.New(db, store, config.ReconcileInterval, config.Reconcile)
	reporter := stats.New(db)

	// Requeue work interrupted by the previous process before accepting
	// new submissions.
	if err := transcoder.Recover(ctx); err != nil {
		logging.Error("Transcode recovery failed: %v", err)
	}
	if err := converter.Recover(ctx); err != nil {
		logging.Error("Convert recovery failed: %v", err)
	}

	transcoder.Start()
	converter.Start()
	reconciler.Start(ctx)

	h := handlers.New(db, processor, reg, transcoder, converter, reconciler, reporter)
	router := mux.NewRouter()
	h.Register(router)

	handler := middleware.Logger(middleware.Metrics(router))

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:         ":" + config.MetricsPort,
		Handler:      metricsRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("Metrics server error: %v", err)
		}
	}()

	go handleShutdown(srv, metricsSrv, transcoder, converter, reconciler)

	startup.LogServerStarted(config.Port, config.MetricsPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("Server error: %v", err)
	}
}

func handleShutdown(srv, metricsSrv *http.Server, transcoder *transcode.Queue, converter *convert.Queue, reconciler *reconcile.Reconciler) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logging.Info("Stopping reconciler")
	reconciler.Stop()

	logging.Info("Stopping queues")
	transcoder.Stop()
	converter.Stop()

	logging.Info("Shutting down HTTP servers")
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logging.Warn("Metrics server shutdown error: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	}
	logging.Info("Shutdown complete")
}
