package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/file-annotator/internal/adapters/http"
	"github.com/kirillkom/file-annotator/internal/bootstrap"
	"github.com/kirillkom/file-annotator/internal/config"
	"github.com/kirillkom/file-annotator/internal/observability/logging"
	"github.com/kirillkom/file-annotator/internal/observability/metrics"
)

const serviceName = "annotator-api"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// With the in-process queue nothing else would consume the jobs.
	workersDone := make(chan struct{})
	if app.InProcessQueue() {
		go func() {
			defer close(workersDone)
			if err := app.Queue.Subscribe(ctx, app.HandleJob); err != nil {
				slog.Error("in_process_worker_failed", "error", err)
			}
		}()
		slog.Info("in_process_worker_started", "concurrency", cfg.WorkerConcurrency)
	} else {
		close(workersDone)
	}

	router := httpadapter.NewRouter(cfg, app.IntakeUC, app.IntakeUC).
		WithMetrics(metrics.NewHTTPServerMetrics(serviceName)).
		Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
	// Drain closes the in-process queue; the workers exit once it is empty.
	if err := app.Drain(shutdownCtx); err != nil {
		slog.Warn("in_process_drain_incomplete", "error", err)
		return
	}
	<-workersDone
}
