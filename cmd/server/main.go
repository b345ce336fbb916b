package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/clipgenie/clipforge/internal/config"
	"github.com/clipgenie/clipforge/internal/dispatch"
	"github.com/clipgenie/clipforge/internal/handler"
	"github.com/clipgenie/clipforge/internal/repository"
	"github.com/clipgenie/clipforge/internal/segment"
	"github.com/clipgenie/clipforge/internal/storage"
	"github.com/clipgenie/clipforge/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected")

	store, err := storage.New(ctx, storage.Config{
		Region:          cfg.AWSRegion,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return fmt.Errorf("create object store client: %w", err)
	}

	jobRepo := repository.NewJobRepository(db)
	segmenter := segment.NewFFmpeg(cfg.FFmpegBinary, cfg.FFmpegTimeout)
	proc := worker.New(jobRepo, store, segmenter, cfg.ClipDuration, slog.Default())

	queue := dispatch.NewQueue(proc, cfg.QueueSize, cfg.WorkerCount, 3, slog.Default())
	queue.Start(ctx)

	var dispatcher dispatch.Dispatcher = queue
	if cfg.DispatchMode == config.DispatchModeHTTP {
		dispatcher = dispatch.NewHTTP(cfg.WorkerURL, slog.Default())
	}

	reconciler := worker.NewReconciler(jobRepo, dispatcher, store,
		cfg.ReconcileInterval, cfg.RequeuePendingAfter, cfg.FailProcessingAfter, slog.Default())
	go reconciler.Run(ctx)

	videoHandler := handler.NewVideoHandler(jobRepo, store, dispatcher, queue, cfg.MaxUploadBytes)

	r := chi.NewRouter()

	r.Use(handler.RequestID)
	r.Use(handler.Logger)
	r.Use(handler.Recover)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/videos/upload", videoHandler.Upload)
		r.Get("/videos/status/{jobID}", videoHandler.Status)
		r.Get("/videos/{jobID}/clips/{index}", videoHandler.DownloadClip)
	})

	// Worker invocation endpoint; only used in http dispatch mode but always
	// mounted so an external queue can re-drive jobs.
	r.Post("/internal/process", videoHandler.ProcessTrigger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "dispatch_mode", cfg.DispatchMode)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	cancel()
	queue.Wait()

	slog.Info("server stopped gracefully")
	return nil
}
