// Command smartmob-agent is the entry point for the remote process-runner
// agent (spec.md §1/§6). It wires the registry, request surface, and
// audit trail together and drives graceful shutdown on SIGINT/SIGTERM,
// following the teacher's cmd/serve/main.go wiring style: flags, a JSON
// slog logger, a signal-driven shutdown goroutine that cancels a shared
// context.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/smartmob-project/smartmob-agent/internal/audit"
	"github.com/smartmob-project/smartmob-agent/internal/fetcher"
	"github.com/smartmob-project/smartmob-agent/internal/registry"
	"github.com/smartmob-project/smartmob-agent/internal/server"
	"github.com/smartmob-project/smartmob-agent/internal/supervisor"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	host := flag.String("host", envOrDefault("SMARTMOB_HOST", "0.0.0.0"), "address to listen on")
	port := flag.String("port", envOrDefault("SMARTMOB_PORT", "8080"), "port to listen on")
	scratchDir := flag.String("scratch-dir", envOrDefault("SMARTMOB_SCRATCH_DIR", "/var/lib/smartmob-agent/scratch"), "directory for per-process fetch/extract scratch space")
	dataDir := flag.String("data-dir", envOrDefault("SMARTMOB_DATA_DIR", "/var/lib/smartmob-agent"), "directory for the audit trail database")
	fetchTimeout := flag.Duration("fetch-timeout", 5*time.Minute, "ceiling on archive download (extraction is not timed; the fetcher's own 5m ceiling also applies)")
	gracePeriod := flag.Duration("grace-period", 10*time.Second, "time to wait after SIGTERM before SIGKILL")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("starting smartmob-agent", "host", *host, "port", *port)

	if err := os.MkdirAll(*scratchDir, 0o755); err != nil {
		logger.Error("failed to create scratch directory", "path", *scratchDir, "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", *dataDir, "error", err)
		os.Exit(1)
	}

	auditDB := sqlx.MustConnect("sqlite3", filepath.Join(*dataDir, "audit.db"))
	defer auditDB.Close()
	auditLogger, err := audit.NewLogger(auditDB)
	if err != nil {
		logger.Error("failed to initialize audit logger", "error", err)
		os.Exit(1)
	}
	logger.Info("audit logger initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := supervisor.Config{
		ScratchDir:  *scratchDir,
		GracePeriod: *gracePeriod,
		Logger:      logger,
		Audit:       auditLogger,
		Download: func(ctx context.Context, url, destDir string) (fetcher.Archive, error) {
			ctx, cancel := context.WithTimeout(ctx, *fetchTimeout)
			defer cancel()
			return fetcher.Download(ctx, url, destDir)
		},
	}
	reg := registry.New(ctx, cfg, auditLogger)

	srv := server.New(reg, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", *host, *port),
		Handler: srv,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownComplete := make(chan struct{})
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown did not complete cleanly", "error", err)
		}

		logger.Info("requesting delete for every supervised process")
		reg.Shutdown()

		cancel()
		close(shutdownComplete)
	}()

	logger.Info("listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}

	<-shutdownComplete
	logger.Info("smartmob-agent shut down cleanly")
}
