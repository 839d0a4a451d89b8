package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	h "github.com/phuonganhcorn/media-fetch/internal/api/http"
	cfgpkg "github.com/phuonganhcorn/media-fetch/internal/config"
	"github.com/phuonganhcorn/media-fetch/internal/orchestrator"
	"github.com/phuonganhcorn/media-fetch/internal/registry"
	"github.com/phuonganhcorn/media-fetch/internal/runner"
	"github.com/phuonganhcorn/media-fetch/internal/sink"
	"github.com/phuonganhcorn/media-fetch/internal/storage"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfgpkg.SetupLogger(cfg)
	slog.Info("configuration loaded successfully")

	store, err := storage.NewArtifactStore(cfg.DownloadDir)
	if err != nil {
		slog.Error("failed to initialize artifact store", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	ytdlp := runner.NewYtDlpRunner(cfg.DownloaderBin, cfg.KillGracePeriod, slog.Default())

	if version, err := ytdlp.Probe(context.Background()); err != nil {
		slog.Warn("downloader binary unreachable at startup, health will report degraded", "binary", cfg.DownloaderBin, "error", err)
	} else {
		slog.Info("downloader binary available", "binary", cfg.DownloaderBin, "version", version)
	}

	notify := sink.MultiSink{
		sink.NewLogSink(slog.Default()),
		sink.NewWebhookSink(slog.Default()),
	}

	orch := orchestrator.New(cfg, reg, store, ytdlp, notify, slog.Default())
	orch.Start()

	router := h.NewRouter(orch, slog.Default())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Error("orchestrator shutdown failed", "error", err)
	} else {
		slog.Info("server stopped gracefully")
	}
}
