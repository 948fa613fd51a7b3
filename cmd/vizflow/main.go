package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vizflow/vizflow/internal/history"
	"github.com/vizflow/vizflow/internal/logging"
	"github.com/vizflow/vizflow/internal/render"
	"github.com/vizflow/vizflow/internal/streaming"
	"github.com/vizflow/vizflow/internal/viewer"
)

func main() {
	var (
		configPath  = flag.String("config", "vizflow.yaml", "path to the YAML config file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(versionString())
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "vizflow:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})
	logger := slog.New(logging.NewCorrelationHandler(handler))
	slog.SetDefault(logger)

	logger.Info("starting vizflow",
		slog.String("version", versionString()),
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("engine", cfg.Engine.Kind))

	// History store: libsql when a path is configured, in-memory otherwise.
	var store history.Store
	if cfg.DBPath != "" {
		libsql, err := history.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return err
		}
		if err := libsql.Migrate(context.Background()); err != nil {
			libsql.Close()
			return err
		}
		store = libsql
	} else {
		logger.Warn("no db_path configured, history is in-memory only")
		store = history.NewMemoryStore()
	}
	defer store.Close()

	engine, err := render.New(cfg.engineConfig(), logger)
	if err != nil {
		return err
	}

	hub := streaming.NewMemoryHub()
	manager := viewer.NewManager(store, hub, engine, cfg.schedulerConfig(), logger)
	defer manager.Close()

	if cfg.SeedManifest != "" {
		if err := viewer.LoadSeed(context.Background(), cfg.SeedManifest, store, logger); err != nil {
			return err
		}
	}

	if cfg.Janitor.Enabled {
		janitor, err := viewer.NewJanitor(manager, cfg.Janitor.Schedule, cfg.janitorTTL(), logger)
		if err != nil {
			return err
		}
		if err := janitor.Start(); err != nil {
			return err
		}
		defer janitor.Stop()
	}

	server := viewer.NewServer(viewer.Deps{
		Store:   store,
		Manager: manager,
		Hub:     hub,
		Logger:  logger,
	})
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	return nil
}
