package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"txguard/internal/api"
	"txguard/internal/audit"
	"txguard/internal/config"
	"txguard/internal/engine"
	"txguard/internal/ingest"
	"txguard/internal/logging"
	"txguard/internal/memory"
	"txguard/internal/storage"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "txguard:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "configs/txguard.yaml", "Path to YAML or JSON config")
	envFile := flag.String("env-file", ".env", "Optional .env file")
	watch := flag.Bool("watch", false, "Reload the config file when it changes")
	writeConfig := flag.String("write-config", "", "Write the default config to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		return config.Save(*writeConfig, config.DefaultConfig())
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}
	path := *cfgPath
	if v := os.Getenv(config.EnvConfigPath); v != "" {
		path = v
	}

	manager, err := newManager(config.ResolvePath(path))
	if err != nil {
		return err
	}
	cfg := manager.Get()

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting txguard", "version", version, "config", manager.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		logger.Info("report archive enabled", "driver", cfg.Storage.Driver)
	}

	auditLog := audit.NewLog()
	memoryStore := memory.NewStore()
	eng := engine.NewEngine(cfg, logger, auditLog, memoryStore, store)

	manager.OnChange(func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "known_locations", next.Detection.KnownLocations)
	})
	if *watch {
		stopWatch, err := manager.Watch(func(err error) {
			logger.Warn("config reload failed, keeping previous config", "err", err)
		})
		if err != nil {
			logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	api.Start(ctx, manager, auditLog, memoryStore, store, eng, logger, version)
	ingest.StartREST(ctx, manager, eng, logger)
	ingest.StartKafka(ctx, manager, eng, logger)
	if err := ingest.StartInbox(ctx, manager, eng, logger); err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	if _, err := ingest.StartTCPStream(ctx, manager, eng, logger); err != nil {
		return fmt.Errorf("tcp stream: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down", "log_entries", auditLog.Len())
	return nil
}

// newManager falls back to the built-in defaults when the config file does
// not exist, so the service runs without one.
func newManager(path string) (*config.Manager, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.DefaultConfig()
		config.ApplyEnv(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return config.NewStaticManager(cfg), nil
	}
	return config.NewManager(path)
}
