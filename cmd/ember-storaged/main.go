// ABOUTME: Entry point for the ember storage host daemon
// ABOUTME: Opens the configured backend and serves change events until signalled

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/emberchat/ember/internal/config"
	"github.com/emberchat/ember/internal/coordinator"
	"github.com/emberchat/ember/internal/diag"
	"github.com/emberchat/ember/internal/service"
	"github.com/emberchat/ember/internal/storage"
	_ "github.com/emberchat/ember/internal/storage/flatstore"
	_ "github.com/emberchat/ember/internal/storage/treestore"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _
   ___ _ __ ___ | |__   ___ _ __
  / _ \ '_ ' _ \| '_ \ / _ \ '__|
 |  __/ | | | | | |_) |  __/ |
  \___|_| |_| |_|_.__/ \___|_|   storaged
`

// getConfigPath returns the path to the config file.
// Priority: EMBER_CONFIG env var > ./ember.yaml > ~/.config/ember/ember.yaml
func getConfigPath() string {
	if envPath := os.Getenv("EMBER_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("ember.yaml"); err == nil {
		return "ember.yaml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "ember.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "ember", "ember.yaml")
}

// loadConfig loads the config file, falling back to defaults when none
// exists anywhere on the search path.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config.Default(), "(defaults)", nil
		}
		return nil, path, err
	}
	return cfg, path, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Data:    %s\n", cfg.Storage.DataDir)
	green.Print("    ▶ ")
	fmt.Printf("Backend: %s\n", cfg.Storage.Backend)
	fmt.Println()

	logger.Info("starting ember-storaged",
		"config", configPath,
		"data_dir", cfg.Storage.DataDir,
		"backend", cfg.Storage.Backend,
	)

	kind, err := storage.ParseKind(cfg.Storage.Backend)
	if err != nil {
		return err
	}
	provider, err := storage.Open(kind, storage.Config{
		DataDir: cfg.Storage.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("opening %s backend: %w", kind, err)
	}
	defer provider.Close()
	if err := provider.Init(ctx); err != nil {
		return fmt.Errorf("initializing %s backend: %w", kind, err)
	}

	// The stored settings decide the active backend once they exist; the
	// config value only bootstraps a fresh data directory.
	if settings, err := provider.LoadSettings(ctx); err == nil && settings != nil {
		if stored := storage.Kind(settings.ActiveBackend); stored != kind {
			logger.Info("stored settings select a different backend", "backend", string(stored))
			other, err := storage.Open(stored, storage.Config{
				DataDir: cfg.Storage.DataDir,
				Logger:  logger,
			})
			if err != nil {
				return fmt.Errorf("opening %s backend: %w", stored, err)
			}
			if err := other.Init(ctx); err != nil {
				other.Close()
				return fmt.Errorf("initializing %s backend: %w", stored, err)
			}
			provider.Close()
			provider = other
		}
	}

	coord, err := coordinator.New(coordinator.Options{
		DataDir: cfg.Storage.DataDir,
		Lock: coordinator.LockOptions{
			WaitingThreshold: cfg.Locks.WaitingThreshold,
			SlowThreshold:    cfg.Locks.SlowThreshold,
			AcquireTimeout:   cfg.Locks.AcquireTimeout,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	defer coord.Close()

	reporter := diag.NewReporter(cfg.Diag.Capacity, logger)
	defer reporter.Close()
	svc := service.New(provider, coord, reporter, logger)

	metas, err := svc.ListChatMetas(ctx)
	if err != nil {
		return fmt.Errorf("reading chat index: %w", err)
	}
	logger.Info("storage ready", "backend", string(provider.Kind()), "chats", len(metas))

	// Serve until signalled: surface change events and diagnostics as they
	// happen so an operator can watch the store breathe.
	events := coord.Subscribe(ctx)
	diagEvents, cancelDiag := reporter.Subscribe()
	defer cancelDiag()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			logger.Info("change event", "type", string(ev.Type), "id", ev.ID)
		case d, ok := <-diagEvents:
			if !ok {
				return nil
			}
			logger.Warn("diagnostic", "source", d.Source, "message", d.Message)
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		}
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}
