package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"oauthgate/internal/registry"
)

// reloadDebounce coalesces the burst of fsnotify events most editors
// produce for a single save into one reload.
const reloadDebounce = 250 * time.Millisecond

// Watch monitors the configuration directory and atomically replaces
// the registry's interposition table whenever config.yaml changes. A
// reload that fails to parse or validate leaves the previous table
// intact. It blocks until the context is cancelled.
func Watch(ctx context.Context, configPath string, reg *registry.Registry, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors commonly replace
	// the file via rename, which drops a watch on the file itself.
	if err := watcher.Add(configPath); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}
			if filepath.Base(event.Name) != configFileName {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				fire = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			reload(configPath, reg, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			logger.Warn("config watcher error", "error", err.Error())
		}
	}
}

func reload(configPath string, reg *registry.Registry, logger *slog.Logger) {
	cfg, err := Load(configPath)
	if err != nil {
		logger.Error("config reload failed, keeping previous registrations",
			"path", configPath,
			"error", err.Error())
		return
	}

	entries, err := cfg.Entries()
	if err != nil {
		logger.Error("config reload rejected, keeping previous registrations",
			"path", configPath,
			"error", err.Error())
		return
	}

	if err := reg.ReplaceAll(entries); err != nil {
		logger.Error("config reload rejected, keeping previous registrations",
			"path", configPath,
			"error", err.Error())
		return
	}

	logger.Info("configuration reloaded", "resources", len(entries))
}
