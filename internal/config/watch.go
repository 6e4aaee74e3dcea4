package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it changes and invokes onReload with the new,
// validated Config. Detection is a dual signal: an fsnotify watcher on the
// config file's directory (write/rename/create events — editors often
// replace a file rather than write it in place) acts as the wake-up for an
// mtime poll on a ticker, so a missed or coalesced fsnotify event within
// the poll period is never fatal. Runs until stop is closed.
func Watch(path string, interval time.Duration, logger *slog.Logger, onReload func(*Config), stop <-chan struct{}) {
	log := logger.With("component", "config_watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("fsnotify watcher unavailable, falling back to mtime poll only", "error", err)
	} else {
		defer watcher.Close()
		if dir := parentDir(path); dir != "" {
			if err := watcher.Add(dir); err != nil {
				log.Error("watch config directory", "dir", dir, "error", err)
			}
		}
	}

	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	reload := func() {
		info, err := os.Stat(path)
		if err != nil {
			log.Error("stat config", "path", path, "error", err)
			return
		}
		if !info.ModTime().After(lastMod) {
			return
		}
		lastMod = info.ModTime()

		cfg, err := Load(path)
		if err != nil {
			log.Error("reload config", "path", path, "error", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Error("reloaded config is invalid, keeping previous config", "error", err)
			return
		}
		log.Info("config reloaded", "path", path)
		onReload(cfg)
	}

	var fsEvents <-chan fsnotify.Event
	if watcher != nil {
		fsEvents = watcher.Events
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			reload()
		case event, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if event.Name == path {
				reload()
			}
		}
	}
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
