package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/BioHazard786/warpcall/internal/feedback"
)

// LoadSettings reads the feedback settings file. A missing file yields the
// defaults.
func LoadSettings(path string) (feedback.Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return feedback.DefaultSettings(), nil
	}
	if err != nil {
		return feedback.Settings{}, err
	}

	s := feedback.DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return feedback.Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return s.Normalize(), nil
}

// SaveSettings writes s to path atomically.
func SaveSettings(path string, s feedback.Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// WatchSettings calls apply with the new settings every time path changes,
// until ctx is done. The directory is watched so editors that replace the
// file are seen too. Unparseable edits are logged and skipped.
func WatchSettings(ctx context.Context, path string, logger *slog.Logger, apply func(feedback.Settings)) error {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch settings dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				s, err := LoadSettings(path)
				if err != nil {
					logger.Warn("settings reload failed", "path", path, "error", err)
					continue
				}
				logger.Debug("settings reloaded", "path", path)
				apply(s)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("settings watcher error", "error", err)
			}
		}
	}()
	return nil
}
