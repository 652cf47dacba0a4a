// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchModels watches the models/ directory and invokes onChange after
// every create/write/rename inside it. The download collaborator drops
// weights into models/ out-of-process; the watcher lets the backend flip
// its readiness flags without polling or a restart.
//
// Blocks until ctx is done. Errors from the underlying watcher are
// logged and the watch continues.
func (c *Config) WatchModels(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(c.ModelsDir()); err != nil {
		return err
	}
	slog.Info("Watching models directory", "dir", c.ModelsDir())

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				slog.Debug("Model directory changed", "event", event.String())
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Model watcher error", "error", err)
		}
	}
}
