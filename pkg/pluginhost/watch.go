// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pluginhost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.mau.fi/util/exsync"
)

// Watch reloads plugins when their source files change until ctx is done.
// Each file is debounced separately, so saving one plugin never delays
// another. A change that fails to load leaves the previous version serving.
func (r *Runtime) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create plugin watcher: %w", err)
	}
	defer watcher.Close()
	if err = watcher.Add(r.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}
	r.log.Info().Str("dir", r.dir).Dur("debounce", r.debounce).Msg("Watching plugin directory")

	pending := exsync.NewMap[string, *time.Timer]()
	defer func() {
		for _, timer := range pending.CopyData() {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Plugin watcher stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPluginSource(filepath.Base(event.Name)) ||
				!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			r.schedule(ctx, pending, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("Plugin watcher error")
		}
	}
}

func (r *Runtime) schedule(ctx context.Context, pending *exsync.Map[string, *time.Timer], path string) {
	created := false
	timer := pending.GetOrSetFactory(path, func() *time.Timer {
		created = true
		return time.AfterFunc(r.debounce, func() {
			pending.Delete(path)
			r.reloadFile(ctx, path)
		})
	})
	if !created {
		timer.Reset(r.debounce)
	}
}

func (r *Runtime) reloadFile(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if r.Unload(path) {
			r.log.Info().Str("path", path).Msg("Plugin source removed")
		}
		return
	}
	r.log.Debug().Str("path", path).Msg("Plugin source changed, reloading")
	if _, err := r.LoadFile(ctx, path); err != nil {
		r.log.Err(err).Str("path", path).Msg("Failed to reload plugin, keeping previous version")
	}
}
