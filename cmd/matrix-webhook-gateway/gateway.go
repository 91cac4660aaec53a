// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/geluk/matrix-webhook-gateway/pkg/bridge"
	"github.com/geluk/matrix-webhook-gateway/pkg/config"
	"github.com/geluk/matrix-webhook-gateway/pkg/database"
	"github.com/geluk/matrix-webhook-gateway/pkg/imagecache"
	"github.com/geluk/matrix-webhook-gateway/pkg/listener"
	"github.com/geluk/matrix-webhook-gateway/pkg/matcher"
	"github.com/geluk/matrix-webhook-gateway/pkg/pluginhost"
)

var ErrPendingUpgrades = errors.New("database upgrades are pending")

type Options struct {
	ClearPluginCache bool
	NoAutoMigrate    bool
}

// Gateway owns every long running component of the daemon.
type Gateway struct {
	log zerolog.Logger
	cfg *config.Config

	db       *database.Database
	as       *bridge.AppService
	bridge   *bridge.Bridge
	plugins  *pluginhost.Runtime
	listener *listener.Listener
	admin    *listener.AdminAPI
}

func NewGateway(ctx context.Context, cfg *config.Config, opts Options, log zerolog.Logger) (*Gateway, error) {
	gw := &Gateway{log: log, cfg: cfg}

	var err error
	gw.db, err = database.Open(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = gw.migrate(ctx, opts.NoAutoMigrate); err != nil {
		_ = gw.db.Close()
		return nil, err
	}

	reg := bridge.LoadRegistration(cfg.AppService.ID, cfg.AppService.Address, cfg.Homeserver.Domain,
		cfg.AppService.ASToken, cfg.AppService.HSToken)
	gw.as, err = bridge.NewAppService(bridge.AppServiceOptions{
		Registration:  reg,
		Domain:        cfg.Homeserver.Domain,
		HomeserverURL: cfg.Homeserver.Address,
		Hostname:      cfg.AppService.Hostname,
		Port:          cfg.AppService.Port,
	}, log)
	if err != nil {
		_ = gw.db.Close()
		return nil, err
	}
	gw.bridge = bridge.New(gw.as, gw.db, nil, bridge.Options{
		Domain:    cfg.Homeserver.Domain,
		PublicURL: cfg.Webhooks.PublicURL,
		Displayname: func(p bridge.DisplaynameParams) string {
			return cfg.FormatDisplayname(config.DisplaynameParams{Username: p.Username, Emoji: p.Emoji})
		},
	}, log)
	downloader := imagecache.NewHTTPDownloader(cfg.Images.FetchTimeout, cfg.Images.UserAgent)
	gw.bridge.SetImages(imagecache.New(gw.db.ImageCache, downloader, gw.bridge, log))

	var plugins matcher.Plugins
	var pluginAdmin listener.PluginAdmin
	if cfg.Plugins.Enabled {
		if gw.plugins, err = gw.initPlugins(opts.ClearPluginCache); err != nil {
			_ = gw.db.Close()
			return nil, err
		}
		plugins, pluginAdmin = gw.plugins, gw.plugins
	}

	m := matcher.New(gw.db.Webhook, plugins, log)
	gw.listener = listener.New(m, gw.bridge, gw.db.HookCall, listener.Config{
		LogToDatabase: cfg.Webhooks.LogToDatabase,
		MaxBodySize:   cfg.Webhooks.MaxBodySize,
		RateLimit:     cfg.Webhooks.RateLimit.Requests,
		RateWindow:    cfg.Webhooks.RateLimit.Window,
	}, log)
	gw.admin = listener.NewAdminAPI(pluginAdmin, log)
	return gw, nil
}

func (gw *Gateway) migrate(ctx context.Context, noAutoMigrate bool) error {
	current, latest, err := gw.db.PendingUpgrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to check database version: %w", err)
	}
	if current < latest {
		if noAutoMigrate {
			return fmt.Errorf("%w: database is at version %d, latest is %d", ErrPendingUpgrades, current, latest)
		}
		gw.log.Info().Int("current", current).Int("latest", latest).Msg("Upgrading database")
	}
	if err = gw.db.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade database: %w", err)
	}
	return nil
}

func (gw *Gateway) initPlugins(clearCache bool) (*pluginhost.Runtime, error) {
	cfg := gw.cfg.Plugins
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plugin directory: %w", err)
	}
	runtime := pluginhost.New(pluginhost.Config{
		Dir:            cfg.Directory,
		CacheDir:       cfg.CachePath(),
		Compiler:       &pluginhost.CommandCompiler{Command: cfg.CompileCommand, Log: gw.log},
		Loader:         &pluginhost.ProcessLoader{Log: gw.log},
		Chat:           gw.bridge.PluginChat(),
		CompileWorkers: cfg.CompileWorkers,
		Debounce:       cfg.Debounce,
		ApplyTimeout:   cfg.ApplyTimeout,
	}, gw.log)
	if clearCache {
		removed, err := runtime.ClearCache()
		if err != nil {
			return nil, fmt.Errorf("failed to clear plugin cache: %w", err)
		}
		gw.log.Info().Int("removed", removed).Msg("Plugin cache cleared")
	}
	return runtime, nil
}

// Run starts every component and blocks until ctx is done or one of them
// fails.
func (gw *Gateway) Run(ctx context.Context) error {
	defer func() {
		if gw.plugins != nil {
			gw.plugins.Close()
		}
		if err := gw.db.Close(); err != nil {
			gw.log.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	if gw.plugins != nil {
		loaded := gw.plugins.LoadAll(ctx)
		gw.log.Info().Int("loaded", loaded).Strs("plugins", gw.plugins.Identifiers()).Msg("Plugins loaded")
	}
	if count, err := gw.db.Webhook.Count(ctx); err == nil {
		gw.log.Info().Int("webhooks", count).Msg("Webhooks registered")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.as.Run(ctx, gw.bridge.HandleEvent)
	})
	g.Go(func() error {
		return listener.ListenAndServe(ctx, gw.cfg.Webhooks.ListenAddress(), gw.listener.Handler(),
			gw.log.With().Str("server", "webhooks").Logger())
	})
	if addr := gw.cfg.AdminAPI.Address; addr != "" {
		g.Go(func() error {
			return listener.ListenAndServe(ctx, addr, gw.admin.Handler(),
				gw.log.With().Str("server", "admin_api").Logger())
		})
	}
	if gw.plugins != nil && gw.cfg.Plugins.Watch {
		g.Go(func() error {
			return gw.plugins.Watch(ctx)
		})
	}
	return g.Wait()
}
