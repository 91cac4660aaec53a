// Copyright 2024-2026 Aiku AI

// Package database stores webhook registrations, hook call audit rows, ghost
// profiles, private rooms and the image cache on top of dbutil.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/geluk/matrix-webhook-gateway/pkg/database/upgrades"
)

// Owner is recorded in the database_owner table so two programs never share
// one schema by accident.
const Owner = "matrix-webhook-gateway"

type Database struct {
	*dbutil.Database

	Webhook    *WebhookQuery
	HookCall   *HookCallQuery
	ImageCache *ImageCacheQuery
	User       *UserQuery
	Ghost      *GhostQuery
}

// New wraps an opened dbutil database and attaches the gateway schema.
func New(db *dbutil.Database, log zerolog.Logger) *Database {
	db.UpgradeTable = upgrades.Table
	db.Log = dbutil.ZeroLogger(log.With().Str("component", "database").Logger())
	return &Database{
		Database: db,
		Webhook: &WebhookQuery{dbutil.MakeQueryHelper(db, func(qh *dbutil.QueryHelper[*Webhook]) *Webhook {
			return &Webhook{qh: qh}
		})},
		HookCall: &HookCallQuery{dbutil.MakeQueryHelper(db, func(qh *dbutil.QueryHelper[*HookCall]) *HookCall {
			return &HookCall{qh: qh}
		})},
		ImageCache: &ImageCacheQuery{dbutil.MakeQueryHelper(db, func(qh *dbutil.QueryHelper[*CachedImage]) *CachedImage {
			return &CachedImage{qh: qh}
		})},
		User: &UserQuery{dbutil.MakeQueryHelper(db, func(qh *dbutil.QueryHelper[*User]) *User {
			return &User{qh: qh}
		})},
		Ghost: &GhostQuery{dbutil.MakeQueryHelper(db, func(qh *dbutil.QueryHelper[*Ghost]) *Ghost {
			return &Ghost{qh: qh}
		})},
	}
}

// Open connects using a dbutil config block. The driver named by cfg.Type
// must be registered by the caller.
func Open(cfg dbutil.Config, log zerolog.Logger) (*Database, error) {
	db, err := dbutil.NewFromConfig(Owner, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}
	return New(db, log), nil
}

// PendingUpgrades returns the schema version stored in the database and the
// latest version this build knows. A database without a version table is at
// version zero.
func (db *Database) PendingUpgrades(ctx context.Context) (current, latest int, err error) {
	latest = len(db.UpgradeTable)
	exists, err := db.TableExists(ctx, db.VersionTable)
	if err != nil {
		return 0, latest, fmt.Errorf("failed to check for version table: %w", err)
	} else if !exists {
		return 0, latest, nil
	}
	err = db.QueryRow(ctx, fmt.Sprintf("SELECT version FROM %s LIMIT 1", db.VersionTable)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	} else if err != nil {
		err = fmt.Errorf("failed to read schema version: %w", err)
	}
	return current, latest, err
}
