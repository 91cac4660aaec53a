// Copyright 2024-2026 Aiku AI

package database

import (
	"context"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

type GhostQuery struct {
	*dbutil.QueryHelper[*Ghost]
}

// Ghost is the last profile set on a hook user, so unchanged names and
// avatars are not sent to the homeserver on every call.
type Ghost struct {
	qh *dbutil.QueryHelper[*Ghost]

	UserID      id.UserID
	DisplayName string
	AvatarURL   id.ContentURIString
}

const (
	getGhostQuery    = `SELECT user_id, display_name, avatar_url FROM ghost WHERE user_id=$1`
	upsertGhostQuery = `
		INSERT INTO ghost (user_id, display_name, avatar_url) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET display_name=excluded.display_name, avatar_url=excluded.avatar_url
	`
)

// Get returns the stored profile, or an empty one for a ghost that was never
// updated.
func (gq *GhostQuery) Get(ctx context.Context, userID id.UserID) (*Ghost, error) {
	ghost, err := gq.QueryOne(ctx, getGhostQuery, userID)
	if err != nil {
		return nil, err
	} else if ghost == nil {
		ghost = gq.New()
		ghost.UserID = userID
	}
	return ghost, nil
}

func (g *Ghost) Upsert(ctx context.Context) error {
	return g.qh.Exec(ctx, upsertGhostQuery, g.UserID, g.DisplayName, g.AvatarURL)
}

func (g *Ghost) Scan(row dbutil.Scannable) (*Ghost, error) {
	err := row.Scan(&g.UserID, &g.DisplayName, &g.AvatarURL)
	if err != nil {
		return nil, err
	}
	return g, nil
}
