// Copyright 2024-2026 Aiku AI

package database

import (
	"context"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

type UserQuery struct {
	*dbutil.QueryHelper[*User]
}

// User is a Matrix user that talked to the bot, together with the private
// room it uses to hand out hook URLs.
type User struct {
	qh *dbutil.QueryHelper[*User]

	MXID          id.UserID
	PrivateRoomID id.RoomID
}

const (
	getUserQuery    = `SELECT id, private_room_id FROM "user" WHERE id=$1`
	upsertUserQuery = `
		INSERT INTO "user" (id, private_room_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET private_room_id=excluded.private_room_id
	`
)

func (uq *UserQuery) GetByMXID(ctx context.Context, userID id.UserID) (*User, error) {
	return uq.QueryOne(ctx, getUserQuery, userID)
}

// SetPrivateRoom records roomID as the private room of userID.
func (uq *UserQuery) SetPrivateRoom(ctx context.Context, userID id.UserID, roomID id.RoomID) error {
	return uq.Exec(ctx, upsertUserQuery, userID, roomID)
}

func (u *User) Scan(row dbutil.Scannable) (*User, error) {
	err := row.Scan(&u.MXID, &u.PrivateRoomID)
	if err != nil {
		return nil, err
	}
	return u, nil
}
