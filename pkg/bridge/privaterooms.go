// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"slices"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// PrivateRoom returns the room where the bot talks to userID alone,
// creating it on first use. A user who left the room is invited again. If
// the bot itself is no longer in the stored room, a new one replaces it.
func (b *Bridge) PrivateRoom(ctx context.Context, userID id.UserID) (id.RoomID, error) {
	log := b.log.With().Stringer("user_id", userID).Logger()
	user, err := b.db.User.GetByMXID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	if user != nil && user.PrivateRoomID != "" {
		members, err := b.hs.JoinedMembers(ctx, user.PrivateRoomID)
		if err != nil {
			log.Warn().Err(err).Stringer("room_id", user.PrivateRoomID).
				Msg("Bot is not in the user's private room, creating a new one")
		} else {
			if !slices.Contains(members, userID) {
				log.Debug().Msg("User is not in their private room, resending invite")
				if err = b.hs.Invite(ctx, user.PrivateRoomID, userID); err != nil {
					log.Warn().Err(err).Msg("Failed to reinvite user to private room")
				}
			}
			return user.PrivateRoomID, nil
		}
	}

	roomID, err := b.hs.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Invite:     []id.UserID{userID},
		IsDirect:   true,
		Preset:     "private_chat",
		Visibility: "private",
		// Only the bot may invite, so the room stays between the two.
		PowerLevelOverride: &event.PowerLevelsEventContent{
			Users: map[id.UserID]int{b.hs.BotMXID(): 100},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create private room: %w", err)
	}
	if err = b.db.User.SetPrivateRoom(ctx, userID, roomID); err != nil {
		return "", fmt.Errorf("failed to save private room: %w", err)
	}
	log.Debug().Stringer("room_id", roomID).Msg("Created private room")
	return roomID, nil
}
