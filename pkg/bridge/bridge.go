// Copyright 2024-2026 Aiku AI

// Package bridge connects the gateway to a Matrix homeserver as an
// application service. It delivers webhook messages as hook users, keeps
// their profiles in sync and answers the bot commands that manage hooks.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/geluk/matrix-webhook-gateway/pkg/database"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

// Homeserver is the part of the client-server API the bridge needs. Every
// call is made as the given user, which must be in the appservice namespace
// or be the bot.
type Homeserver interface {
	BotMXID() id.UserID
	EnsureJoined(ctx context.Context, userID id.UserID, roomID id.RoomID) error
	SendMessage(ctx context.Context, sender id.UserID, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error)
	SetDisplayName(ctx context.Context, userID id.UserID, name string) error
	SetAvatarURL(ctx context.Context, userID id.UserID, uri id.ContentURI) error
	UploadMedia(ctx context.Context, data []byte, contentType, filename string) (id.ContentURI, error)
	JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error)
	Invite(ctx context.Context, roomID id.RoomID, userID id.UserID) error
	CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error)
	JoinRoom(ctx context.Context, roomID id.RoomID) error
}

// Images resolves an external image URL to a content URI on the homeserver.
type Images interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// DisplaynameParams is what a hook user's display name is built from.
type DisplaynameParams struct {
	Username string
	Emoji    string
}

type Options struct {
	// Domain is the homeserver's server name, used for hook user IDs.
	Domain string
	// PublicURL is prepended to hook paths in the URLs handed to users.
	PublicURL string
	// Displayname renders the display name of a hook user. Defaults to the
	// emoji and username separated by a space.
	Displayname func(DisplaynameParams) string
}

type Bridge struct {
	hs     Homeserver
	db     *database.Database
	images Images
	opts   Options
	log    zerolog.Logger
}

// New creates a bridge. images may be nil, in which case icon URLs are
// ignored.
func New(hs Homeserver, db *database.Database, images Images, opts Options, log zerolog.Logger) *Bridge {
	if opts.Displayname == nil {
		opts.Displayname = defaultDisplayname
	}
	return &Bridge{
		hs:     hs,
		db:     db,
		images: images,
		opts:   opts,
		log:    log.With().Str("component", "bridge").Logger(),
	}
}

// SetImages replaces the image resolver. The image cache uploads through the
// bridge, so it can only be attached once the bridge exists.
func (b *Bridge) SetImages(images Images) {
	b.images = images
}

func defaultDisplayname(p DisplaynameParams) string {
	if p.Emoji == "" {
		return p.Username
	}
	return p.Emoji + " " + p.Username
}

// Deliver posts the message into the hook's room as the hook user. Profile
// updates are best effort: a failure is logged and the message still goes
// out.
func (b *Bridge) Deliver(ctx context.Context, result *webhook.Result) error {
	reg := result.Registration
	log := b.log.With().
		Int64("hook_id", reg.ID).
		Stringer("room_id", reg.RoomID).
		Stringer("user_id", reg.UserID).
		Logger()

	b.syncProfile(ctx, log, reg.UserID, result.Message)

	if err := b.hs.EnsureJoined(ctx, reg.UserID, reg.RoomID); err != nil {
		return fmt.Errorf("failed to join %s as %s: %w", reg.RoomID, reg.UserID, err)
	}
	evtID, err := b.hs.SendMessage(ctx, reg.UserID, reg.RoomID, result.Message.Content())
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	log.Debug().Stringer("event_id", evtID).Msg("Delivered webhook message")
	return nil
}

func (b *Bridge) syncProfile(ctx context.Context, log zerolog.Logger, userID id.UserID, msg *webhook.Message) {
	ghost, err := b.db.Ghost.Get(ctx, userID)
	if err != nil {
		log.Err(err).Msg("Failed to load hook user profile")
		return
	}
	changed := false

	if msg.Username != "" {
		name := b.opts.Displayname(DisplaynameParams{Username: msg.Username, Emoji: msg.Icon.Glyph()})
		if name != ghost.DisplayName {
			if err = b.hs.SetDisplayName(ctx, userID, name); err != nil {
				log.Warn().Err(err).Msg("Failed to update hook user display name")
			} else {
				ghost.DisplayName = name
				changed = true
			}
		}
	}

	if msg.Icon != nil && msg.Icon.URL != "" && b.images != nil {
		if avatar, ok := b.resolveAvatar(ctx, log, msg.Icon.URL); ok && avatar != ghost.AvatarURL {
			if err = b.hs.SetAvatarURL(ctx, userID, avatar.ParseOrIgnore()); err != nil {
				log.Warn().Err(err).Msg("Failed to update hook user avatar")
			} else {
				ghost.AvatarURL = avatar
				changed = true
			}
		}
	}

	if changed {
		if err = ghost.Upsert(ctx); err != nil {
			log.Err(err).Msg("Failed to save hook user profile")
		}
	}
}

func (b *Bridge) resolveAvatar(ctx context.Context, log zerolog.Logger, url string) (id.ContentURIString, bool) {
	ref, err := b.images.Resolve(ctx, url)
	if err != nil {
		log.Info().Err(err).Str("icon_url", url).Msg("Keeping previous avatar")
		return "", false
	}
	uri := id.ContentURIString(ref)
	if _, err = uri.Parse(); err != nil {
		log.Warn().Err(err).Str("hosted_ref", ref).Msg("Image cache returned an invalid content URI")
		return "", false
	}
	return uri, true
}

// UploadContent stores data on the homeserver and returns its mxc:// URI.
func (b *Bridge) UploadContent(ctx context.Context, data []byte, contentType, filename string) (string, error) {
	uri, err := b.hs.UploadMedia(ctx, data, contentType, filename)
	if err != nil {
		return "", err
	}
	if uri.IsEmpty() {
		return "", errors.New("homeserver returned an empty content URI")
	}
	return uri.String(), nil
}

// Notice sends a plain notice as the bot.
func (b *Bridge) Notice(ctx context.Context, roomID id.RoomID, text string) error {
	_, err := b.hs.SendMessage(ctx, b.hs.BotMXID(), roomID, &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	})
	return err
}
