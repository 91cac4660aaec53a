// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

var commandPattern = regexp.MustCompile(`^-[A-Za-z]`)

const (
	replyHelp         = "Valid commands: help|hook|ping"
	replyPong         = "Pong!"
	replyUnknown      = "Unknown command."
	usageHook         = "Usage: -hook create|list|delete"
	usageHookCreate   = "Usage: -hook create <webhook_username>"
	usageHookList     = "Usage: -hook list"
	usageHookDelete   = "Usage: -hook delete <hook_number>"
	replyInternalErr  = "Something went wrong, please try again later."
	replyNoHooks      = "There are no webhooks in this room."
	replySentPrivate  = "I have sent you the details in a private message."
	replyInvalidGhost = "Webhook usernames may only contain lowercase letters, digits and ._=-/"
)

// commandContext is one command message being handled.
type commandContext struct {
	ctx    context.Context
	log    zerolog.Logger
	sender id.UserID
	roomID id.RoomID
	args   []string
}

// HandleEvent dispatches an event from the homeserver.
func (b *Bridge) HandleEvent(ctx context.Context, evt *event.Event) {
	switch evt.Type {
	case event.EventMessage:
		b.HandleMessage(ctx, evt)
	case event.StateMember:
		b.HandleMember(ctx, evt)
	}
}

// HandleMember makes the bot accept invites.
func (b *Bridge) HandleMember(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsMember()
	if content.Membership != event.MembershipInvite || evt.GetStateKey() != b.hs.BotMXID().String() {
		return
	}
	b.log.Info().Stringer("room_id", evt.RoomID).Stringer("inviter", evt.Sender).Msg("Accepting invite")
	if err := b.hs.JoinRoom(ctx, evt.RoomID); err != nil {
		b.log.Err(err).Stringer("room_id", evt.RoomID).Msg("Failed to accept invite")
	}
}

// HandleMessage runs bot commands. Anything that does not look like a
// command is ignored, as are messages from the bot and hook users.
func (b *Bridge) HandleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.hs.BotMXID() {
		return
	} else if _, isGhost := ParseGhostID(evt.Sender); isGhost {
		return
	}
	content := evt.Content.AsMessage()
	if content.MsgType != event.MsgText || !commandPattern.MatchString(content.Body) {
		return
	}
	args := strings.Fields(content.Body[1:])
	cc := &commandContext{
		ctx:    ctx,
		sender: evt.Sender,
		roomID: evt.RoomID,
		args:   args[1:],
		log: b.log.With().
			Str("command", strings.ToLower(args[0])).
			Stringer("sender", evt.Sender).
			Stringer("room_id", evt.RoomID).
			Logger(),
	}
	cc.log.Debug().Msg("Handling command")

	switch strings.ToLower(args[0]) {
	case "help":
		b.reply(cc, replyHelp)
	case "ping":
		b.reply(cc, replyPong)
	case "hook":
		b.handleHook(cc)
	default:
		b.reply(cc, replyUnknown)
	}
}

func (b *Bridge) reply(cc *commandContext, text string) {
	if err := b.Notice(cc.ctx, cc.roomID, text); err != nil {
		cc.log.Err(err).Msg("Failed to send command reply")
	}
}

func (b *Bridge) handleHook(cc *commandContext) {
	if len(cc.args) == 0 {
		b.reply(cc, usageHook)
		return
	}
	sub, args := strings.ToLower(cc.args[0]), cc.args[1:]
	switch sub {
	case "create":
		if len(args) != 1 {
			b.reply(cc, usageHookCreate)
			return
		}
		b.createHook(cc, args[0])
	case "list":
		if len(args) != 0 {
			b.reply(cc, usageHookList)
			return
		}
		b.listHooks(cc)
	case "delete":
		if len(args) != 1 {
			b.reply(cc, usageHookDelete)
			return
		}
		hookID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			b.reply(cc, usageHookDelete)
			return
		}
		b.deleteHook(cc, hookID)
	default:
		b.reply(cc, usageHook)
	}
}

func (b *Bridge) createHook(cc *commandContext, name string) {
	ghost, err := MakeGhostID(name, b.opts.Domain)
	if err != nil {
		b.reply(cc, replyInvalidGhost)
		return
	}
	reg := &webhook.Registration{Path: MakeHookPath(), RoomID: cc.roomID, UserID: ghost}
	if err = b.db.Webhook.Insert(cc.ctx, reg); err != nil {
		cc.log.Err(err).Msg("Failed to store new webhook")
		b.reply(cc, replyInternalErr)
		return
	}
	cc.log.Info().Int64("hook_id", reg.ID).Stringer("user_id", ghost).Msg("Created webhook")
	if err = b.hs.EnsureJoined(cc.ctx, ghost, cc.roomID); err != nil {
		cc.log.Warn().Err(err).Msg("Hook user could not join the room yet")
	}
	b.sendPrivate(cc, fmt.Sprintf("Webhook #%d for %s in %s: %s",
		reg.ID, ghost, cc.roomID, HookURL(b.opts.PublicURL, reg.Path)))
	b.reply(cc, fmt.Sprintf("Created webhook #%d. %s", reg.ID, replySentPrivate))
}

func (b *Bridge) listHooks(cc *commandContext) {
	hooks, err := b.db.Webhook.GetByRoom(cc.ctx, cc.roomID)
	if err != nil {
		cc.log.Err(err).Msg("Failed to list webhooks")
		b.reply(cc, replyInternalErr)
		return
	} else if len(hooks) == 0 {
		b.reply(cc, replyNoHooks)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Webhooks in %s:", cc.roomID)
	for _, hook := range hooks {
		fmt.Fprintf(&sb, "\n#%d %s: %s", hook.ID, hook.UserID, HookURL(b.opts.PublicURL, hook.Path))
	}
	b.sendPrivate(cc, sb.String())
	b.reply(cc, replySentPrivate)
}

func (b *Bridge) deleteHook(cc *commandContext, hookID int64) {
	deleted, err := b.db.Webhook.DeleteFromRoom(cc.ctx, hookID, cc.roomID)
	if err != nil {
		cc.log.Err(err).Int64("hook_id", hookID).Msg("Failed to delete webhook")
		b.reply(cc, replyInternalErr)
	} else if !deleted {
		b.reply(cc, fmt.Sprintf("There is no webhook #%d in this room.", hookID))
	} else {
		cc.log.Info().Int64("hook_id", hookID).Msg("Deleted webhook")
		b.reply(cc, fmt.Sprintf("Webhook #%d deleted.", hookID))
	}
}

// sendPrivate sends hook URLs to the sender alone, since the command room
// may have members who should not be able to post as the hook.
func (b *Bridge) sendPrivate(cc *commandContext, text string) {
	roomID, err := b.PrivateRoom(cc.ctx, cc.sender)
	if err != nil {
		cc.log.Err(err).Msg("Failed to get private room")
		return
	}
	if err = b.Notice(cc.ctx, roomID, text); err != nil {
		cc.log.Err(err).Stringer("private_room_id", roomID).Msg("Failed to send private message")
	}
}
