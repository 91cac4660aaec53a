// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/geluk/matrix-webhook-gateway/pkg/sdk"
	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

const pluginSendTimeout = 30 * time.Second

// PluginChat lets contract v2 plugins post into rooms as the bot.
type PluginChat struct {
	bridge *Bridge
}

var _ sdk.ChatClient = (*PluginChat)(nil)

func (b *Bridge) PluginChat() *PluginChat {
	return &PluginChat{bridge: b}
}

func (pc *PluginChat) SendMessage(roomID string, text textfmt.Text) error {
	parsed := id.RoomID(roomID)
	if roomID == "" || roomID[0] != '!' {
		return fmt.Errorf("invalid room ID %q", roomID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pluginSendTimeout)
	defer cancel()
	msg := &webhook.Message{Text: text}
	content := msg.Content()
	content.MsgType = event.MsgNotice
	hs := pc.bridge.hs
	if _, err := hs.SendMessage(ctx, hs.BotMXID(), parsed, content); err != nil {
		pc.bridge.log.Warn().Err(err).Stringer("room_id", parsed).Msg("Plugin failed to send message")
		return err
	}
	return nil
}
