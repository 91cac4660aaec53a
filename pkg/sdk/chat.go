// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sdk

import (
	"net/rpc"

	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
)

// ChatClient lets a contract v2 plugin talk to the chat network directly.
// The gateway serves it back to the plugin over the go-plugin broker.
type ChatClient interface {
	SendMessage(roomID string, text textfmt.Text) error
}

type SendMessageArgs struct {
	RoomID string
	Text   textfmt.Text
}

// chatServer runs in the gateway and forwards calls to the real client.
type chatServer struct {
	chat ChatClient
}

func (s *chatServer) SendMessage(args SendMessageArgs, _ *bool) error {
	return s.chat.SendMessage(args.RoomID, args.Text)
}

// chatRPCClient runs in the plugin.
type chatRPCClient struct {
	client *rpc.Client
}

func (c *chatRPCClient) SendMessage(roomID string, text textfmt.Text) error {
	var ok bool
	return c.client.Call("Plugin.SendMessage", SendMessageArgs{RoomID: roomID, Text: text}, &ok)
}

type noChat struct{}

func (noChat) SendMessage(string, textfmt.Text) error {
	return ErrNoChat
}
