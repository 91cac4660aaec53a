// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sdk

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"

	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

// PluginSet is the plugin map the gateway hands to go-plugin when it starts
// a plugin binary.
func PluginSet() plugin.PluginSet {
	return plugin.PluginSet{PluginName: &webhookPlugin{}}
}

// Client is the gateway side of a running plugin.
type Client struct {
	client *rpc.Client
	broker *plugin.MuxBroker
}

// Describe asks the plugin what it is.
func (c *Client) Describe() (*Description, error) {
	var desc Description
	if err := c.client.Call("Plugin.Describe", true, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Init initializes the plugin. For contract v2 plugins chat is served back
// to the plugin process; it may be nil.
func (c *Client) Init(chat ChatClient) error {
	var args InitArgs
	if chat != nil && c.broker != nil {
		args.ChatBrokerID = c.broker.NextId()
		go c.broker.AcceptAndServe(args.ChatBrokerID, &chatServer{chat: chat})
	}
	var ok bool
	return c.client.Call("Plugin.Init", args, &ok)
}

// Transform runs the plugin on a request body. A nil message means the
// plugin declined the webhook.
func (c *Client) Transform(body []byte, emoji bool) (*webhook.Message, error) {
	var reply TransformReply
	if err := c.client.Call("Plugin.Transform", TransformArgs{Body: body, Emoji: emoji}, &reply); err != nil {
		return nil, err
	}
	return reply.Message, nil
}
