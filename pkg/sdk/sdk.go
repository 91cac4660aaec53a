// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sdk is the contract between the gateway and its plugins.
//
// A plugin is a Go main package that calls [ServeV1] or [ServeV2]. The
// gateway compiles it, starts the binary and talks to it through
// hashicorp/go-plugin over net/rpc. The same package provides the host side
// of the connection ([Client]), so both ends always agree on the wire types.
//
// A minimal contract v2 plugin looks like this:
//
//	func main() {
//		sdk.ServeV2("sample", func(log hclog.Logger, chat sdk.ChatClient) sdk.PluginV2 {
//			return &samplePlugin{log: log}
//		})
//	}
package sdk

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hashicorp/go-plugin"

	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

// PluginName is the name the plugin implementation is dispensed under.
const PluginName = "webhook"

// Handshake must match between the gateway and the plugin binary. Bumping
// ProtocolVersion makes every previously compiled plugin fail to load.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MATRIX_WEBHOOK_GATEWAY_PLUGIN",
	MagicCookieValue: "4c1f6b0a7d2e4f0c9e8a3b5d6c7e8f90",
}

// ContractVersion identifies a generation of the plugin API.
type ContractVersion string

const (
	// ContractV1 plugins return a raw string in a fixed markup language.
	ContractV1 ContractVersion = "1"
	// ContractV2 plugins return structured text and get a logger and a
	// chat client when they are constructed.
	ContractV2 ContractVersion = "2"
)

// Description is what a plugin binary reports about itself before anything
// else happens.
type Description struct {
	Format    string
	Contracts []ContractVersion

	HasConstructor bool
	HasInit        bool
	HasTransform   bool
}

// Contract returns the single contract the plugin implements. ok is false
// when it reports none or more than one.
func (d *Description) Contract() (ContractVersion, bool) {
	if d == nil || len(d.Contracts) != 1 {
		return "", false
	}
	return d.Contracts[0], true
}

// Capable reports whether the plugin provides everything its contract needs.
func (d *Description) Capable() error {
	contract, ok := d.Contract()
	if !ok {
		return fmt.Errorf("plugin must implement exactly one contract, got %v", d.Contracts)
	}
	switch contract {
	case ContractV1:
		if !d.HasTransform {
			return fmt.Errorf("contract v1 plugin has no transform")
		}
	case ContractV2:
		if !d.HasConstructor || !d.HasInit || !d.HasTransform {
			return fmt.Errorf("contract v2 plugin must provide a constructor, init and transform")
		}
	default:
		return fmt.Errorf("unknown contract version %q", contract)
	}
	return nil
}

// ImplementsBoth is true when a description claims both contract versions.
func (d *Description) ImplementsBoth() bool {
	return slices.Contains(d.Contracts, ContractV1) && slices.Contains(d.Contracts, ContractV2)
}

// LegacyMessage is the result of a contract v1 transform.
type LegacyMessage struct {
	Text     string
	Username string
	Icon     *webhook.Icon
	Format   webhook.LegacyFormat
}

// Message converts the legacy result to the canonical message type.
func (m *LegacyMessage) Message() *webhook.Message {
	if m == nil {
		return nil
	}
	format := m.Format
	if format == webhook.FormatNone {
		format = webhook.FormatPlain
	}
	return &webhook.Message{
		Text:     textfmt.Str(m.Text),
		Username: m.Username,
		Icon:     m.Icon,
		Format:   format,
	}
}

// Request is the input of a contract v2 transform.
type Request struct {
	Body  []byte
	Emoji bool
}

// Decode unmarshals the JSON body into v.
func (r *Request) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Text applies the emoji substitution the caller asked for. Plugins should
// pass every piece of user supplied text through it.
func (r *Request) Text(s string) string {
	if r.Emoji {
		return textfmt.RenderEmoji(s)
	}
	return s
}
