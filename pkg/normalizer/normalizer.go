// Copyright 2024-2026 Aiku AI

// Package normalizer recognizes the JSON payloads of well-known webhook
// senders and turns them into a webhook.Message.
//
// Shapes are tried in a fixed order and every shape that matches is applied
// in turn. A later shape only overwrites the fields it actually carries, so a
// payload that happens to satisfy two shapes keeps the more specific fields.
package normalizer

import (
	"github.com/tidwall/gjson"

	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

type shape struct {
	name  string
	match func(body gjson.Result) bool
	apply func(body gjson.Result, raw []byte, msg *webhook.Message, sub textfmt.Substitution)
}

var shapes = []shape{
	{name: "turt2live", match: isTurt2live, apply: applyTurt2live},
	{name: "discord", match: isDiscord, apply: applyDiscord},
	{name: "apprise-1.0", match: isAppriseV1, apply: applyAppriseV1},
	{name: "apprise", match: isAppriseUnknown, apply: applyAppriseUnknown},
	{name: "slack", match: isSlack, apply: applySlack},
}

// Normalize maps body to a message. User supplied text passes through sub.
// ok is false when body matches none of the known shapes.
func Normalize(body []byte, sub textfmt.Substitution) (msg *webhook.Message, ok bool) {
	if sub == nil {
		sub = textfmt.Identity
	}
	if !gjson.ValidBytes(body) {
		return nil, false
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil, false
	}
	// turt2live payloads can opt out of emoji rendering for the whole message.
	if isTurt2live(parsed) && parsed.Get("emoji").Type == gjson.False {
		sub = textfmt.Identity
	}
	msg = &webhook.Message{}
	for _, s := range shapes {
		if s.match(parsed) {
			s.apply(parsed, body, msg, sub)
			ok = true
		}
	}
	if !ok {
		return nil, false
	}
	return msg, true
}

// Shapes returns the names of the shapes body matches, in application order.
func Shapes(body []byte) []string {
	if !gjson.ValidBytes(body) {
		return nil
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil
	}
	var names []string
	for _, s := range shapes {
		if s.match(parsed) {
			names = append(names, s.name)
		}
	}
	return names
}

func isString(body gjson.Result, key string) bool {
	return body.Get(key).Type == gjson.String
}

func optString(body gjson.Result, key string) bool {
	field := body.Get(key)
	return !field.Exists() || field.Type == gjson.String
}

func optBool(body gjson.Result, key string) bool {
	field := body.Get(key)
	return !field.Exists() || field.Type == gjson.True || field.Type == gjson.False
}

// setString calls set with the value of key if the payload carries it.
func setString(body gjson.Result, key string, set func(string)) {
	if field := body.Get(key); field.Type == gjson.String {
		set(field.Str)
	}
}
