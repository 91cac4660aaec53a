// Copyright 2024-2026 Aiku AI

package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/tidwall/gjson"

	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt/mrkdwnfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

// {text, format?: plain|html, displayName?, avatarUrl?, emoji?}
func isTurt2live(body gjson.Result) bool {
	if !isString(body, "text") || !optString(body, "displayName") ||
		!optString(body, "avatarUrl") || !optBool(body, "emoji") || !optString(body, "format") {
		return false
	}
	switch body.Get("format").Str {
	case "", "plain", "html":
		return true
	default:
		return false
	}
}

func applyTurt2live(body gjson.Result, _ []byte, msg *webhook.Message, sub textfmt.Substitution) {
	msg.Text = textfmt.Str(sub(body.Get("text").Str))
	// A plain leaf already renders as plain text, so only html needs the tag.
	if body.Get("format").Str == "html" {
		msg.Format = webhook.FormatHTML
	} else {
		msg.Format = webhook.FormatNone
	}
	setString(body, "displayName", func(s string) { msg.Username = s })
	setString(body, "avatarUrl", func(s string) { msg.Icon = webhook.IconURL(s) })
}

// {content, username?, avatar_url?}
func isDiscord(body gjson.Result) bool {
	return isString(body, "content") && optString(body, "username") && optString(body, "avatar_url")
}

func applyDiscord(body gjson.Result, _ []byte, msg *webhook.Message, sub textfmt.Substitution) {
	msg.Text = textfmt.Str(sub(body.Get("content").Str))
	setString(body, "username", func(s string) { msg.Username = s })
	setString(body, "avatar_url", func(s string) {
		if icon := webhook.IconURL(s); icon != nil {
			msg.Icon = icon
		}
	})
}

// {version: "1.0", title, message, type}
func isAppriseV1(body gjson.Result) bool {
	return body.Get("version").Type == gjson.String && body.Get("version").Str == "1.0" &&
		isString(body, "title") && isString(body, "message") && isString(body, "type")
}

func applyAppriseV1(body gjson.Result, _ []byte, msg *webhook.Message, sub textfmt.Substitution) {
	msg.Text = textfmt.Fmt(
		textfmt.Strong(textfmt.Str(sub(body.Get("title").Str))),
		textfmt.Br(),
		sub(body.Get("message").Str),
	)
	msg.Format = webhook.FormatNone
}

// {version, message}, for Apprise versions this gateway does not know.
func isAppriseUnknown(body gjson.Result) bool {
	return !isAppriseV1(body) && isString(body, "version") && isString(body, "message")
}

func applyAppriseUnknown(body gjson.Result, _ []byte, msg *webhook.Message, sub textfmt.Substitution) {
	msg.Text = textfmt.Str(sub(body.Get("message").Str))
}

// {text, username?, icon_url?, icon_emoji?, mrkdwn?, attachments?}. Mattermost
// accepts the same payload on its incoming webhooks. A payload that only
// carries attachments is accepted as well.
func isSlack(body gjson.Result) bool {
	if !optString(body, "username") || !optString(body, "icon_url") ||
		!optString(body, "icon_emoji") || !optBool(body, "mrkdwn") {
		return false
	}
	attachments := body.Get("attachments")
	if attachments.Exists() && !attachments.IsArray() {
		return false
	}
	if isString(body, "text") {
		return true
	}
	return !body.Get("text").Exists() && len(attachments.Array()) > 0
}

func applySlack(body gjson.Result, raw []byte, msg *webhook.Message, sub textfmt.Substitution) {
	var parts []any
	if text := body.Get("text"); text.Exists() {
		if body.Get("mrkdwn").Bool() {
			parts = append(parts, mrkdwnfmt.Parse(sub(text.Str)))
			msg.Format = webhook.FormatNone
		} else if msg.Format == webhook.FormatNone {
			parts = append(parts, sub(text.Str))
		} else {
			// An earlier shape chose a legacy format, so the text must stay a
			// single raw string.
			msg.Text = textfmt.Str(sub(text.Str))
		}
	}
	if attachments := decodeAttachments(raw); len(attachments) > 0 && msg.Format == webhook.FormatNone {
		for _, attachment := range attachments {
			if len(parts) > 0 {
				parts = append(parts, textfmt.Br())
			}
			parts = append(parts, renderAttachment(attachment, sub))
		}
	}
	if len(parts) > 0 {
		msg.Text = textfmt.Fmt(parts...)
	}

	setString(body, "username", func(s string) { msg.Username = s })
	if url := body.Get("icon_url").Str; url != "" {
		msg.Icon = webhook.IconURL(url)
	} else if emoji := body.Get("icon_emoji").Str; emoji != "" {
		msg.Icon = webhook.IconEmoji(emoji)
	}
}

func decodeAttachments(raw []byte) []*model.SlackAttachment {
	var payload struct {
		Attachments []*model.SlackAttachment `json:"attachments"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload.Attachments
}

func renderAttachment(attachment *model.SlackAttachment, sub textfmt.Substitution) textfmt.Text {
	if attachment == nil {
		return textfmt.Text{}
	}
	var lines []textfmt.Text
	if attachment.Pretext != "" {
		lines = append(lines, mrkdwnfmt.Parse(sub(attachment.Pretext)))
	}
	if attachment.Title != "" {
		title := textfmt.Str(sub(attachment.Title))
		if attachment.TitleLink != "" {
			title = textfmt.A(attachment.TitleLink, title)
		}
		title = textfmt.Strong(title)
		if strings.HasPrefix(attachment.Color, "#") {
			title = textfmt.FG(attachment.Color, title)
		}
		lines = append(lines, title)
	}
	if attachment.Text != "" {
		lines = append(lines, mrkdwnfmt.Parse(sub(attachment.Text)))
	}
	for _, field := range attachment.Fields {
		if field == nil {
			continue
		}
		value := ""
		if field.Value != nil {
			value = fmt.Sprint(field.Value)
		}
		lines = append(lines, textfmt.Fmt(textfmt.Strong(textfmt.Str(sub(field.Title))), ": ", sub(value)))
	}
	if len(lines) == 0 && attachment.Fallback != "" {
		lines = append(lines, textfmt.Str(sub(attachment.Fallback)))
	}
	parts := make([]any, 0, 2*len(lines))
	for i, line := range lines {
		if i > 0 {
			parts = append(parts, textfmt.Br())
		}
		parts = append(parts, line)
	}
	return textfmt.Fmt(parts...)
}
