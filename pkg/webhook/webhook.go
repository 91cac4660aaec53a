// Copyright 2024-2026 Aiku AI

// Package webhook holds the types shared by every stage of the gateway: the
// registration a request resolves to and the canonical message it produces.
package webhook

import (
	"fmt"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
)

// LegacyFormat tags a message whose text is a single raw string in a fixed
// markup language. The zero value means the text is a structured textfmt.Text.
type LegacyFormat string

const (
	FormatNone     LegacyFormat = ""
	FormatPlain    LegacyFormat = "plain"
	FormatHTML     LegacyFormat = "html"
	FormatMarkdown LegacyFormat = "markdown"
)

// ParseLegacyFormat validates a format tag. An empty string is FormatNone.
func ParseLegacyFormat(s string) (LegacyFormat, error) {
	switch f := LegacyFormat(strings.ToLower(s)); f {
	case FormatNone, FormatPlain, FormatHTML, FormatMarkdown:
		return f, nil
	default:
		return FormatNone, fmt.Errorf("unknown message format %q", s)
	}
}

// Icon is the avatar a message asks to be shown with. Exactly one of URL and
// Emoji is set.
type Icon struct {
	URL   string `json:"url,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

// IconURL returns an icon that points at an image.
func IconURL(url string) *Icon {
	if url == "" {
		return nil
	}
	return &Icon{URL: url}
}

// IconEmoji returns an icon made of an emoji glyph or shortcode.
func IconEmoji(emoji string) *Icon {
	if emoji == "" {
		return nil
	}
	return &Icon{Emoji: emoji}
}

// Glyph returns the emoji as Unicode. Shortcodes such as ":rocket:" are
// resolved, anything else is returned as is.
func (i *Icon) Glyph() string {
	if i == nil || i.Emoji == "" {
		return ""
	}
	name := strings.Trim(i.Emoji, ":")
	if glyph, ok := textfmt.LookupEmoji(name); ok {
		return glyph
	}
	return i.Emoji
}

// Message is the normalized output of a webhook call, whichever path
// produced it.
type Message struct {
	Text     textfmt.Text `json:"text"`
	Username string       `json:"username,omitempty"`
	Icon     *Icon        `json:"icon,omitempty"`
	// Format is set only for messages from contract v1 plugins and legacy
	// payload shapes. The raw string is then Text.Plain().
	Format LegacyFormat `json:"format,omitempty"`
}

// Registration binds a hook path to a room and the ghost user that posts there.
type Registration struct {
	ID     int64
	Path   string
	RoomID id.RoomID
	UserID id.UserID
}

// Result is a message ready for delivery, together with the registration it
// belongs to.
type Result struct {
	Registration *Registration
	Message      *Message
}
