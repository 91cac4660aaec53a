// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package textfmt

import (
	"regexp"

	"github.com/yuin/goldmark-emoji/definition"
)

// Substitution rewrites user-supplied text before it enters a message.
type Substitution func(string) string

var (
	shortcodeRe = regexp.MustCompile(`:([a-z0-9_+\-]+):`)
	emojiTable  = definition.Github()
)

// Identity returns s unchanged.
func Identity(s string) string {
	return s
}

// RenderEmoji replaces :shortcode: sequences with their Unicode glyphs.
// Unknown shortcodes are left as they are.
func RenderEmoji(s string) string {
	return shortcodeRe.ReplaceAllStringFunc(s, func(match string) string {
		if glyph, ok := LookupEmoji(match[1 : len(match)-1]); ok {
			return glyph
		}
		return match
	})
}

// LookupEmoji returns the glyph for a shortcode name without the colons.
func LookupEmoji(name string) (string, bool) {
	emoji, ok := emojiTable.Get(name)
	if !ok || !emoji.IsUnicode() {
		return "", false
	}
	return string(emoji.Unicode), true
}
