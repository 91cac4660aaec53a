// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package textfmt implements the text model shared by the webhook normalizer
// and by plugins. A [Text] is a small tree of tagged nodes that renders
// itself twice: as Matrix HTML for formatted_body and as plain text for body.
//
// Leaf strings are escaped only when rendering HTML, and only once, at the
// leaf. Every other node kind defines both renderings independently, so a
// link becomes an anchor in HTML and "text (url)" in plain text.
//
// Text values are plain data. They can be encoded with encoding/gob or
// encoding/json, which is how plugin processes hand them back to the host.
package textfmt

import (
	"fmt"
	"unicode/utf8"
)

// Kind identifies the node type of a [Text].
type Kind uint8

const (
	KindLeaf Kind = iota
	KindConcat
	KindMarkup
	KindLink
	KindBreak
	KindBlockquote
	KindCode
	KindEmphasis
	KindStrong
	KindOrderedList
	KindUnorderedList
	KindTable
	KindColor
	KindUser
	KindRoom
	KindMarkupOnly
	KindPlainOnly
)

// Text is a value that renders itself both as HTML and as plain text.
//
// The zero value is an empty leaf.
type Text struct {
	Kind Kind `json:"kind"`
	// Value holds the leaf string, the link target, the color, the Matrix
	// user or room ID, or the raw markup, depending on Kind.
	Value string `json:"value,omitempty"`
	// Alt holds the plain rendering of raw markup and the display name of
	// a user pill.
	Alt      string   `json:"alt,omitempty"`
	Children []Text   `json:"children,omitempty"`
	Rows     [][]Text `json:"rows,omitempty"`
}

// Str returns a leaf containing s.
func Str(s string) Text {
	return Text{Kind: KindLeaf, Value: s}
}

// Concat joins parts in order.
func Concat(parts ...Text) Text {
	if len(parts) == 1 {
		return parts[0]
	}
	return Text{Kind: KindConcat, Children: parts}
}

// Fmt joins parts in order. Strings become leaves, Text values are used as
// they are, nil values are skipped and anything else is formatted with
// fmt.Sprint.
func Fmt(parts ...any) Text {
	children := make([]Text, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case nil:
		case Text:
			children = append(children, p)
		case *Text:
			if p != nil {
				children = append(children, *p)
			}
		case string:
			children = append(children, Str(p))
		case fmt.Stringer:
			children = append(children, Str(p.String()))
		default:
			children = append(children, Str(fmt.Sprint(p)))
		}
	}
	return Text{Kind: KindConcat, Children: children}
}

// Markup returns a node that renders html verbatim in HTML output and plain
// in plain text output. The caller is responsible for html being safe.
func Markup(html, plain string) Text {
	return Text{Kind: KindMarkup, Value: html, Alt: plain}
}

// A returns a link to href.
func A(href string, inner Text) Text {
	return Text{Kind: KindLink, Value: href, Children: []Text{inner}}
}

// Br returns a line break.
func Br() Text {
	return Text{Kind: KindBreak}
}

func Blockquote(inner Text) Text {
	return Text{Kind: KindBlockquote, Children: []Text{inner}}
}

func Code(inner Text) Text {
	return Text{Kind: KindCode, Children: []Text{inner}}
}

func Em(inner Text) Text {
	return Text{Kind: KindEmphasis, Children: []Text{inner}}
}

func Strong(inner Text) Text {
	return Text{Kind: KindStrong, Children: []Text{inner}}
}

// OL returns an ordered list.
func OL(entries ...Text) Text {
	return Text{Kind: KindOrderedList, Children: entries}
}

// UL returns an unordered list.
func UL(entries ...Text) Text {
	return Text{Kind: KindUnorderedList, Children: entries}
}

// Table returns a table with a header row.
func Table(head []Text, rows [][]Text) Text {
	return Text{Kind: KindTable, Children: head, Rows: rows}
}

// FG colors inner. The color is dropped from plain text.
func FG(color string, inner Text) Text {
	return Text{Kind: KindColor, Value: color, Children: []Text{inner}}
}

// User returns a matrix.to pill for a Matrix user.
func User(userID, displayName string) Text {
	return Text{Kind: KindUser, Value: userID, Alt: displayName}
}

// Room returns a matrix.to link for a Matrix room.
func Room(roomID string) Text {
	return Text{Kind: KindRoom, Value: roomID}
}

// MarkupOnly renders inner in HTML output and nothing in plain text.
func MarkupOnly(inner Text) Text {
	return Text{Kind: KindMarkupOnly, Children: []Text{inner}}
}

// PlainOnly renders inner in plain text and nothing in HTML output.
func PlainOnly(inner Text) Text {
	return Text{Kind: KindPlainOnly, Children: []Text{inner}}
}

// If returns inner when cond holds and an empty value otherwise.
func If(cond bool, inner Text) Text {
	if !cond {
		return Text{}
	}
	return inner
}

// IfNotEmpty returns inner when s is not empty.
func IfNotEmpty(s string, inner Text) Text {
	return If(s != "", inner)
}

// Quote wraps inner in double quotes.
func Quote(inner Text) Text {
	return Concat(Str("\""), inner, Str("\""))
}

// Brace wraps inner in parentheses.
func Brace(inner Text) Text {
	return Concat(Str("("), inner, Str(")"))
}

// Truncate returns a leaf holding at most n runes of s.
func Truncate(n int, s string) Text {
	cut, _ := cutRunes(n, s)
	return Str(cut)
}

// Preview returns a leaf holding at most n runes of s, followed by an
// ellipsis if anything was cut.
func Preview(n int, s string) Text {
	cut, truncated := cutRunes(n, s)
	if truncated {
		return Str(cut + "…")
	}
	return Str(cut)
}

func cutRunes(n int, s string) (string, bool) {
	if n < 0 {
		n = 0
	}
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

// IsEmpty reports whether both renderings of t are empty.
func (t Text) IsEmpty() bool {
	return t.HTML() == "" && t.Plain() == ""
}
