// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package textfmt

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        Text
		wantHTML  string
		wantPlain string
	}{
		{"leaf escapes html only", Str("<x> & y"), "&lt;x&gt; &amp; y", "<x> & y"},
		{"fmt", Fmt("a", Strong(Str("b")), nil, 42), "a<strong>b</strong>42", "a**b**42"},
		{"markup", Markup("<b>x</b>", "x"), "<b>x</b>", "x"},
		{"link", A("https://e.com?a=1&b=2", Str("link")),
			`<a href="https://e.com?a=1&amp;b=2">link</a>`, "link (https://e.com?a=1&b=2)"},
		{"break", Fmt("a", Br(), "b"), "a<br />b", "a\nb"},
		{"blockquote", Blockquote(Str("q")), "<blockquote>q</blockquote>", "\n> q"},
		{"code", Code(Str("x < y")), "<code>x &lt; y</code>", "x < y"},
		{"em", Em(Str("x")), "<em>x</em>", "_x_"},
		{"ordered list", OL(Str("x"), Str("y")), "<ol>\n<li>x</li>\n<li>y</li>\n</ol>", "1: x\n2: y"},
		{"unordered list", UL(Str("x"), Str("y")), "<ul>\n<li>x</li>\n<li>y</li>\n</ul>", " * x\n * y"},
		{"table", Table([]Text{Str("h1"), Str("h2")}, [][]Text{{Str("a"), Str("b")}, {Str("c"), Str("d")}}),
			"<table><thead><tr><td>h1</td><td>h2</td></tr></thead><tbody><tr><td>a</td><td>b</td></tr>\n<tr><td>c</td><td>d</td></tr></tbody></table>",
			"a b\nc d"},
		{"color", FG("#ff0000", Str("red")), `<span data-mx-color="#ff0000">red</span>`, "red"},
		{"user", User("@a:example.org", "Alice"), `<a href="https://matrix.to/#/@a:example.org">Alice</a>`, "@a:example.org (Alice)"},
		{"user without name", User("@a:example.org", ""), `<a href="https://matrix.to/#/@a:example.org">@a:example.org</a>`, "@a:example.org"},
		{"room", Room("!r:example.org"), `<a href="https://matrix.to/#/!r:example.org">!r:example.org</a>`, "!r:example.org"},
		{"markup only", MarkupOnly(Str("x")), "x", ""},
		{"plain only", PlainOnly(Str("x")), "", "x"},
		{"quote", Quote(Str("x")), `&#34;x&#34;`, `"x"`},
		{"brace", Brace(Str("x")), "(x)", "(x)"},
		{"if true", If(true, Str("x")), "x", "x"},
		{"if not empty", IfNotEmpty("", Str("x")), "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.HTML(); got != tt.wantHTML {
				t.Errorf("HTML: got %q, want %q", got, tt.wantHTML)
			}
			if got := tt.in.Plain(); got != tt.wantPlain {
				t.Errorf("Plain: got %q, want %q", got, tt.wantPlain)
			}
		})
	}
}

func TestTruncateAndPreview(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		got  Text
		want string
	}{
		{"truncate", Truncate(5, "hello world"), "hello"},
		{"truncate short", Truncate(20, "short"), "short"},
		{"truncate negative", Truncate(-1, "x"), ""},
		{"preview", Preview(5, "hello world"), "hello…"},
		{"preview exact", Preview(5, "hello"), "hello"},
		{"preview runes", Preview(2, "héllo"), "hé…"},
	}
	for _, tt := range tests {
		if got := tt.got.Plain(); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestPreviewCutsBeforeEscaping(t *testing.T) {
	t.Parallel()
	if got := Preview(3, "<<<<<").HTML(); got != "&lt;&lt;&lt;…" {
		t.Errorf("HTML: got %q", got)
	}
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()
	if !(Text{}).IsEmpty() {
		t.Error("zero value should be empty")
	}
	if !If(false, Str("x")).IsEmpty() {
		t.Error("false condition should be empty")
	}
	if !Fmt().IsEmpty() {
		t.Error("empty Fmt should be empty")
	}
	if PlainOnly(Str("x")).IsEmpty() {
		t.Error("plain-only text should not be empty")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()
	msg := Fmt(Strong(Str("deploy")), " to ", A("https://example.com", Str("prod")), Br(),
		Table([]Text{Str("k")}, [][]Text{{Str("v")}}))
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Text
	if err = json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.HTML() != msg.HTML() || decoded.Plain() != msg.Plain() {
		t.Errorf("round trip changed rendering: got %q, want %q", decoded.HTML(), msg.HTML())
	}
}

func TestRenderEmoji(t *testing.T) {
	t.Parallel()
	got := RenderEmoji("fire :fire: coffee:coffee:snake:snake:")
	if got != "fire 🔥 coffee☕snake🐍" {
		t.Errorf("RenderEmoji: got %q", got)
	}
	if got = RenderEmoji("keep :definitely_not_an_emoji: as is"); got != "keep :definitely_not_an_emoji: as is" {
		t.Errorf("unknown shortcode: got %q", got)
	}
	if got = Identity(":fire:"); got != ":fire:" {
		t.Errorf("Identity: got %q", got)
	}
}

func TestLookupEmoji(t *testing.T) {
	t.Parallel()
	if glyph, ok := LookupEmoji("+1"); !ok || glyph != "👍" {
		t.Errorf("LookupEmoji(+1): got %q, %v", glyph, ok)
	}
	if _, ok := LookupEmoji("nope_nope"); ok {
		t.Error("LookupEmoji should fail for unknown names")
	}
}

func TestMarkdown(t *testing.T) {
	t.Parallel()
	msg := Markdown("**a** b")
	if msg.HTML() != "<strong>a</strong> b" {
		t.Errorf("HTML: got %q", msg.HTML())
	}
	if msg.Plain() != "**a** b" {
		t.Errorf("Plain: got %q", msg.Plain())
	}
	if html := Markdown("<script>alert(1)</script>").HTML(); strings.Contains(html, "<script>") {
		t.Errorf("raw HTML should be dropped, got %q", html)
	}
	if html := Markdown("one\n\ntwo").HTML(); !strings.Contains(html, "<p>one</p>") {
		t.Errorf("multiple paragraphs should stay wrapped, got %q", html)
	}
}
