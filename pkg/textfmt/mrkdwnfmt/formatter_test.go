// Copyright 2024-2026 Aiku AI

package mrkdwnfmt

import (
	"testing"

	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
)

func TestParseEmpty(t *testing.T) {
	t.Parallel()
	if result := Parse(""); !result.IsEmpty() {
		t.Errorf("empty input: got %+v, want empty", result)
	}
}

func TestParsePlainText(t *testing.T) {
	t.Parallel()
	result := Parse("hello world")
	if result.Kind != textfmt.KindLeaf {
		t.Errorf("plain text should stay a leaf, got kind %d", result.Kind)
	}
	if result.Plain() != "hello world" {
		t.Errorf("Plain: got %q, want %q", result.Plain(), "hello world")
	}
}

func TestParseUnescapesPlainText(t *testing.T) {
	t.Parallel()
	result := Parse("a &lt; b &amp; c")
	if result.Plain() != "a < b & c" {
		t.Errorf("Plain: got %q, want %q", result.Plain(), "a < b & c")
	}
	if result.HTML() != "a &lt; b &amp; c" {
		t.Errorf("HTML: got %q, want %q", result.HTML(), "a &lt; b &amp; c")
	}
}

func TestParseHTML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inline", "*bold* and _it_ with ~gone~", "<strong>bold</strong> and <em>it</em> with <del>gone</del>"},
		{"double bold", "**bold**", "<strong>bold</strong>"},
		{"escaped bold", "*a &amp; b*", "<strong>a &amp; b</strong>"},
		{"snake case", "some_snake_case *x*", "some_snake_case <strong>x</strong>"},
		{"slack link", "see <https://example.com|the site>", `see <a href="https://example.com">the site</a>`},
		{"bare slack link", "<https://example.com>", `<a href="https://example.com">https://example.com</a>`},
		{"markdown link", "[docs](https://example.com/docs)", `<a href="https://example.com/docs">docs</a>`},
		{"unsafe link", "<javascript:alert(1)|click>", "click"},
		{"code block", "```\nx *y*\n```", "<pre><code>x *y*\n</code></pre>"},
		{"bullets", "• one\n• two", "<ul><li>one</li><li>two</li></ul>"},
		{"ordered", "1. a\n2. b", "<ol><li>a</li><li>b</li></ol>"},
		{"blockquote", "&gt; quoted", "<blockquote>quoted</blockquote>"},
		{"heading", "## Title", "<h2>Title</h2>"},
		{"raw html is text", "<b>x</b> *y*", "&lt;b&gt;x&lt;/b&gt; <strong>y</strong>"},
		{"raw tag without formatting", "<script>alert(1)</script>", "&lt;script&gt;alert(1)&lt;/script&gt;"},
		{"mailto link", "<mailto:ops@example.com|mail us>", `<a href="mailto:ops@example.com">mail us</a>`},
		{"channel mention", "ping <#C024BE7LR|general>", "ping general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Parse(tt.in).HTML(); got != tt.want {
				t.Errorf("Parse(%q).HTML(): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLinkPlain(t *testing.T) {
	t.Parallel()
	result := Parse("see <https://example.com|the site>")
	if result.Plain() != "see the site (https://example.com)" {
		t.Errorf("Plain: got %q", result.Plain())
	}
}

func TestPlainMention(t *testing.T) {
	t.Parallel()
	if got := Plain("hi <@U123>"); got != "hi @U123" {
		t.Errorf("Plain: got %q, want %q", got, "hi @U123")
	}
}

func TestPlainKeepsNonLinkBrackets(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"<b>x</b>", "<b>x</b>"},
		{"a <script> b", "a <script> b"},
		{"<!here> deploy", "!here deploy"},
		{"<https://example.com|site> <b>", "site (https://example.com) <b>"},
	}
	for _, tt := range tests {
		if got := Plain(tt.in); got != tt.want {
			t.Errorf("Plain(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
