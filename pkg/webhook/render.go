// Copyright 2024-2026 Aiku AI

package webhook

import (
	"html"

	"maunium.net/go/mautrix/event"

	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt/htmlfmt"
)

// Render resolves the legacy format tag and returns the text as a
// structured value.
func (m *Message) Render() textfmt.Text {
	switch m.Format {
	case FormatPlain:
		return textfmt.Str(m.Text.Plain())
	case FormatHTML:
		raw := m.Text.Plain()
		return textfmt.Markup(raw, htmlfmt.ToPlain(raw))
	case FormatMarkdown:
		return textfmt.Markdown(m.Text.Plain())
	default:
		return m.Text
	}
}

// Content converts the message to a Matrix m.text event. The formatted body
// is omitted when it carries nothing the plain body does not.
func (m *Message) Content() *event.MessageEventContent {
	text := m.Render()
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text.Plain(),
	}
	if formatted := text.HTML(); formatted != html.EscapeString(content.Body) {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}
	return content
}
