// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package textfmt

import (
	"html"
	"strconv"
	"strings"
)

const matrixToPrefix = "https://matrix.to/#/"

// HTML renders t as Matrix HTML.
func (t Text) HTML() string {
	var sb strings.Builder
	t.writeHTML(&sb)
	return sb.String()
}

// Plain renders t as plain text.
func (t Text) Plain() string {
	var sb strings.Builder
	t.writePlain(&sb)
	return sb.String()
}

func writeChildrenHTML(sb *strings.Builder, children []Text) {
	for _, child := range children {
		child.writeHTML(sb)
	}
}

func writeChildrenPlain(sb *strings.Builder, children []Text) {
	for _, child := range children {
		child.writePlain(sb)
	}
}

func (t Text) writeHTML(sb *strings.Builder) {
	switch t.Kind {
	case KindLeaf:
		sb.WriteString(html.EscapeString(t.Value))
	case KindConcat, KindMarkupOnly:
		writeChildrenHTML(sb, t.Children)
	case KindMarkup:
		sb.WriteString(t.Value)
	case KindLink:
		sb.WriteString(`<a href="`)
		sb.WriteString(html.EscapeString(t.Value))
		sb.WriteString(`">`)
		writeChildrenHTML(sb, t.Children)
		sb.WriteString("</a>")
	case KindBreak:
		sb.WriteString("<br />")
	case KindBlockquote:
		wrapHTML(sb, "blockquote", t.Children)
	case KindCode:
		wrapHTML(sb, "code", t.Children)
	case KindEmphasis:
		wrapHTML(sb, "em", t.Children)
	case KindStrong:
		wrapHTML(sb, "strong", t.Children)
	case KindOrderedList, KindUnorderedList:
		tag := "ul"
		if t.Kind == KindOrderedList {
			tag = "ol"
		}
		sb.WriteString("<" + tag + ">\n")
		for _, entry := range t.Children {
			sb.WriteString("<li>")
			entry.writeHTML(sb)
			sb.WriteString("</li>\n")
		}
		sb.WriteString("</" + tag + ">")
	case KindTable:
		sb.WriteString("<table><thead><tr>")
		for _, cell := range t.Children {
			wrapHTML(sb, "td", []Text{cell})
		}
		sb.WriteString("</tr></thead><tbody>")
		for i, row := range t.Rows {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString("<tr>")
			for _, cell := range row {
				wrapHTML(sb, "td", []Text{cell})
			}
			sb.WriteString("</tr>")
		}
		sb.WriteString("</tbody></table>")
	case KindColor:
		sb.WriteString(`<span data-mx-color="`)
		sb.WriteString(html.EscapeString(t.Value))
		sb.WriteString(`">`)
		writeChildrenHTML(sb, t.Children)
		sb.WriteString("</span>")
	case KindUser:
		name := t.Alt
		if name == "" {
			name = t.Value
		}
		sb.WriteString(`<a href="` + matrixToPrefix)
		sb.WriteString(html.EscapeString(t.Value))
		sb.WriteString(`">`)
		sb.WriteString(html.EscapeString(name))
		sb.WriteString("</a>")
	case KindRoom:
		sb.WriteString(`<a href="` + matrixToPrefix)
		sb.WriteString(html.EscapeString(t.Value))
		sb.WriteString(`">`)
		sb.WriteString(html.EscapeString(t.Value))
		sb.WriteString("</a>")
	case KindPlainOnly:
	}
}

func wrapHTML(sb *strings.Builder, tag string, children []Text) {
	sb.WriteString("<" + tag + ">")
	writeChildrenHTML(sb, children)
	sb.WriteString("</" + tag + ">")
}

func (t Text) writePlain(sb *strings.Builder) {
	switch t.Kind {
	case KindLeaf:
		sb.WriteString(t.Value)
	case KindConcat, KindCode, KindColor, KindPlainOnly:
		writeChildrenPlain(sb, t.Children)
	case KindMarkup:
		sb.WriteString(t.Alt)
	case KindLink:
		writeChildrenPlain(sb, t.Children)
		sb.WriteString(" (")
		sb.WriteString(t.Value)
		sb.WriteString(")")
	case KindBreak:
		sb.WriteByte('\n')
	case KindBlockquote:
		sb.WriteString("\n> ")
		writeChildrenPlain(sb, t.Children)
	case KindEmphasis:
		sb.WriteByte('_')
		writeChildrenPlain(sb, t.Children)
		sb.WriteByte('_')
	case KindStrong:
		sb.WriteString("**")
		writeChildrenPlain(sb, t.Children)
		sb.WriteString("**")
	case KindOrderedList:
		for i, entry := range t.Children {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(strconv.Itoa(i + 1))
			sb.WriteString(": ")
			entry.writePlain(sb)
		}
	case KindUnorderedList:
		for i, entry := range t.Children {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(" * ")
			entry.writePlain(sb)
		}
	case KindTable:
		for i, row := range t.Rows {
			if i > 0 {
				sb.WriteByte('\n')
			}
			for j, cell := range row {
				if j > 0 {
					sb.WriteByte(' ')
				}
				cell.writePlain(sb)
			}
		}
	case KindUser:
		sb.WriteString(t.Value)
		if t.Alt != "" {
			sb.WriteString(" (")
			sb.WriteString(t.Alt)
			sb.WriteString(")")
		}
	case KindRoom:
		sb.WriteString(t.Value)
	case KindMarkupOnly:
	}
}
