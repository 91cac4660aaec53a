// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package htmlfmt derives the plain text body of a message whose text was
// supplied as Matrix HTML. The output follows the plain rendering of the
// textfmt package, so a hook that sends HTML reads the same in clients that
// only show the body.
package htmlfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	strongRe     = regexp.MustCompile(`(?s)<(?:strong|b)>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`(?s)<(?:em|i)>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`(?s)<(?:del|s)>(.*?)</(?:del|s)>`)
	preRe        = regexp.MustCompile(`(?s)<pre>(?:<code[^>]*>)?(.*?)(?:</code>)?</pre>`)
	linkRe       = regexp.MustCompile(`(?s)<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`(?s)<h[1-6]>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	trRe         = regexp.MustCompile(`(?s)<tr>(.*?)</tr>`)
	cellRe       = regexp.MustCompile(`(?s)<t[dh]>(.*?)</t[dh]>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
)

const matrixToPrefix = "https://matrix.to/#/"

// ToPlain converts Matrix HTML to plain text.
func ToPlain(formatted string) string {
	if formatted == "" {
		return ""
	}
	text := formatted

	text = preRe.ReplaceAllString(text, "\n$1\n")

	text = strongRe.ReplaceAllString(text, "**$1**")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~~$1~~")

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		href, inner := parts[1], parts[2]
		if target, ok := strings.CutPrefix(href, matrixToPrefix); ok {
			// Pills render as "@user:server (Name)".
			if strings.HasPrefix(target, "@") && inner != target {
				return target + " (" + inner + ")"
			}
			return target
		}
		if inner == href {
			return href
		}
		return inner + " (" + href + ")"
	})

	text = headingRe.ReplaceAllString(text, "**$1**\n")

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		lines := strings.Split(strings.TrimSpace(parts[1]), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return "\n" + strings.Join(lines, "\n")
	})

	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for _, item := range items {
			result = append(result, " * "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})

	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for i, item := range items {
			result = append(result, strconv.Itoa(i+1)+": "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})

	text = trRe.ReplaceAllStringFunc(text, func(match string) string {
		cells := cellRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(cells))
		for _, cell := range cells {
			result = append(result, strings.TrimSpace(cell[1]))
		}
		return strings.Join(result, " ") + "\n"
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")

	return strings.TrimSpace(html.UnescapeString(text))
}
