// Copyright 2024-2026 Aiku AI

// Package mrkdwnfmt converts Slack mrkdwn, and the Markdown dialect
// Mattermost accepts on its Slack-compatible webhooks, to Matrix HTML.
package mrkdwnfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
)

// slackLinkRe only matches URLs and @user, #channel and !special mentions.
// Anything else in angle brackets is literal text.
var slackLinkRe = regexp.MustCompile(`<((?:[A-Za-z][A-Za-z0-9+.\-]*:|[@#!])[^<>|\s]*)(?:\|([^<>]+))?>`)

var (
	codeBlockRe   = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	mdLinkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	codeRe        = regexp.MustCompile("`([^`\n]+)`")
	doubleBoldRe  = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldRe        = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicRe      = regexp.MustCompile(`(^|[^\p{L}\p{N}_])_([^_\n]+)_($|[^\p{L}\p{N}_])`)
	doubleStrikRe = regexp.MustCompile(`~~(.+?)~~`)
	strikeRe      = regexp.MustCompile(`~([^~\n]+)~`)
	headingRe     = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	ulRe          = regexp.MustCompile(`^[-*•]\s+(.+)$`)
	olRe          = regexp.MustCompile(`^\d+\.\s+(.+)$`)
	blockquoteRe  = regexp.MustCompile(`^>\s?(.*)$`)

	slackUnescaper = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">")
)

type link struct {
	href  string
	label string
}

func placeholder(kind string, idx int) string {
	return "\x00" + kind + strconv.Itoa(idx) + "\x00"
}

func safeHref(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:")
}

func parseSlackLink(parts []string) link {
	l := link{href: parts[1], label: parts[2]}
	if l.label == "" {
		l.label = l.href
	}
	return l
}

func (l link) plain() string {
	if !safeHref(l.href) || l.label == l.href {
		return l.label
	}
	return l.label + " (" + l.href + ")"
}

func (l link) html() string {
	label := html.EscapeString(slackUnescaper.Replace(l.label))
	if !safeHref(l.href) {
		return label
	}
	return `<a href="` + html.EscapeString(slackUnescaper.Replace(l.href)) + `">` + label + `</a>`
}

// Plain returns the plain text body for a mrkdwn message: links are spelled
// out and Slack's entity escapes are undone.
func Plain(text string) string {
	text = slackLinkRe.ReplaceAllStringFunc(text, func(match string) string {
		return parseSlackLink(slackLinkRe.FindStringSubmatch(match)).plain()
	})
	return slackUnescaper.Replace(text)
}

func hasFormatting(text string) bool {
	if codeBlockRe.MatchString(text) || slackLinkRe.MatchString(text) || mdLinkRe.MatchString(text) ||
		codeRe.MatchString(text) || boldRe.MatchString(text) || italicRe.MatchString(text) ||
		strikeRe.MatchString(text) {
		return true
	}
	for _, line := range strings.Split(text, "\n") {
		if headingRe.MatchString(line) || ulRe.MatchString(line) || olRe.MatchString(line) ||
			blockquoteRe.MatchString(slackUnescaper.Replace(line)) {
			return true
		}
	}
	return false
}

// Parse converts a mrkdwn message to a Text whose HTML rendering is the
// converted markup and whose plain rendering is [Plain].
func Parse(text string) textfmt.Text {
	if text == "" {
		return textfmt.Text{}
	}
	if !hasFormatting(text) {
		return textfmt.Str(slackUnescaper.Replace(text))
	}

	// Code blocks and links are lifted out first so inline rules never see
	// their contents.
	var codeBlocks []string
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		codeBlocks = append(codeBlocks, parts[2])
		return placeholder("CODEBLOCK", len(codeBlocks)-1)
	})
	var links []link
	processed = slackLinkRe.ReplaceAllStringFunc(processed, func(match string) string {
		links = append(links, parseSlackLink(slackLinkRe.FindStringSubmatch(match)))
		return placeholder("LINK", len(links)-1)
	})
	processed = mdLinkRe.ReplaceAllStringFunc(processed, func(match string) string {
		parts := mdLinkRe.FindStringSubmatch(match)
		links = append(links, link{href: parts[2], label: parts[1]})
		return placeholder("LINK", len(links)-1)
	})
	processed = slackUnescaper.Replace(processed)

	lines := strings.Split(processed, "\n")
	var result []string
	var listType string
	var listItems []string

	flushList := func() {
		if len(listItems) == 0 {
			return
		}
		result = append(result, "<"+listType+">"+strings.Join(listItems, "")+"</"+listType+">")
		listItems = nil
		listType = ""
	}
	addItem := func(kind, item string) {
		if listType != kind {
			flushList()
			listType = kind
		}
		listItems = append(listItems, "<li>"+html.EscapeString(item)+"</li>")
	}

	for _, line := range lines {
		if m := blockquoteRe.FindStringSubmatch(line); m != nil {
			flushList()
			result = append(result, "<blockquote>"+html.EscapeString(m[1])+"</blockquote>")
		} else if m := headingRe.FindStringSubmatch(line); m != nil {
			flushList()
			lvl := strconv.Itoa(len(m[1]))
			result = append(result, "<h"+lvl+">"+html.EscapeString(m[2])+"</h"+lvl+">")
		} else if m := ulRe.FindStringSubmatch(line); m != nil {
			addItem("ul", m[1])
		} else if m := olRe.FindStringSubmatch(line); m != nil {
			addItem("ol", m[1])
		} else {
			flushList()
			result = append(result, html.EscapeString(line))
		}
	}
	flushList()

	formatted := strings.Join(result, "\n")

	formatted = codeRe.ReplaceAllString(formatted, "<code>$1</code>")
	formatted = doubleBoldRe.ReplaceAllString(formatted, "<strong>$1</strong>")
	formatted = boldRe.ReplaceAllString(formatted, "<strong>$1</strong>")
	formatted = italicRe.ReplaceAllString(formatted, "$1<em>$2</em>$3")
	formatted = doubleStrikRe.ReplaceAllString(formatted, "<del>$1</del>")
	formatted = strikeRe.ReplaceAllString(formatted, "<del>$1</del>")

	formatted = strings.ReplaceAll(formatted, "\n\n", "</p><p>")
	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")
	if strings.Contains(formatted, "</p><p>") {
		formatted = "<p>" + formatted + "</p>"
	}

	for i, l := range links {
		formatted = strings.Replace(formatted, placeholder("LINK", i), l.html(), 1)
	}
	for i, content := range codeBlocks {
		formatted = strings.Replace(formatted, placeholder("CODEBLOCK", i),
			"<pre><code>"+html.EscapeString(slackUnescaper.Replace(content))+"</code></pre>", 1)
	}

	return textfmt.Markup(formatted, Plain(text))
}
