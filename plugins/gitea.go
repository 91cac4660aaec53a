// Copyright 2024-2026 Aiku AI

//go:build ignore

// Gitea plugin. Point a Gitea repository webhook (content type
// application/json) at /hook/<path>/gitea.
package main

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"

	"github.com/geluk/matrix-webhook-gateway/pkg/sdk"
	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

type giteaPlugin struct {
	log hclog.Logger
}

func (p *giteaPlugin) Init() error {
	return nil
}

func link(body gjson.Result, urlPath, textPath string) textfmt.Text {
	return textfmt.A(body.Get(urlPath).String(), textfmt.Str(body.Get(textPath).String()))
}

func (p *giteaPlugin) Transform(req *sdk.Request) (*webhook.Message, error) {
	if !gjson.ValidBytes(req.Body) {
		return nil, nil
	}
	body := gjson.ParseBytes(req.Body)
	sender := body.Get("sender.username").String()
	repo := link(body, "repository.html_url", "repository.full_name")
	action := body.Get("action").String()

	var text textfmt.Text
	switch {
	case body.Get("comment").Exists() && action == "created":
		text = textfmt.Fmt(
			sender, " commented on \"", link(body, "comment.html_url", "issue.title"), "\"",
			fmt.Sprintf(" (#%d)", body.Get("issue.number").Int()), " in ", repo, ":", textfmt.Br(),
			textfmt.Blockquote(textfmt.Preview(200, req.Text(body.Get("comment.body").String()))),
		)
	case body.Get("pull_request").Exists():
		pr := link(body, "pull_request.html_url", "pull_request.title")
		number := fmt.Sprintf(" (#%d)", body.Get("pull_request.number").Int())
		switch action {
		case "opened":
			text = textfmt.Fmt(sender, " opened a new pull request in ", repo, ": \"", pr, "\"", number)
		case "synchronized":
			text = textfmt.Fmt(sender, " pushed new changes to \"", pr, "\"", number, " in ", repo)
		case "closed":
			verb := " closed \""
			if body.Get("pull_request.merged").Bool() {
				verb = " merged \""
			}
			text = textfmt.Fmt(sender, verb, pr, "\"", number, " in ", repo)
		}
	case body.Get("issue").Exists():
		issue := link(body, "issue.html_url", "issue.title")
		number := fmt.Sprintf(" (#%d)", body.Get("issue.number").Int())
		switch action {
		case "opened":
			text = textfmt.Fmt(sender, " created a new issue in ", repo, ": \"", issue, "\"", number)
		case "closed":
			text = textfmt.Fmt(sender, " closed \"", issue, "\"", number, " in ", repo)
		}
	case body.Get("commits").IsArray() && body.Get("ref").Exists():
		text = p.push(body, repo, sender)
	}
	if text.IsEmpty() {
		p.log.Debug("Ignoring unsupported Gitea event", "action", action)
		return nil, nil
	}
	return &webhook.Message{Text: text}, nil
}

func (p *giteaPlugin) push(body gjson.Result, repo textfmt.Text, sender string) textfmt.Text {
	repoURL := body.Get("repository.html_url").String()
	commit := func(id string) textfmt.Text {
		for _, c := range body.Get("commits").Array() {
			if c.Get("id").String() == id {
				return textfmt.Fmt(
					textfmt.Code(textfmt.A(c.Get("url").String(), textfmt.Truncate(8, id))), " ",
					textfmt.Quote(textfmt.Preview(80, strings.TrimSpace(c.Get("message").String()))),
				)
			}
		}
		return textfmt.Code(textfmt.A(repoURL+"/commit/"+id, textfmt.Truncate(8, id)))
	}
	branch := strings.TrimPrefix(body.Get("ref").String(), "refs/heads/")
	count := len(body.Get("commits").Array())
	noun := "commits"
	if count == 1 {
		noun = "commit"
	}
	return textfmt.Fmt(
		sender, fmt.Sprintf(" pushed %d %s to ", count, noun), textfmt.Code(textfmt.Str(branch)), " in ", repo, ": ",
		commit(body.Get("before").String()), " → ", commit(body.Get("after").String()),
	)
}

func main() {
	sdk.ServeV2("gitea", func(log hclog.Logger, _ sdk.ChatClient) sdk.PluginV2 {
		return &giteaPlugin{log: log}
	})
}
