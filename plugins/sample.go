// Copyright 2024-2026 Aiku AI

//go:build ignore

// Sample contract v2 plugin. Post {"message": "...", "recipient": "..."} to
// /hook/<path>/sample to try it.
package main

import (
	"github.com/hashicorp/go-hclog"

	"github.com/geluk/matrix-webhook-gateway/pkg/sdk"
	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

type sampleContent struct {
	Message   string `json:"message"`
	Recipient string `json:"recipient"`
}

type samplePlugin struct {
	log hclog.Logger
}

func (p *samplePlugin) Init() error {
	p.log.Info("Sample plugin starting up")
	return nil
}

func (p *samplePlugin) Transform(req *sdk.Request) (*webhook.Message, error) {
	var body sampleContent
	if err := req.Decode(&body); err != nil || body.Message == "" || body.Recipient == "" {
		p.log.Warn("Invalid webhook")
		return nil, nil
	}
	return &webhook.Message{
		Text: textfmt.Fmt(
			"Hello, ",
			textfmt.Strong(textfmt.Str(req.Text(body.Recipient))),
			"! You have a new message: ",
			textfmt.Blockquote(textfmt.Str(req.Text(body.Message))),
		),
	}, nil
}

func main() {
	sdk.ServeV2("sample", func(log hclog.Logger, _ sdk.ChatClient) sdk.PluginV2 {
		return &samplePlugin{log: log}
	})
}
