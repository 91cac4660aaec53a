// Copyright 2024-2026 Aiku AI

//go:build ignore

// Contract v1 plugin kept to check that old plugins still load. New plugins
// should follow sample.go instead.
package main

import (
	"encoding/json"
	"fmt"

	"github.com/geluk/matrix-webhook-gateway/pkg/sdk"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

func transform(body []byte) (*sdk.LegacyMessage, error) {
	var content struct {
		Message   string `json:"message"`
		Recipient string `json:"recipient"`
	}
	if err := json.Unmarshal(body, &content); err != nil || content.Message == "" || content.Recipient == "" {
		return nil, nil
	}
	return &sdk.LegacyMessage{
		Text:   fmt.Sprintf("Hello, %s! You have a new message: %s", content.Recipient, content.Message),
		Format: webhook.FormatPlain,
	}, nil
}

func main() {
	sdk.ServeV1(sdk.PluginV1{
		Format:    "legacy_v1",
		Transform: transform,
	})
}
