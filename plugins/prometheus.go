// Copyright 2024-2026 Aiku AI

//go:build ignore

// Prometheus Alertmanager plugin. Add a webhook_config receiver with
// url /hook/<path>/prometheus to alertmanager.yml.
package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"

	"github.com/geluk/matrix-webhook-gateway/pkg/sdk"
	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

const maxListedAlerts = 10

type prometheusPlugin struct {
	log hclog.Logger
}

func (p *prometheusPlugin) Init() error {
	return nil
}

func isAlertmanagerPayload(body gjson.Result) bool {
	status := body.Get("status").String()
	return body.Get("version").String() == "4" &&
		(status == "firing" || status == "resolved") &&
		body.Get("alerts").IsArray() &&
		body.Get("commonLabels").IsObject()
}

func sortedLabels(labels gjson.Result) [][]textfmt.Text {
	var rows [][]textfmt.Text
	labels.ForEach(func(key, value gjson.Result) bool {
		rows = append(rows, []textfmt.Text{
			textfmt.Code(textfmt.Str(key.String())),
			textfmt.Str(value.String()),
		})
		return true
	})
	slices.SortFunc(rows, func(a, b []textfmt.Text) int {
		return strings.Compare(a[0].Plain(), b[0].Plain())
	})
	return rows
}

func (p *prometheusPlugin) alert(req *sdk.Request, alert gjson.Result) textfmt.Text {
	name := alert.Get("labels.alertname").String()
	if name == "" {
		name = "alert"
	}
	title := textfmt.Str(name)
	if url := alert.Get("generatorURL").String(); url != "" {
		title = textfmt.A(url, title)
	}
	status := alert.Get("status").String()
	color := "#2e7d32"
	if status == "firing" {
		color = "#c62828"
	}
	summary := alert.Get("annotations.summary").String()
	if summary == "" {
		summary = alert.Get("annotations.description").String()
	}
	instance := alert.Get("labels.instance").String()
	return textfmt.Fmt(
		textfmt.FG(color, textfmt.Strong(textfmt.Str(status))), " ", title,
		textfmt.IfNotEmpty(instance, textfmt.Fmt(" on ", textfmt.Code(textfmt.Str(instance)))),
		textfmt.IfNotEmpty(summary, textfmt.Fmt(": ", textfmt.Preview(200, req.Text(summary)))),
	)
}

func (p *prometheusPlugin) Transform(req *sdk.Request) (*webhook.Message, error) {
	if !gjson.ValidBytes(req.Body) {
		return nil, nil
	}
	body := gjson.ParseBytes(req.Body)
	if !isAlertmanagerPayload(body) {
		p.log.Debug("Ignoring payload that is not an Alertmanager notification")
		return nil, nil
	}

	status := body.Get("status").String()
	alerts := body.Get("alerts").Array()
	groupName := body.Get("groupLabels.alertname").String()
	if groupName == "" {
		groupName = body.Get("receiver").String()
	}

	entries := make([]textfmt.Text, 0, min(len(alerts), maxListedAlerts))
	for i, alert := range alerts {
		if i == maxListedAlerts {
			break
		}
		entries = append(entries, p.alert(req, alert))
	}
	hidden := len(alerts) - len(entries) + int(body.Get("truncatedAlerts").Int())

	icon := "rotating_light"
	color := "#c62828"
	if status == "resolved" {
		icon = "white_check_mark"
		color = "#2e7d32"
	}
	header := textfmt.FG(color, textfmt.Strong(textfmt.Str(
		fmt.Sprintf("[%s:%d] %s", strings.ToUpper(status), len(alerts), groupName))))

	parts := []any{header}
	if url := body.Get("externalURL").String(); url != "" {
		parts = append(parts, " (", textfmt.A(url, textfmt.Str("Alertmanager")), ")")
	}
	parts = append(parts, textfmt.Br(), textfmt.UL(entries...))
	if hidden > 0 {
		parts = append(parts, textfmt.Em(textfmt.Str(fmt.Sprintf("and %d more", hidden))), textfmt.Br())
	}
	if labels := sortedLabels(body.Get("commonLabels")); len(labels) > 0 {
		parts = append(parts, textfmt.Table(
			[]textfmt.Text{textfmt.Str("Label"), textfmt.Str("Value")},
			labels,
		))
	}
	return &webhook.Message{
		Text:     textfmt.Fmt(parts...),
		Username: "Alertmanager",
		Icon:     webhook.IconEmoji(icon),
	}, nil
}

func main() {
	sdk.ServeV2("prometheus", func(log hclog.Logger, _ sdk.ChatClient) sdk.PluginV2 {
		return &prometheusPlugin{log: log}
	})
}
