// Copyright 2024-2026 Aiku AI

package mrkdwnfmt_test

import (
	"fmt"

	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt/mrkdwnfmt"
)

func ExampleParse() {
	msg := mrkdwnfmt.Parse("*deploy* finished <https://ci.example.com/42|#42>")
	fmt.Println(msg.HTML())
	fmt.Println(msg.Plain())
	// Output:
	// <strong>deploy</strong> finished <a href="https://ci.example.com/42">#42</a>
	// *deploy* finished #42 (https://ci.example.com/42)
}
