// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pluginhost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/geluk/matrix-webhook-gateway/pkg/sdk"
	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

// Fake plugin sources are a single line of key=value pairs, for example
// "format=sample contracts=2 behavior=echo". The fake compiler copies them
// to the output path and the fake loader builds an instance from them.

type fakeCompiler struct {
	calls atomic.Int32
	delay time.Duration
}

func (c *fakeCompiler) Compile(_ context.Context, source, output string) error {
	c.calls.Add(1)
	time.Sleep(c.delay)
	data, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	if strings.Contains(string(data), "syntax_error") {
		return errors.New("main.go:1:1: expected 'package', found 'EOF'")
	}
	return os.WriteFile(output, data, 0o600)
}

type fakeInstance struct {
	desc     sdk.Description
	behavior string
	initErr  error

	mu        sync.Mutex
	initCalls int
	initChat  sdk.ChatClient
	killed    bool
	release   chan struct{}
}

func (f *fakeInstance) Describe() (*sdk.Description, error) {
	desc := f.desc
	return &desc, nil
}

func (f *fakeInstance) Init(chat sdk.ChatClient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	f.initChat = chat
	return f.initErr
}

func (f *fakeInstance) Transform(body []byte, emoji bool) (*webhook.Message, error) {
	switch f.behavior {
	case "decline":
		return nil, nil
	case "fault":
		return nil, errors.New("transform exploded")
	case "panic":
		panic("transform panicked")
	case "block":
		<-f.release
		return nil, nil
	}
	text := string(body)
	if emoji {
		text = textfmt.RenderEmoji(text)
	}
	return &webhook.Message{Text: textfmt.Str(f.desc.Format + ":" + text)}, nil
}

func (f *fakeInstance) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
}

func (f *fakeInstance) Killed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

func (f *fakeInstance) InitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

type fakeLoader struct {
	mu        sync.Mutex
	instances []*fakeInstance
}

func (l *fakeLoader) Load(_ context.Context, artifact Artifact) (Instance, error) {
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return nil, err
	}
	inst := &fakeInstance{behavior: "echo", release: make(chan struct{})}
	for _, field := range strings.Fields(string(data)) {
		key, value, _ := strings.Cut(field, "=")
		switch key {
		case "format":
			inst.desc.Format = value
		case "contracts":
			for _, c := range strings.Split(value, ",") {
				inst.desc.Contracts = append(inst.desc.Contracts, sdk.ContractVersion(c))
			}
		case "init":
			inst.desc.HasInit = value == "true"
		case "behavior":
			inst.behavior = value
		case "fail_init":
			inst.initErr = errors.New("init refused")
		case "crash":
			return nil, errors.New("plugin exited before handshake")
		}
	}
	inst.desc.HasTransform = true
	if len(inst.desc.Contracts) == 1 && inst.desc.Contracts[0] == sdk.ContractV2 {
		inst.desc.HasConstructor = true
		inst.desc.HasInit = true
	}
	l.mu.Lock()
	l.instances = append(l.instances, inst)
	l.mu.Unlock()
	return inst, nil
}

func (l *fakeLoader) Instances() []*fakeInstance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeInstance(nil), l.instances...)
}

type nopChat struct{}

func (nopChat) SendMessage(string, textfmt.Text) error { return nil }

type testRuntime struct {
	*Runtime
	compiler *fakeCompiler
	loader   *fakeLoader
}

func newTestRuntime(t *testing.T) *testRuntime {
	t.Helper()
	dir := t.TempDir()
	compiler := &fakeCompiler{}
	loader := &fakeLoader{}
	r := New(Config{
		Dir:          dir,
		Compiler:     compiler,
		Loader:       loader,
		Chat:         nopChat{},
		Debounce:     20 * time.Millisecond,
		ApplyTimeout: time.Second,
	}, zerolog.Nop())
	t.Cleanup(r.Close)
	return &testRuntime{Runtime: r, compiler: compiler, loader: loader}
}

func (tr *testRuntime) writePlugin(t *testing.T, name, source string) string {
	t.Helper()
	path := filepath.Join(tr.Dir(), name)
	if err := os.WriteFile(path, []byte(source), 0o600); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func plainOf(t *testing.T, msg *webhook.Message) string {
	t.Helper()
	if msg == nil {
		t.Fatal("expected a message, got nil")
	}
	return msg.Text.Plain()
}
