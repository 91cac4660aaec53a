// Copyright 2024-2026 Aiku AI

package listener

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/geluk/matrix-webhook-gateway/pkg/matcher"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

type mockRegistrations struct {
	mu    sync.Mutex
	hooks map[string]*webhook.Registration
	err   error
}

func (m *mockRegistrations) GetByPath(_ context.Context, path string) (*webhook.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.hooks[path], nil
}

type mockDeliverer struct {
	mu      sync.Mutex
	results []*webhook.Result
	err     error
}

func (m *mockDeliverer) Deliver(_ context.Context, result *webhook.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return m.err
}

func (m *mockDeliverer) Delivered() []*webhook.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*webhook.Result(nil), m.results...)
}

type recordedCall struct {
	HookID  int64
	Content string
}

type mockCalls struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (m *mockCalls) Record(_ context.Context, hookID int64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedCall{hookID, content})
	return nil
}

var testHook = &webhook.Registration{
	ID:     7,
	Path:   "/hook/abc123",
	RoomID: id.RoomID("!room:example.com"),
	UserID: id.UserID("@hook_ci:example.com"),
}

type testListener struct {
	server    *httptest.Server
	regs      *mockRegistrations
	deliverer *mockDeliverer
	calls     *mockCalls
}

func newTestListener(t *testing.T, cfg Config) *testListener {
	t.Helper()
	regs := &mockRegistrations{hooks: map[string]*webhook.Registration{testHook.Path: testHook}}
	tl := &testListener{regs: regs, deliverer: &mockDeliverer{}, calls: &mockCalls{}}
	l := New(matcher.New(regs, nil, zerolog.Nop()), tl.deliverer, tl.calls, cfg, zerolog.Nop())
	tl.server = httptest.NewServer(l.Handler())
	t.Cleanup(tl.server.Close)
	return tl
}

func (tl *testListener) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, tl.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestListenerRoutes(t *testing.T) {
	t.Parallel()
	tl := newTestListener(t, Config{})

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"ready", http.MethodGet, "/", "", http.StatusOK, readyText},
		{"slack payload", http.MethodPost, "/hook/abc123", `{"text": "Build passed"}`, http.StatusOK, okText},
		{"unknown hook", http.MethodPost, "/hook/nope", `{"text": "x"}`, http.StatusNotFound, notFoundText},
		{"bad json", http.MethodPost, "/hook/abc123", `{"text":`, http.StatusBadRequest, badRequest},
		{"unrecognized shape still ok", http.MethodPost, "/hook/abc123", `{"foo": "bar"}`, http.StatusOK, okText},
		{"unknown plugin still ok", http.MethodPost, "/hook/abc123/gitea", `{"foo": "bar"}`, http.StatusOK, okText},
		{"get on hook", http.MethodGet, "/hook/abc123", "", http.StatusNotFound, notFoundText},
		{"other path", http.MethodGet, "/metrics", "", http.StatusNotFound, notFoundText + "\n"},
	}
	for _, tt := range tests {
		status, body := tl.do(t, tt.method, tt.path, tt.body)
		if status != tt.wantStatus {
			t.Errorf("%s: status got %d, want %d", tt.name, status, tt.wantStatus)
		}
		if strings.TrimSpace(body) != strings.TrimSpace(tt.wantBody) {
			t.Errorf("%s: body got %q, want %q", tt.name, body, tt.wantBody)
		}
	}

	delivered := tl.deliverer.Delivered()
	if len(delivered) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(delivered))
	}
	if delivered[0].Registration != testHook {
		t.Errorf("Registration: got %+v", delivered[0].Registration)
	}
	if got := delivered[0].Message.Render().Plain(); got != "Build passed" {
		t.Errorf("Plain: got %q, want %q", got, "Build passed")
	}
}

func TestListenerIgnoreEmoji(t *testing.T) {
	t.Parallel()
	tl := newTestListener(t, Config{})

	tl.do(t, http.MethodPost, "/hook/abc123", `{"content": "deploy :fire:"}`)
	tl.do(t, http.MethodPost, "/hook/abc123?ignore_emoji", `{"content": "deploy :fire:"}`)

	delivered := tl.deliverer.Delivered()
	if len(delivered) != 2 {
		t.Fatalf("deliveries: got %d, want 2", len(delivered))
	}
	if got := delivered[0].Message.Render().Plain(); got != "deploy 🔥" {
		t.Errorf("with emoji: got %q", got)
	}
	if got := delivered[1].Message.Render().Plain(); got != "deploy :fire:" {
		t.Errorf("ignore_emoji: got %q", got)
	}
}

func TestListenerDeliveryFailureStillOK(t *testing.T) {
	t.Parallel()
	tl := newTestListener(t, Config{})
	tl.deliverer.err = errors.New("M_FORBIDDEN")
	if status, _ := tl.do(t, http.MethodPost, "/hook/abc123", `{"text": "x"}`); status != http.StatusOK {
		t.Errorf("status: got %d, want 200", status)
	}
}

func TestListenerLookupError(t *testing.T) {
	t.Parallel()
	tl := newTestListener(t, Config{})
	tl.regs.mu.Lock()
	tl.regs.err = errors.New("database is locked")
	tl.regs.mu.Unlock()
	status, body := tl.do(t, http.MethodPost, "/hook/abc123", `{"text": "x"}`)
	if status != http.StatusInternalServerError || body != internalErr {
		t.Errorf("got %d %q, want 500 %q", status, body, internalErr)
	}
	if got := tl.deliverer.Delivered(); len(got) != 0 {
		t.Errorf("delivered %d messages after a lookup failure", len(got))
	}
}

func TestListenerLogToDatabase(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		enabled bool
		want    int
	}{
		{"enabled", true, 1},
		{"disabled", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tl := newTestListener(t, Config{LogToDatabase: tt.enabled})
			tl.do(t, http.MethodPost, "/hook/abc123", `{"text": "logged"}`)
			tl.do(t, http.MethodPost, "/hook/nope", `{"text": "not logged"}`)
			tl.do(t, http.MethodPost, "/hook/abc123", `{"text":`)

			tl.calls.mu.Lock()
			defer tl.calls.mu.Unlock()
			if len(tl.calls.calls) != tt.want {
				t.Fatalf("recorded calls: got %d, want %d", len(tl.calls.calls), tt.want)
			}
			if tt.want > 0 {
				if c := tl.calls.calls[0]; c.HookID != testHook.ID || c.Content != `{"text": "logged"}` {
					t.Errorf("recorded call: got %+v", c)
				}
			}
		})
	}
}

func TestListenerMaxBodySize(t *testing.T) {
	t.Parallel()
	tl := newTestListener(t, Config{MaxBodySize: 32})
	body := `{"text": "` + strings.Repeat("a", 64) + `"}`
	if status, _ := tl.do(t, http.MethodPost, "/hook/abc123", body); status != http.StatusBadRequest {
		t.Errorf("oversized body: got %d, want 400", status)
	}
	if status, _ := tl.do(t, http.MethodPost, "/hook/abc123", `{"text": "ok"}`); status != http.StatusOK {
		t.Errorf("small body: got %d, want 200", status)
	}
}

func TestListenerRateLimit(t *testing.T) {
	t.Parallel()
	tl := newTestListener(t, Config{RateLimit: 2, RateWindow: time.Hour})
	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		if status, _ := tl.do(t, http.MethodPost, "/hook/abc123", `{"text": "x"}`); status != want {
			t.Errorf("call %d: got %d, want %d", i, status, want)
		}
	}
	// Unknown paths are answered before the limiter runs.
	if status, _ := tl.do(t, http.MethodPost, "/hook/other", `{"text": "x"}`); status != http.StatusNotFound {
		t.Errorf("unknown path: got %d, want 404", status)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("expected exactly one call in the first window")
	}
	if !rl.Allow("b") {
		t.Error("keys must be limited separately")
	}
	now = now.Add(time.Minute + time.Second)
	if !rl.Allow("a") {
		t.Error("expected a new window after expiry")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	t.Parallel()
	rl := newRateLimiter(0, 0)
	for range 100 {
		if !rl.Allow("a") {
			t.Fatal("a zero limit must allow everything")
		}
	}
}

func TestRateLimiterPrunesExpired(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }
	for i := range pruneThreshold {
		rl.Allow(strings.Repeat("k", i+1))
	}
	now = now.Add(2 * time.Minute)
	rl.Allow("fresh")
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.buckets) != 1 {
		t.Errorf("buckets after prune: got %d, want 1", len(rl.buckets))
	}
}
