// Copyright 2024-2026 Aiku AI

// Package matcher resolves an inbound hook call to its registration and runs
// the payload through either the built-in normalizer or a named plugin.
package matcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/geluk/matrix-webhook-gateway/pkg/normalizer"
	"github.com/geluk/matrix-webhook-gateway/pkg/pluginhost"
	"github.com/geluk/matrix-webhook-gateway/pkg/textfmt"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

// Registrations looks up hooks by path. A missing hook is (nil, nil).
type Registrations interface {
	GetByPath(ctx context.Context, path string) (*webhook.Registration, error)
}

// Plugins runs named plugins. Unknown identifiers return an error wrapping
// pluginhost.ErrUnknownPlugin.
type Plugins interface {
	Apply(ctx context.Context, identifier string, body []byte, emoji bool) (*webhook.Message, error)
}

// Rejection explains why a matched hook call produced no message.
type Rejection string

const (
	RejectUnrecognizedShape Rejection = "unrecognized-shape"
	RejectUnknownPlugin     Rejection = "unknown-plugin"
	RejectPluginFault       Rejection = "plugin-fault"
	RejectPluginDeclined    Rejection = "plugin-declined"
)

// Match is a hook call that resolved to a registration. Plugin is empty when
// the call should go through the built-in normalizer.
type Match struct {
	Found        bool
	Registration *webhook.Registration
	Plugin       string
}

type Options struct {
	EmojiSubstitution bool
}

// Result holds either a message ready for delivery or the reason there is
// none. Err carries the plugin error behind a RejectPluginFault.
type Result struct {
	Webhook   *webhook.Result
	Rejection Rejection
	Err       error
}

func (r Result) OK() bool {
	return r.Webhook != nil
}

type Matcher struct {
	log     zerolog.Logger
	hooks   Registrations
	plugins Plugins
}

// New creates a matcher. plugins may be nil, in which case every plugin
// suffix is rejected as unknown.
func New(hooks Registrations, plugins Plugins, log zerolog.Logger) *Matcher {
	return &Matcher{
		log:     log.With().Str("component", "matcher").Logger(),
		hooks:   hooks,
		plugins: plugins,
	}
}

// HookPath is the stored path of the hook reachable at /hook/<path>.
func HookPath(path string) string {
	return "/hook/" + path
}

// MatchRequest finds the registration for the path segment of a hook URL.
// A path with no registration is a Match with Found false, not an error.
func (m *Matcher) MatchRequest(ctx context.Context, path, plugin string) (Match, error) {
	reg, err := m.hooks.GetByPath(ctx, HookPath(path))
	if err != nil {
		return Match{}, fmt.Errorf("failed to look up hook: %w", err)
	} else if reg == nil {
		m.log.Debug().Str("path", path).Msg("Webhook not found")
		return Match{}, nil
	}
	return Match{Found: true, Registration: reg, Plugin: plugin}, nil
}

// ExecuteHook turns the request body into a message for the matched hook.
func (m *Matcher) ExecuteHook(ctx context.Context, match Match, body []byte, opts Options) Result {
	log := m.log.With().Int64("hook_id", match.Registration.ID).Logger()
	if match.Plugin == "" {
		sub := textfmt.Identity
		if opts.EmojiSubstitution {
			sub = textfmt.RenderEmoji
		}
		msg, ok := normalizer.Normalize(body, sub)
		if !ok {
			log.Debug().Bytes("body", truncateBody(body)).Msg("Received an unrecognised webhook")
			return Result{Rejection: RejectUnrecognizedShape}
		}
		return m.accept(match, msg)
	}

	log = log.With().Str("plugin", match.Plugin).Logger()
	if m.plugins == nil {
		log.Debug().Msg("Received a webhook for a plugin while plugins are disabled")
		return Result{Rejection: RejectUnknownPlugin}
	}
	log.Debug().Msg("Invoking plugin")
	msg, err := m.applyPlugin(ctx, match.Plugin, body, opts.EmojiSubstitution)
	switch {
	case errors.Is(err, pluginhost.ErrUnknownPlugin):
		log.Debug().Msg("Received an unrecognised webhook type")
		return Result{Rejection: RejectUnknownPlugin}
	case err != nil:
		log.Warn().Err(err).Msg("Plugin failed to process webhook")
		return Result{Rejection: RejectPluginFault, Err: err}
	case msg == nil:
		log.Debug().Msg("Plugin rejected the webhook")
		return Result{Rejection: RejectPluginDeclined}
	}
	return m.accept(match, msg)
}

func (m *Matcher) applyPlugin(ctx context.Context, identifier string, body []byte, emoji bool) (msg *webhook.Message, err error) {
	defer func() {
		if p := recover(); p != nil {
			msg, err = nil, fmt.Errorf("%w: panic: %v", pluginhost.ErrFault, p)
		}
	}()
	return m.plugins.Apply(ctx, identifier, body, emoji)
}

func (m *Matcher) accept(match Match, msg *webhook.Message) Result {
	return Result{Webhook: &webhook.Result{Registration: match.Registration, Message: msg}}
}

const maxLoggedBody = 512

func truncateBody(body []byte) []byte {
	if len(body) > maxLoggedBody {
		return body[:maxLoggedBody]
	}
	return body
}
