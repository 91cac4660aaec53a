// Copyright 2024-2026 Aiku AI

// Package listener is the inbound HTTP surface of the gateway: the hook
// routes callers post to and the admin API used to manage plugins.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
	"go.mau.fi/util/requestlog"

	"github.com/geluk/matrix-webhook-gateway/pkg/matcher"
	"github.com/geluk/matrix-webhook-gateway/pkg/webhook"
)

const (
	readyText    = "Webhook gateway ready."
	okText       = "Ok"
	notFoundText = "Not Found"
	badRequest   = "Bad Request"
	tooMany      = "Too Many Requests"
	internalErr  = "Internal Server Error"

	// DefaultMaxBodySize applies when Config.MaxBodySize is zero.
	DefaultMaxBodySize = 1 << 20
)

// Matcher resolves and transforms hook calls.
type Matcher interface {
	MatchRequest(ctx context.Context, path, plugin string) (matcher.Match, error)
	ExecuteHook(ctx context.Context, match matcher.Match, body []byte, opts matcher.Options) matcher.Result
}

// Deliverer sends a transformed message to its room.
type Deliverer interface {
	Deliver(ctx context.Context, result *webhook.Result) error
}

// CallRecorder stores the body of a matched hook call.
type CallRecorder interface {
	Record(ctx context.Context, hookID int64, content string) error
}

type Config struct {
	// LogToDatabase stores every matched call through the CallRecorder.
	LogToDatabase bool
	MaxBodySize   int64
	// RateLimit is the number of calls allowed per hook path per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

type Listener struct {
	log       zerolog.Logger
	matcher   Matcher
	deliverer Deliverer
	calls     CallRecorder
	cfg       Config
	limiter   *rateLimiter
}

// New creates a listener. calls may be nil when LogToDatabase is off.
func New(m Matcher, d Deliverer, calls CallRecorder, cfg Config, log zerolog.Logger) *Listener {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	return &Listener{
		log:       log.With().Str("component", "listener").Logger(),
		matcher:   m,
		deliverer: d,
		calls:     calls,
		cfg:       cfg,
		limiter:   newRateLimiter(cfg.RateLimit, cfg.RateWindow),
	}
}

// Handler returns the hook routes wrapped in access logging.
func (l *Listener) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", l.handleReady)
	mux.HandleFunc("POST /hook/{path}", l.handleHook)
	mux.HandleFunc("POST /hook/{path}/{plugin}", l.handleHook)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, notFoundText, http.StatusNotFound)
	})
	return withLogging(mux, l.log)
}

func withLogging(h http.Handler, log zerolog.Logger) http.Handler {
	return exhttp.ApplyMiddleware(h,
		hlog.NewHandler(log),
		hlog.RequestIDHandler("request_id", ""),
		requestlog.AccessLogger(requestlog.Options{Recover: true}),
	)
}

func (l *Listener) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, readyText)
}

func (l *Listener) handleHook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, plugin := r.PathValue("path"), r.PathValue("plugin")
	log := hlog.FromRequest(r).With().Str("hook_path", path).Logger()

	match, err := l.matcher.MatchRequest(ctx, path, plugin)
	if err != nil {
		log.Err(err).Msg("Failed to match webhook")
		writeText(w, http.StatusInternalServerError, internalErr)
		return
	} else if !match.Found {
		writeText(w, http.StatusNotFound, notFoundText)
		return
	}
	log = log.With().Int64("hook_id", match.Registration.ID).Logger()

	if !l.limiter.Allow(path) {
		log.Info().Msg("Webhook rate limit exceeded")
		writeText(w, http.StatusTooManyRequests, tooMany)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, l.cfg.MaxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			log.Debug().Int64("limit", maxErr.Limit).Msg("Webhook body too large")
		} else {
			log.Debug().Err(err).Msg("Failed to read webhook body")
		}
		writeText(w, http.StatusBadRequest, badRequest)
		return
	} else if !json.Valid(body) {
		log.Debug().Msg("Webhook body is not valid JSON")
		writeText(w, http.StatusBadRequest, badRequest)
		return
	}

	if l.cfg.LogToDatabase && l.calls != nil {
		if err = l.calls.Record(ctx, match.Registration.ID, string(body)); err != nil {
			log.Err(err).Msg("Failed to record hook call")
		}
	}

	_, ignoreEmoji := r.URL.Query()["ignore_emoji"]
	// The caller is answered after delivery, but a disconnect must not abort it.
	deliverCtx := log.WithContext(context.WithoutCancel(ctx))
	l.process(deliverCtx, log, match, body, matcher.Options{EmojiSubstitution: !ignoreEmoji})
	writeText(w, http.StatusOK, okText)
}

func (l *Listener) process(ctx context.Context, log zerolog.Logger, match matcher.Match, body []byte, opts matcher.Options) {
	res := l.matcher.ExecuteHook(ctx, match, body, opts)
	if !res.OK() {
		log.Debug().Str("rejection", string(res.Rejection)).Msg("Webhook produced no message")
		return
	}
	if err := l.deliverer.Deliver(ctx, res.Webhook); err != nil {
		log.Err(err).Msg("Failed to deliver webhook message")
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

// ListenAndServe serves handler on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	return nil
}
