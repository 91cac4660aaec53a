// Copyright 2024-2026 Aiku AI

// Package cachecontrol decides how long a downloaded resource may be reused
// before it has to be revalidated with its origin.
//
// Unlike a browser cache, the gateway always keeps its copy. Cache-Control
// only sets the revalidation deadline.
package cachecontrol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxAge applies when the origin sends no usable Cache-Control header.
const DefaultMaxAge = 1800 * time.Second

// MaxMaxAge caps max-age, so huge values cannot overflow the deadline.
const MaxMaxAge = 365 * 24 * time.Hour

// Parse returns the time after which a response carrying the given
// Cache-Control header must be revalidated.
//
// no-cache and no-store revalidate immediately, max-age=n after n seconds,
// clamped to [0, MaxMaxAge].
// Directives are applied left to right, so a later one overrides an earlier
// one. Unknown directives are ignored.
func Parse(header string, now time.Time) time.Time {
	revalidateAfter := now.Add(DefaultMaxAge)
	if header == "" {
		return revalidateAfter
	}
	for _, directive := range strings.Split(strings.ToLower(header), ",") {
		key, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		switch key {
		case "no-cache", "no-store":
			revalidateAfter = now
		case "max-age":
			if seconds, ok := leadingInt(value); ok {
				revalidateAfter = now.Add(maxAge(seconds))
			}
		}
	}
	return revalidateAfter
}

func maxAge(seconds int64) time.Duration {
	switch {
	case seconds <= 0:
		return 0
	case seconds >= int64(MaxMaxAge/time.Second):
		return MaxMaxAge
	}
	return time.Duration(seconds) * time.Second
}

// leadingInt parses the optionally signed decimal prefix of s. Out of range
// values saturate.
func leadingInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return n, true
}

// Details are the validators stored alongside a cached resource.
type Details struct {
	ETag            string    `json:"etag,omitempty"`
	RevalidateAfter time.Time `json:"revalidateAfter"`
}

// IsFresh reports whether the cached copy may still be used without asking
// the origin.
func (d *Details) IsFresh(now time.Time) bool {
	return d != nil && now.Before(d.RevalidateAfter)
}

// Marshal encodes d for storage. A nil Details encodes as "null".
func (d *Details) Marshal() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache details: %w", err)
	}
	return string(data), nil
}

// Unmarshal decodes stored cache details. "null" and the empty string
// decode to nil.
func Unmarshal(s string) (*Details, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var d Details
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache details: %w", err)
	}
	if d.RevalidateAfter.IsZero() {
		return nil, fmt.Errorf("cache details lack revalidateAfter")
	}
	return &d, nil
}
