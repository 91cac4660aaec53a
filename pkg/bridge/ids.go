// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/util/random"
	"maunium.net/go/mautrix/id"

	"github.com/geluk/matrix-webhook-gateway/pkg/matcher"
)

// GhostPrefix starts the localpart of every hook user. The appservice
// registration claims the namespace exclusively.
const GhostPrefix = "hook_"

const (
	hookPathLength  = 24
	hookPathCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var ghostNamePattern = regexp.MustCompile(`^[a-z0-9._=/-]+$`)

// MakeGhostID creates the user ID of the hook user called name.
func MakeGhostID(name, domain string) (id.UserID, error) {
	name = strings.ToLower(name)
	if !ghostNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid webhook username %q", name)
	}
	return id.NewUserID(GhostPrefix+name, domain), nil
}

// ParseGhostID extracts the hook user name from a ghost user ID.
func ParseGhostID(userID id.UserID) (string, bool) {
	localpart, _, err := userID.Parse()
	if err != nil || !strings.HasPrefix(localpart, GhostPrefix) {
		return "", false
	}
	return localpart[len(GhostPrefix):], true
}

// GhostNamespace is the user ID regex for the appservice registration.
func GhostNamespace(domain string) string {
	return fmt.Sprintf("^@%s.*:%s$", regexp.QuoteMeta(GhostPrefix), regexp.QuoteMeta(domain))
}

// MakeHookPath returns a fresh random hook path in the stored form.
func MakeHookPath() string {
	return matcher.HookPath(random.StringCharset(hookPathLength, hookPathCharset))
}

// HookURL is the URL callers post to for the hook stored under path.
func HookURL(publicURL, path string) string {
	return strings.TrimSuffix(publicURL, "/") + path
}
