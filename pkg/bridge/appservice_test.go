// Copyright 2024-2026 Aiku AI

package bridge

import (
	"testing"
)

func TestNewRegistration(t *testing.T) {
	t.Parallel()
	reg := NewRegistration("webhook-gateway", "http://localhost:8023", "example.com")
	if reg.ID != "webhook-gateway" || reg.URL != "http://localhost:8023" {
		t.Errorf("ID/URL: got %q / %q", reg.ID, reg.URL)
	}
	if reg.SenderLocalpart != SenderLocalpart {
		t.Errorf("SenderLocalpart: got %q, want %q", reg.SenderLocalpart, SenderLocalpart)
	}
	if reg.AppToken == "" || reg.ServerToken == "" || reg.AppToken == reg.ServerToken {
		t.Errorf("tokens were not generated: %q / %q", reg.AppToken, reg.ServerToken)
	}
	if reg.RateLimited == nil || *reg.RateLimited {
		t.Error("registration should opt out of rate limiting")
	}
	if len(reg.Namespaces.UserIDs) != 1 {
		t.Fatalf("user namespaces: got %d, want 1", len(reg.Namespaces.UserIDs))
	}
	ns := reg.Namespaces.UserIDs[0]
	if !ns.Exclusive || ns.Regex != GhostNamespace("example.com") {
		t.Errorf("namespace: got %+v", ns)
	}
}

func TestLoadRegistration(t *testing.T) {
	t.Parallel()
	reg := LoadRegistration("id", "http://as", "example.com", "as-secret", "hs-secret")
	if reg.AppToken != "as-secret" || reg.ServerToken != "hs-secret" {
		t.Errorf("tokens: got %q / %q", reg.AppToken, reg.ServerToken)
	}
}
