package policy

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEvaluate_FirstMatchWins(t *testing.T) {
	eng := NewEngine()
	eng.LoadPolicies([]Policy{
		{
			ID:      "pending-policy",
			Matcher: Matcher{Method: http.MethodGet, Path: "/device/pending"},
			Rules:   Rules{AuthRequired: true, RequireRole: "admin"},
		},
		{
			ID:      "public-policy",
			Matcher: Matcher{Path: "/"},
			Rules:   Rules{AuthRequired: false},
		},
	})

	p := eng.Evaluate(httptest.NewRequest(http.MethodGet, "/device/pending", nil))
	if p == nil || p.ID != "pending-policy" {
		t.Fatalf("expected pending-policy, got %+v", p)
	}
	if !p.Rules.AuthRequired || p.Rules.RequireRole != "admin" {
		t.Errorf("unexpected rules: %+v", p.Rules)
	}

	// Method mismatch falls through to the catch-all.
	p = eng.Evaluate(httptest.NewRequest(http.MethodPost, "/device/pending", nil))
	if p == nil || p.ID != "public-policy" {
		t.Errorf("expected public-policy for POST, got %+v", p)
	}

	p = eng.Evaluate(httptest.NewRequest(http.MethodPost, "/device/register", nil))
	if p == nil || p.ID != "public-policy" {
		t.Errorf("expected public-policy, got %+v", p)
	}
}

func TestEvaluate_NoMatch(t *testing.T) {
	eng := NewEngine()
	eng.LoadPolicies([]Policy{
		{ID: "only", Matcher: Matcher{Path: "/device"}, Rules: Rules{AuthRequired: true}},
	})

	if p := eng.Evaluate(httptest.NewRequest(http.MethodGet, "/auth/login", nil)); p != nil {
		t.Errorf("expected nil for unmatched route, got %+v", p)
	}
}
