package policy

import (
	"net/http"
	"strings"
	"sync"
)

// Matcher defines criteria to apply a policy
type Matcher struct {
	Method string `json:"method,omitempty"` // "*" or specific
	Path   string `json:"path"`             // Prefix match
}

// Rules defines what the matched route demands of the caller.
type Rules struct {
	AuthRequired bool   `json:"auth_required"`
	RequireRole  string `json:"require_role,omitempty"` // e.g. "admin"; empty = any authenticated role
}

// Policy is a named set of rules
type Policy struct {
	ID      string  `json:"id"`
	Matcher Matcher `json:"matcher"`
	Rules   Rules   `json:"rules"`
}

// Engine evaluates requests against an ordered policy list. First match
// wins, so specific routes go before catch-all prefixes.
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
}

func NewEngine() *Engine {
	return &Engine{
		policies: []Policy{},
	}
}

// LoadPolicies replaces the current set
func (e *Engine) LoadPolicies(newPolicies []Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = newPolicies
}

// Evaluate finds the first matching policy, or nil.
func (e *Engine) Evaluate(r *http.Request) *Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.policies {
		p := &e.policies[i]
		if match(p.Matcher, r) {
			return p
		}
	}
	return nil
}

func match(m Matcher, r *http.Request) bool {
	if m.Method != "" && m.Method != "*" && m.Method != r.Method {
		return false
	}
	return strings.HasPrefix(r.URL.Path, m.Path)
}
