package middleware

import (
	"context"
	"net/http"

	"github.com/raakeshmj/devicegateplane/internal/policy"
)

type contextKey string

const PolicyContextKey contextKey = "policy"

// PolicyEnforcer evaluates the request and attaches the matched policy to
// context. Unmatched routes fall back to requiring authentication.
func PolicyEnforcer(engine *policy.Engine) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := engine.Evaluate(r)
			if p == nil {
				p = &policy.Policy{
					ID: "default",
					Rules: policy.Rules{
						AuthRequired: true,
					},
				}
			}

			ctx := context.WithValue(r.Context(), PolicyContextKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPolicy returns the policy attached by PolicyEnforcer, or nil.
func GetPolicy(ctx context.Context) *policy.Policy {
	if p, ok := ctx.Value(PolicyContextKey).(*policy.Policy); ok {
		return p
	}
	return nil
}
