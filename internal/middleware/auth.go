package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/raakeshmj/devicegateplane/internal/auth"
)

type ContextKey string

const (
	ClaimsContextKey ContextKey = "claims"
)

type AuthMiddleware struct {
	jwtManager *auth.JWTManager
}

func NewAuth(jwtManager *auth.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager: jwtManager,
	}
}

func (m *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Route requirements from the matched policy
		authRequired := true
		requireRole := ""
		if p := GetPolicy(r.Context()); p != nil {
			authRequired = p.Rules.AuthRequired
			requireRole = p.Rules.RequireRole
		}

		// 2. Extract Bearer token
		var tokenStr string
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenStr = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if tokenStr == "" {
			if authRequired {
				writeForbidden(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		// 3. Verify the token even on public routes so handlers can see the
		// caller (decidedBy defaults to the acting admin).
		claims, err := m.jwtManager.Verify(tokenStr)
		if err != nil {
			if authRequired {
				writeForbidden(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if requireRole != "" && claims.Role != requireRole {
			writeForbidden(w, http.StatusForbidden, "forbidden")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims returns the verified token claims, or nil for anonymous callers.
func GetClaims(ctx context.Context) *auth.TokenClaims {
	if c, ok := ctx.Value(ClaimsContextKey).(*auth.TokenClaims); ok {
		return c
	}
	return nil
}

func writeForbidden(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": reason})
}
