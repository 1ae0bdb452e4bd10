package gedauth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ged-ministere/gedauth/crypto"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsContextKey is the context key for verified access token claims.
	ClaimsContextKey contextKey = "gedauth_claims"
	// TokenContextKey is the context key for the raw access token.
	TokenContextKey contextKey = "gedauth_token"
)

// Bearer tokens outside these bounds are rejected without parsing.
const (
	minBearerLength = 10
	maxBearerLength = 4096
)

// GetClaimsFromContext retrieves the access token claims from the request context.
func GetClaimsFromContext(ctx context.Context) (*crypto.AccessClaims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*crypto.AccessClaims)
	return claims, ok
}

// GetAccountIDFromContext returns the authenticated account id.
func GetAccountIDFromContext(ctx context.Context) (string, bool) {
	claims, ok := GetClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return claims.Subject, true
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(TokenContextKey).(string)
	return token
}

// requireAuth is middleware that requires a valid, unrevoked access token.
// A revocation store outage answers 503 rather than letting the request through.
func (s *AuthService) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, CodeSessionExpired, ErrMissingToken.Error())
			return
		}

		ctx := withClientMeta(r)
		claims, err := s.AuthenticateAccess(ctx, tokenStr)
		if err != nil {
			if errors.Is(err, ErrRevocationStoreUnavailable) {
				s.logger.Error("revocation store unavailable", zap.Error(err))
			}
			s.writeServiceError(w, err)
			return
		}

		ctx = context.WithValue(ctx, ClaimsContextKey, claims)
		ctx = context.WithValue(ctx, TokenContextKey, tokenStr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth returns middleware that validates access tokens.
// Use this to protect your own routes.
func (s *AuthService) RequireAuth() func(http.Handler) http.Handler {
	return s.requireAuth
}

// OptionalAuth attaches claims when a valid token is present. Any failure,
// including a store outage, lets the request continue anonymously.
func (s *AuthService) OptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerTokenFromHeader(r.Header.Get("Authorization"))
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := withClientMeta(r)
			claims, err := s.AuthenticateAccess(ctx, tokenStr)
			if err != nil {
				if errors.Is(err, ErrRevocationStoreUnavailable) {
					s.logger.Warn("optional auth skipped, revocation store unavailable", zap.Error(err))
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx = context.WithValue(ctx, ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, TokenContextKey, tokenStr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerTokenFromHeader(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	token := strings.TrimSpace(parts[1])
	if len(token) < minBearerLength || len(token) > maxBearerLength {
		return ""
	}
	return token
}

// withClientMeta copies client information into the request context for auditing.
func withClientMeta(r *http.Request) context.Context {
	return WithRequestMeta(r.Context(), RequestMeta{
		IP:        parseIPFromAddr(r.RemoteAddr),
		UserAgent: r.UserAgent(),
	})
}

// GetClientIP extracts the client IP from the request. Put chi's RealIP
// middleware in front when running behind a trusted proxy.
func GetClientIP(r *http.Request) string {
	return parseIPFromAddr(r.RemoteAddr)
}

func parseIPFromAddr(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		return host
	}
	if strings.HasPrefix(addr, "[") && strings.Contains(addr, "]") {
		return strings.TrimPrefix(strings.SplitN(addr, "]", 2)[0], "[")
	}
	return addr
}
