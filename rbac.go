package gedauth

import (
	"net/http"
	"strings"
)

// ==================== ROLES ====================

// Role represents an account role. Permission tables live outside this package;
// only the role carried in the access token is checked here.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleCadre      Role = "CADRE"
	RoleInspecteur Role = "INSPECTEUR"
	RoleRH         Role = "RH"
	RoleComptable  Role = "COMPTABLE"
	RoleConsultant Role = "CONSULTANT"
)

// DefaultRole is assigned to newly registered accounts.
const DefaultRole = RoleConsultant

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCadre, RoleInspecteur, RoleRH, RoleComptable, RoleConsultant:
		return true
	}
	return false
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

// ==================== AUTHORIZATION MIDDLEWARE ====================

// RequireRole creates middleware that requires the caller to hold one of roles.
// It must run after RequireAuth.
func (s *AuthService) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeSessionExpired, "unauthorized")
				return
			}

			if HasRole(Role(claims.Role), roles...) {
				next.ServeHTTP(w, r)
				return
			}

			writeError(w, http.StatusForbidden, CodeForbidden, "insufficient permissions")
		})
	}
}

// HasRole reports whether role is one of allowed.
func HasRole(role Role, allowed ...Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
