package auth

import (
	"net/http"
	"strings"
)

// Decision is the request gate's verdict for one inbound request.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionRedirectToLogin
	DecisionUnauthorized
	DecisionForbidden
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionRedirectToLogin:
		return "redirect_to_login"
	case DecisionUnauthorized:
		return "unauthorized"
	case DecisionForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Routes reachable without authentication. Prefix match against a fixed set.
var publicPrefixes = []string{
	"/login",
	"/register",
	"/api/auth/login",
	"/api/auth/register",
	"/healthz",
	"/readyz",
	"/metrics",
}

// Routes requiring the admin or super_user role.
var adminPrefixes = []string{
	"/admin",
	"/api/admin",
}

// IsAPIPath reports whether the path belongs to the JSON API surface. API
// callers get status codes; page routes get redirects.
func IsAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

func hasPrefixIn(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Decide applies the gate policy in order: public allowlist, authentication,
// admin-role requirement, then allow. Fine-grained per-tool capability checks
// are not the gate's business; handlers ask the AuthContext directly.
func Decide(path, method string, ac *AuthContext) Decision {
	if method == http.MethodOptions {
		return DecisionAllow
	}
	if hasPrefixIn(path, publicPrefixes) {
		return DecisionAllow
	}
	if !ac.IsAuthenticated() {
		if IsAPIPath(path) {
			return DecisionUnauthorized
		}
		return DecisionRedirectToLogin
	}
	if hasPrefixIn(path, adminPrefixes) && !ac.HasRole(RoleAdmin, RoleSuperUser) {
		return DecisionForbidden
	}
	return DecisionAllow
}
