package httpapi

import (
	"net/http"
	"strings"

	"opscloud.us/internal/auth"
	"opscloud.us/internal/obs"
)

const (
	authHeader      = "Authorization"
	bearer          = "Bearer "
	authCookieName  = "auth_token"
	loginRedirectTo = "/login"
)

// extractToken pulls the bearer credential off the request. An Authorization
// header wins over the session cookie when both are present.
func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		if token := strings.TrimSpace(header[len(bearer):]); token != "" {
			return token
		}
	}
	if c, err := r.Cookie(authCookieName); err == nil {
		return c.Value
	}
	return ""
}

// withAuth builds the per-request auth context and applies the gate policy
// before any handler runs. The resolved context and raw token travel on the
// request context for handlers that need them.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		ac, err := a.svc.AuthContext(r.Context(), token)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		decision := auth.Decide(r.URL.Path, r.Method, ac)
		obs.ObserveGateDecision(decision.String())

		switch decision {
		case auth.DecisionAllow:
		case auth.DecisionRedirectToLogin:
			http.Redirect(w, r, loginRedirectTo, http.StatusFound)
			return
		case auth.DecisionUnauthorized:
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		case auth.DecisionForbidden:
			if auth.IsAPIPath(r.URL.Path) {
				writeError(w, r, http.StatusForbidden, "forbidden")
			} else {
				http.Redirect(w, r, "/", http.StatusFound)
			}
			return
		default:
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}

		ctx := auth.WithAuthContext(r.Context(), ac)
		ctx = auth.WithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
