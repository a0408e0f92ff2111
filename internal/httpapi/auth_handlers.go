package httpapi

import (
	"net/http"
	"time"

	"opscloud.us/internal/auth"
	"opscloud.us/internal/obs"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	User *auth.User `json:"user"`
}

func (a *API) sessionCookie(token string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Register(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{User: user})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, user, err := a.svc.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		obs.ObserveLogin("failure")
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveLogin("success")

	http.SetCookie(w, a.sessionCookie(token, a.opts.CookieTTL))
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ac := auth.FromContext(r.Context())
	userID := ""
	if ac.IsAuthenticated() {
		userID = ac.User.ID
	}
	if token, ok := auth.TokenFromContext(r.Context()); ok {
		if err := a.svc.Logout(r.Context(), token, userID, requestMeta(r)); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
	}

	// Expire the cookie regardless of whether a session existed.
	http.SetCookie(w, a.sessionCookie("", -time.Second))
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ac := auth.FromContext(r.Context())
	if !ac.IsAuthenticated() {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: ac.User})
}
