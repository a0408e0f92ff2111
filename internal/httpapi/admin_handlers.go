package httpapi

import (
	"net/http"
	"strings"

	"opscloud.us/internal/auth"
)

type updateRoleRequest struct {
	Role string `json:"role"`
}

type setPermissionsRequest struct {
	UserID     string `json:"user_id,omitempty"`
	Role       string `json:"role,omitempty"`
	CanView    bool   `json:"can_view"`
	CanExecute bool   `json:"can_execute"`
	CanEdit    bool   `json:"can_edit"`
}

// actor returns the authenticated caller; the gate guarantees one exists on
// admin routes, this is the belt to its suspenders.
func actor(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	ac := auth.FromContext(r.Context())
	if !ac.IsAuthenticated() {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return ac.User, true
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	users, err := a.svc.ListUsers(r.Context(), caller.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleUserScoped dispatches /api/admin/users/{id}/{action}.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "role":
		a.handleUpdateRole(w, r, userID)
	case "deactivate":
		a.handleDeactivate(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.svc.UpdateUserRole(r.Context(), caller.ID, userID, role, requestMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

func (a *API) handleDeactivate(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeactivateUser(r.Context(), caller.ID, userID, requestMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

// handleToolAdmin dispatches /api/admin/tools/{slug}/permissions.
func (a *API) handleToolAdmin(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/tools/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.handleSetPermissions(w, r, parts[0])
}

func (a *API) handleSetPermissions(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req setPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant := auth.PermissionGrant{
		ToolSlug:   slug,
		UserID:     strings.TrimSpace(req.UserID),
		Role:       auth.Role(strings.TrimSpace(req.Role)),
		CanView:    req.CanView,
		CanExecute: req.CanExecute,
		CanEdit:    req.CanEdit,
	}
	if err := a.svc.SetToolPermission(r.Context(), caller.ID, grant, requestMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}
