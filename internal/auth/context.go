package auth

import "context"

// AuthContext is the per-request view of who is calling and what they may do.
// It is built fresh for every request from store state and never cached across
// requests. The zero value is the unauthenticated context: role and capability
// checks all answer false, which gives downstream gating a single negative case.
type AuthContext struct {
	User    *User
	Session *Session

	perms ToolPermissionStore
}

// Unauthenticated returns the terminal context for requests with no usable
// credential. It is a valid state, not an error.
func Unauthenticated() *AuthContext {
	return &AuthContext{}
}

// Authenticated binds a context to a verified user and session. Capability
// checks resolve through the given permission store on demand.
func Authenticated(user *User, session *Session, perms ToolPermissionStore) *AuthContext {
	return &AuthContext{User: user, Session: session, perms: perms}
}

// IsAuthenticated reports whether a verified user is bound to this request.
func (a *AuthContext) IsAuthenticated() bool {
	return a != nil && a.User != nil
}

// HasRole reports whether the bound user's role is in the allowed set.
func (a *AuthContext) HasRole(roles ...Role) bool {
	if !a.IsAuthenticated() {
		return false
	}
	return a.User.Role.In(roles...)
}

func (a *AuthContext) resolve(ctx context.Context, slug string) (ToolPermission, error) {
	if !a.IsAuthenticated() || a.perms == nil {
		return ToolPermission{ToolSlug: slug}, nil
	}
	return a.perms.Resolve(ctx, slug, a.User.ID, a.User.Role)
}

// CanViewTool answers the view capability for the tool via the grant
// precedence chain.
func (a *AuthContext) CanViewTool(ctx context.Context, slug string) (bool, error) {
	perm, err := a.resolve(ctx, slug)
	return perm.CanView, err
}

// CanExecuteTool answers the execute capability for the tool.
func (a *AuthContext) CanExecuteTool(ctx context.Context, slug string) (bool, error) {
	perm, err := a.resolve(ctx, slug)
	return perm.CanExecute, err
}

// CanEditTool answers the edit capability for the tool.
func (a *AuthContext) CanEditTool(ctx context.Context, slug string) (bool, error) {
	perm, err := a.resolve(ctx, slug)
	return perm.CanEdit, err
}

type authContextKey struct{}
type tokenContextKey struct{}

// WithAuthContext attaches the resolved auth context to the request context.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// FromContext extracts the auth context; callers get the unauthenticated
// context when none was attached.
func FromContext(ctx context.Context) *AuthContext {
	if ctx == nil {
		return Unauthenticated()
	}
	if ac, ok := ctx.Value(authContextKey{}).(*AuthContext); ok && ac != nil {
		return ac
	}
	return Unauthenticated()
}

// WithToken stores the raw bearer token inside the context.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
