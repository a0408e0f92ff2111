package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Sessions() SessionStore
	ToolPermissions() ToolPermissionStore
	ToolExecutions() ToolExecutionStore
	Audit() AuditStore
}

// UserStore manages identity records. Lookups return (nil, nil) when no active
// user matches; absence is a normal outcome, not an error.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	ListActive(ctx context.Context) ([]*User, error)
	UpdateLastLogin(ctx context.Context, userID string) error
	UpdateRole(ctx context.Context, userID string, role Role) error
	// Deactivate marks the user inactive and deletes all of their sessions as
	// one transactional unit.
	Deactivate(ctx context.Context, userID string) error
}

// SessionStore manages server-side session rows.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	// FindByToken returns (nil, nil) unless a session exists and has not
	// expired at query time.
	FindByToken(ctx context.Context, token string) (*Session, error)
	// Delete is idempotent; deleting a missing session is a no-op success.
	Delete(ctx context.Context, token string) error
	DeleteForUser(ctx context.Context, userID string) error
	// CleanupExpired removes expired sessions and, as a repair net for a crash
	// between deactivation and its cascade, sessions owned by inactive users.
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

// ToolPermissionStore resolves and writes capability grants.
type ToolPermissionStore interface {
	// Resolve walks the precedence chain: user-scoped grant, then role-scoped
	// grant, then the role default. Exactly one tier supplies the answer.
	Resolve(ctx context.Context, slug, userID string, role Role) (ToolPermission, error)
	// Set upserts a grant keyed by (tool, scope), replacing any existing grant
	// for that exact scope.
	Set(ctx context.Context, grant PermissionGrant) error
}

// ToolExecutionStore records tool runs.
type ToolExecutionStore interface {
	Create(ctx context.Context, e *ToolExecution) error
	Finish(ctx context.Context, id string, status ExecutionStatus, output, errMsg string) error
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
