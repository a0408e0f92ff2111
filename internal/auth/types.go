package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is an ordered privilege ladder: viewer < admin < super_user.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleAdmin     Role = "admin"
	RoleSuperUser Role = "super_user"
)

var roleRank = map[Role]int{
	RoleViewer:    0,
	RoleAdmin:     1,
	RoleSuperUser: 2,
}

// ParseRole validates a raw role value.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := roleRank[role]; !ok {
		return "", fmt.Errorf("%w: invalid role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// Valid reports whether the role is one of the known ladder values.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r sits at or above other on the ladder.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// In reports whether r is a member of the given set.
func (r Role) In(set ...Role) bool {
	for _, s := range set {
		if r == s {
			return true
		}
	}
	return false
}

// User is an identity record. Only active users authenticate; deactivation is a
// soft delete that also cascades to sessions.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Role          Role       `json:"role"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLogin     *time.Time `json:"last_login"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
}

// Session is a server-side row backing one issued bearer token. A session is
// valid iff now < ExpiresAt; expired rows are inert even before the sweep
// removes them.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolPermission is a capability grant for one tool, scoped to either a user id
// or a role (mutually exclusive). At most one grant exists per (tool, scope).
type ToolPermission struct {
	ToolSlug   string `json:"tool_slug"`
	CanView    bool   `json:"can_view"`
	CanExecute bool   `json:"can_execute"`
	CanEdit    bool   `json:"can_edit"`
}

// PermissionGrant is the writable form of a tool permission, carrying its scope.
type PermissionGrant struct {
	ToolSlug   string
	UserID     string // exactly one of UserID / Role is set
	Role       Role
	CanView    bool
	CanExecute bool
	CanEdit    bool
}

// DefaultToolPermissions returns the fallback capabilities for a role when no
// explicit grant matches: everyone views, admins and up execute, super users edit.
func DefaultToolPermissions(slug string, role Role) ToolPermission {
	return ToolPermission{
		ToolSlug:   slug,
		CanView:    true,
		CanExecute: role.AtLeast(RoleAdmin),
		CanEdit:    role == RoleSuperUser,
	}
}

// AuditEntry is an append-only record of a security-relevant action. Entries are
// never updated or deleted.
type AuditEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"` // empty for pre-auth events
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Details      string    `json:"details,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExecutionStatus tracks a tool run's lifecycle.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ToolExecution records one invocation of a tool endpoint.
type ToolExecution struct {
	ID           string          `json:"id"`
	ToolSlug     string          `json:"tool_slug"`
	UserID       string          `json:"user_id"`
	InputData    string          `json:"input_data,omitempty"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	OutputData   string          `json:"output_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
