package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"opscloud.us/internal/obs"
)

// MinPasswordLength is the minimum accepted password size at registration.
const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// RequestMeta carries client attribution for audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Service orchestrates credential verification, session lifecycle, permission
// resolution and auditing. All configuration is injected at construction.
type Service struct {
	store         Store
	tokens        *Issuer
	allowedDomain string
	sessionTTL    time.Duration
	now           func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service. allowedDomain restricts which email
// addresses may register; sessionTTL is the fixed session validity window.
func NewService(store Store, tokens *Issuer, allowedDomain string, sessionTTL time.Duration, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("auth: store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("auth: token issuer is required")
	}
	allowedDomain = strings.TrimSpace(strings.ToLower(allowedDomain))
	if allowedDomain == "" {
		return nil, fmt.Errorf("auth: allowed email domain is required")
	}
	if sessionTTL <= 0 {
		return nil, fmt.Errorf("auth: session ttl must be positive")
	}
	svc := &Service{
		store:         store,
		tokens:        tokens,
		allowedDomain: allowedDomain,
		sessionTTL:    sessionTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ValidateEmail checks shape and the configured domain restriction.
func (s *Service) ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	domain := email[strings.LastIndexByte(email, '@')+1:]
	if !strings.EqualFold(domain, s.allowedDomain) {
		return fmt.Errorf("%w: only %s email addresses are allowed", ErrInvalidInput, s.allowedDomain)
	}
	return nil
}

// Register creates a new viewer-role user. Duplicate active emails fail with
// ErrAlreadyExists; the pre-check gives the friendly message, the store's
// unique index closes the race between concurrent registrations.
func (s *Service) Register(ctx context.Context, email, password string, meta RequestMeta) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if err := s.ValidateEmail(email); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}

	existing, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: user already exists", ErrAlreadyExists)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		Email:        email,
		PasswordHash: hash,
		Role:         RoleViewer,
		CreatedAt:    now,
		UpdatedAt:    now,
		IsActive:     true,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: user already exists", ErrAlreadyExists)
		}
		return nil, err
	}

	s.audit(ctx, &AuditEntry{
		UserID:       user.ID,
		Action:       "user_registered",
		ResourceType: "user",
		ResourceID:   user.ID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
	return user, nil
}

// Login verifies credentials and, on success, issues a token with a matching
// server-side session row. Unknown email and wrong password are deliberately
// indistinguishable to the caller; no session row is created on failure.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (string, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, ErrInvalidCredentials
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return "", nil, ErrInvalidCredentials
	}

	if err := s.store.Users().UpdateLastLogin(ctx, user.ID); err != nil {
		return "", nil, err
	}

	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", nil, err
	}
	session := &Session{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return "", nil, err
	}

	s.audit(ctx, &AuditEntry{
		UserID:       user.ID,
		Action:       "user_login",
		ResourceType: "user",
		ResourceID:   user.ID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
	return token, user, nil
}

// Logout destroys the session behind the token. Deleting an already-deleted
// session is a success.
func (s *Service) Logout(ctx context.Context, token, userID string, meta RequestMeta) error {
	if err := s.store.Sessions().Delete(ctx, token); err != nil {
		return err
	}
	s.audit(ctx, &AuditEntry{
		UserID:       userID,
		Action:       "user_logout",
		ResourceType: "user",
		ResourceID:   userID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
	return nil
}

// AuthContext resolves a raw bearer token into the per-request auth context.
// Every failure tier degrades to the unauthenticated context rather than an
// error: bad or expired token, missing or expired session, and missing or
// deactivated user (the session row may outlive a deactivated user until the
// sweep catches it). Only store faults surface as errors.
func (s *Service) AuthContext(ctx context.Context, token string) (*AuthContext, error) {
	if token == "" {
		return Unauthenticated(), nil
	}
	if _, err := s.tokens.Verify(token); err != nil {
		return Unauthenticated(), nil
	}
	session, err := s.store.Sessions().FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return Unauthenticated(), nil
	}
	user, err := s.store.Users().FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return Unauthenticated(), nil
	}
	return Authenticated(user, session, s.store.ToolPermissions()), nil
}

// requireSuperUser re-reads the acting user and demands the super_user role.
// The fresh read guards privileged operations against a stale context after a
// concurrent role downgrade.
func (s *Service) requireSuperUser(ctx context.Context, actorID string) (*User, error) {
	actor, err := s.store.Users().FindByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor == nil || actor.Role != RoleSuperUser {
		return nil, ErrForbidden
	}
	return actor, nil
}

// UpdateUserRole changes a user's role. Only a super_user actor may do this.
func (s *Service) UpdateUserRole(ctx context.Context, actorID, targetID string, role Role, meta RequestMeta) error {
	if !role.Valid() {
		return fmt.Errorf("%w: invalid role %q", ErrInvalidInput, role)
	}
	actor, err := s.requireSuperUser(ctx, actorID)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdateRole(ctx, targetID, role); err != nil {
		return err
	}
	s.audit(ctx, &AuditEntry{
		UserID:       actor.ID,
		Action:       "user_role_changed",
		ResourceType: "user",
		ResourceID:   targetID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Details:      fmt.Sprintf("role=%s", role),
	})
	return nil
}

// DeactivateUser soft-deletes a user and destroys their sessions in one
// transactional unit. Only a super_user actor may do this.
func (s *Service) DeactivateUser(ctx context.Context, actorID, targetID string, meta RequestMeta) error {
	actor, err := s.requireSuperUser(ctx, actorID)
	if err != nil {
		return err
	}
	if err := s.store.Users().Deactivate(ctx, targetID); err != nil {
		return err
	}
	s.audit(ctx, &AuditEntry{
		UserID:       actor.ID,
		Action:       "user_deactivated",
		ResourceType: "user",
		ResourceID:   targetID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
	return nil
}

// ListUsers returns all active users to an admin-or-above actor.
func (s *Service) ListUsers(ctx context.Context, actorID string) ([]*User, error) {
	actor, err := s.store.Users().FindByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor == nil || !actor.Role.In(RoleAdmin, RoleSuperUser) {
		return nil, ErrForbidden
	}
	return s.store.Users().ListActive(ctx)
}

// SetToolPermission upserts a capability grant. Only a super_user actor may
// do this.
func (s *Service) SetToolPermission(ctx context.Context, actorID string, grant PermissionGrant, meta RequestMeta) error {
	if strings.TrimSpace(grant.ToolSlug) == "" {
		return fmt.Errorf("%w: tool slug is required", ErrInvalidInput)
	}
	if grant.Role != "" && !grant.Role.Valid() {
		return fmt.Errorf("%w: invalid role %q", ErrInvalidInput, grant.Role)
	}
	if (grant.UserID == "") == (grant.Role == "") {
		return fmt.Errorf("%w: grant scope must be exactly one of user id or role", ErrInvalidInput)
	}
	actor, err := s.requireSuperUser(ctx, actorID)
	if err != nil {
		return err
	}
	if err := s.store.ToolPermissions().Set(ctx, grant); err != nil {
		return err
	}
	s.audit(ctx, &AuditEntry{
		UserID:       actor.ID,
		Action:       "tool_permission_set",
		ResourceType: "tool",
		ResourceID:   grant.ToolSlug,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
	return nil
}

// BeginToolExecution records the start of a tool run.
func (s *Service) BeginToolExecution(ctx context.Context, userID, slug, input string) (string, error) {
	exec := &ToolExecution{
		ToolSlug:  slug,
		UserID:    userID,
		InputData: input,
		Status:    ExecutionRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.store.ToolExecutions().Create(ctx, exec); err != nil {
		return "", err
	}
	return exec.ID, nil
}

// FinishToolExecution closes out a tool run.
func (s *Service) FinishToolExecution(ctx context.Context, id string, status ExecutionStatus, output, errMsg string) error {
	return s.store.ToolExecutions().Finish(ctx, id, status, output, errMsg)
}

// RecordToolAudit emits the audit entry for a tool invocation.
func (s *Service) RecordToolAudit(ctx context.Context, userID, slug string, meta RequestMeta) {
	s.audit(ctx, &AuditEntry{
		UserID:       userID,
		Action:       "tool_executed",
		ResourceType: "tool",
		ResourceID:   slug,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
}

// CleanupExpiredSessions removes expired sessions and repairs any left behind
// by an interrupted deactivation. Best effort; reads already filter by expiry.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.Sessions().CleanupExpired(ctx, s.now())
}

// audit appends an entry to the append-only log. Failures never block the
// primary operation; they are logged and dropped.
func (s *Service) audit(ctx context.Context, entry *AuditEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if err := s.store.Audit().Append(ctx, entry); err != nil {
		obs.LogEvent("warn", "audit append failed", map[string]any{
			"action": entry.Action,
			"error":  err.Error(),
		})
	}
}
