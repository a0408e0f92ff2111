package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

const (
	testDomain   = "opscloud.us"
	testEmail    = "dev@opscloud.us"
	testPassword = "hunter2hunter2"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	issuer, err := NewIssuer("test-secret", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	svc, err := NewService(NewPGStore(db), issuer, testDomain, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, mock
}

func userRow(t *testing.T, id, email, password string, role Role) *sqlmock.Rows {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "role", "created_at", "updated_at", "last_login", "is_active", "email_verified",
	}).AddRow(id, email, hash, string(role), now, now, nil, true, true)
}

func expectAudit(mock sqlmock.Sqlmock) {
	mock.ExpectExec("insert into audit_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestRegisterSuccess(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs(testEmail).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), testEmail, sqlmock.AnyArg(), "viewer",
			sqlmock.AnyArg(), sqlmock.AnyArg(), true, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAudit(mock)

	user, err := svc.Register(context.Background(), "Dev@OpsCloud.us", testPassword, RequestMeta{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != testEmail {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.Role != RoleViewer {
		t.Fatalf("new users must start as viewer, got %q", user.Role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs(testEmail).
		WillReturnRows(userRow(t, "u1", testEmail, testPassword, RoleViewer))

	if _, err := svc.Register(context.Background(), testEmail, testPassword, RequestMeta{}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name            string
		email, password string
	}{
		{"malformed email", "not-an-email", testPassword},
		{"wrong domain", "dev@elsewhere.com", testPassword},
		{"short password", testEmail, "short"},
		{"empty password", testEmail, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.email, tc.password, RequestMeta{}); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestLoginSuccess(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs(testEmail).
		WillReturnRows(userRow(t, "u1", testEmail, testPassword, RoleAdmin))
	mock.ExpectExec("update users set last_login").
		WithArgs(sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into sessions").
		WithArgs(sqlmock.AnyArg(), "u1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAudit(mock)

	token, user, err := svc.Login(context.Background(), testEmail, testPassword, RequestMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || user == nil || user.ID != "u1" {
		t.Fatalf("unexpected login result: token=%q user=%+v", token, user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoginWrongPasswordCreatesNoSession(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs(testEmail).
		WillReturnRows(userRow(t, "u1", testEmail, testPassword, RoleViewer))

	_, _, err := svc.Login(context.Background(), testEmail, "wrong-password", RequestMeta{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	// No session insert may have been attempted.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoginUnknownUserSameError(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("ghost@opscloud.us").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, _, err := svc.Login(context.Background(), "ghost@opscloud.us", testPassword, RequestMeta{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthContextTiers(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	// No credential.
	ac, err := svc.AuthContext(ctx, "")
	if err != nil || ac.IsAuthenticated() {
		t.Fatalf("empty token: expected unauthenticated, got %v / %v", ac, err)
	}

	// Garbage token short-circuits before any store access.
	ac, err = svc.AuthContext(ctx, "not-a-jwt")
	if err != nil || ac.IsAuthenticated() {
		t.Fatalf("garbage token: expected unauthenticated, got %v / %v", ac, err)
	}

	token, _, err := svc.tokens.Issue("u1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Valid token, no session row (logged out or expired).
	mock.ExpectQuery("select id, user_id, token, expires_at, created_at from sessions").
		WithArgs(token, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	ac, err = svc.AuthContext(ctx, token)
	if err != nil || ac.IsAuthenticated() {
		t.Fatalf("no session: expected unauthenticated, got %v / %v", ac, err)
	}

	// Valid token and session, user deactivated since issuance.
	mock.ExpectQuery("select id, user_id, token, expires_at, created_at from sessions").
		WithArgs(token, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at"}).
			AddRow("s1", "u1", token, time.Now().Add(time.Hour), time.Now()))
	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	ac, err = svc.AuthContext(ctx, token)
	if err != nil || ac.IsAuthenticated() {
		t.Fatalf("inactive user: expected unauthenticated, got %v / %v", ac, err)
	}

	// Fully valid.
	mock.ExpectQuery("select id, user_id, token, expires_at, created_at from sessions").
		WithArgs(token, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at"}).
			AddRow("s1", "u1", token, time.Now().Add(time.Hour), time.Now()))
	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("u1").
		WillReturnRows(userRow(t, "u1", testEmail, testPassword, RoleAdmin))
	ac, err = svc.AuthContext(ctx, token)
	if err != nil {
		t.Fatalf("AuthContext: %v", err)
	}
	if !ac.IsAuthenticated() || ac.User.ID != "u1" || ac.Session.ID != "s1" {
		t.Fatalf("expected authenticated context, got %+v", ac)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateUserRoleRequiresSuperUser(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("admin-1").
		WillReturnRows(userRow(t, "admin-1", "admin@opscloud.us", testPassword, RoleAdmin))

	err := svc.UpdateUserRole(context.Background(), "admin-1", "u2", RoleAdmin, RequestMeta{})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("admin actor must be forbidden, got %v", err)
	}
}

func TestUpdateUserRoleSuccess(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("root-1").
		WillReturnRows(userRow(t, "root-1", "root@opscloud.us", testPassword, RoleSuperUser))
	mock.ExpectExec("update users set role").
		WithArgs("admin", sqlmock.AnyArg(), "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(mock)

	if err := svc.UpdateUserRole(context.Background(), "root-1", "u2", RoleAdmin, RequestMeta{}); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeactivateUserCascades(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("root-1").
		WillReturnRows(userRow(t, "root-1", "root@opscloud.us", testPassword, RoleSuperUser))
	mock.ExpectBegin()
	mock.ExpectExec("update users set is_active=false").
		WithArgs(sqlmock.AnyArg(), "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from sessions where user_id=").
		WithArgs("u2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	expectAudit(mock)

	if err := svc.DeactivateUser(context.Background(), "root-1", "u2", RequestMeta{}); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListUsersRequiresAdmin(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("viewer-1").
		WillReturnRows(userRow(t, "viewer-1", "v@opscloud.us", testPassword, RoleViewer))

	if _, err := svc.ListUsers(context.Background(), "viewer-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer must be forbidden, got %v", err)
	}
}

func TestSetToolPermissionValidatesScope(t *testing.T) {
	svc, _ := newTestService(t)

	grant := PermissionGrant{ToolSlug: "json-analyzer", UserID: "u1", Role: RoleAdmin}
	if err := svc.SetToolPermission(context.Background(), "root-1", grant, RequestMeta{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for double scope, got %v", err)
	}

	grant = PermissionGrant{ToolSlug: "json-analyzer"}
	if err := svc.SetToolPermission(context.Background(), "root-1", grant, RequestMeta{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty scope, got %v", err)
	}
}
