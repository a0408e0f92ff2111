package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"opscloud.us/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                     { return &userStore{db: s.db} }
func (s *PGStore) Sessions() SessionStore               { return &sessionStore{db: s.db} }
func (s *PGStore) ToolPermissions() ToolPermissionStore { return &permissionStore{db: s.db} }
func (s *PGStore) ToolExecutions() ToolExecutionStore   { return &executionStore{db: s.db} }
func (s *PGStore) Audit() AuditStore                    { return &auditStore{db: s.db} }

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, email, password_hash, role, created_at, updated_at, last_login, is_active, email_verified`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, role, created_at, updated_at, is_active, email_verified)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt, u.UpdatedAt, u.IsActive, u.EmailVerified,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		role      string
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt, &lastLogin, &u.IsActive, &u.EmailVerified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1 and is_active`, email)
	return scanUser(row)
}

func (s *userStore) FindByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1 and is_active`, id)
	return scanUser(row)
}

func (s *userStore) ListActive(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where is_active order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var (
			u         User
			role      string
			lastLogin sql.NullTime
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt, &lastLogin, &u.IsActive, &u.EmailVerified); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		if lastLogin.Valid {
			t := lastLogin.Time
			u.LastLogin = &t
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *userStore) UpdateLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login=$1, updated_at=$1 where id=$2`,
		time.Now().UTC(), userID)
	return err
}

func (s *userStore) UpdateRole(ctx context.Context, userID string, role Role) error {
	res, err := s.db.ExecContext(ctx,
		`update users set role=$1, updated_at=$2 where id=$3 and is_active`,
		string(role), time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) Deactivate(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update users set is_active=false, updated_at=$1 where id=$2`,
		time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from sessions where user_id=$1`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, user_id, token, expires_at, created_at) values($1,$2,$3,$4,$5)`,
		sess.ID, sess.UserID, sess.Token, sess.ExpiresAt, sess.CreatedAt,
	)
	return err
}

func (s *sessionStore) FindByToken(ctx context.Context, token string) (*Session, error) {
	// Expiry is enforced here at read time, not only by the sweep.
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token, expires_at, created_at from sessions where token=$1 and expires_at > $2`,
		token, time.Now().UTC())
	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where token=$1`, token)
	return err
}

func (s *sessionStore) DeleteForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where user_id=$1`, userID)
	return err
}

func (s *sessionStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions
		 where expires_at < $1
		    or user_id in (select id from users where not is_active)`,
		now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Tool permission store ----------------------------------------------------
type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Resolve(ctx context.Context, slug, userID string, role Role) (ToolPermission, error) {
	perm := ToolPermission{ToolSlug: slug}

	// Tier 1: user-scoped grant.
	row := s.db.QueryRowContext(ctx,
		`select can_view, can_execute, can_edit from tool_permissions where tool_slug=$1 and user_id=$2`,
		slug, userID)
	err := row.Scan(&perm.CanView, &perm.CanExecute, &perm.CanEdit)
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ToolPermission{}, err
	}

	// Tier 2: role-scoped grant.
	row = s.db.QueryRowContext(ctx,
		`select can_view, can_execute, can_edit from tool_permissions where tool_slug=$1 and role=$2`,
		slug, string(role))
	err = row.Scan(&perm.CanView, &perm.CanExecute, &perm.CanEdit)
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ToolPermission{}, err
	}

	// Tier 3: role default.
	return DefaultToolPermissions(slug, role), nil
}

func (s *permissionStore) Set(ctx context.Context, grant PermissionGrant) error {
	if (grant.UserID == "") == (grant.Role == "") {
		return errors.New("auth: grant scope must be exactly one of user id or role")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Replace semantics: a new grant for the same (tool, scope) supersedes the
	// old one rather than accumulating.
	if grant.UserID != "" {
		_, err = tx.ExecContext(ctx,
			`delete from tool_permissions where tool_slug=$1 and user_id=$2`,
			grant.ToolSlug, grant.UserID)
	} else {
		_, err = tx.ExecContext(ctx,
			`delete from tool_permissions where tool_slug=$1 and role=$2`,
			grant.ToolSlug, string(grant.Role))
	}
	if err != nil {
		return err
	}

	userID := sql.NullString{String: grant.UserID, Valid: grant.UserID != ""}
	role := sql.NullString{String: string(grant.Role), Valid: grant.Role != ""}
	_, err = tx.ExecContext(ctx,
		`insert into tool_permissions(id, tool_slug, user_id, role, can_view, can_execute, can_edit, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		ids.New(), grant.ToolSlug, userID, role, grant.CanView, grant.CanExecute, grant.CanEdit, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Tool execution store -----------------------------------------------------
type executionStore struct{ db *sql.DB }

func (s *executionStore) Create(ctx context.Context, e *ToolExecution) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = ExecutionRunning
	}
	_, err := s.db.ExecContext(ctx,
		`insert into tool_executions(id, tool_slug, user_id, input_data, status, started_at)
		 values($1,$2,$3,$4,$5,$6)`,
		e.ID, e.ToolSlug, e.UserID, e.InputData, string(e.Status), e.StartedAt,
	)
	return err
}

func (s *executionStore) Finish(ctx context.Context, id string, status ExecutionStatus, output, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`update tool_executions set status=$1, output_data=$2, error_message=$3, completed_at=$4 where id=$5`,
		string(status), output, errMsg, time.Now().UTC(), id,
	)
	return err
}

// Audit store --------------------------------------------------------------
type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	userID := sql.NullString{String: entry.UserID, Valid: entry.UserID != ""}
	resourceID := sql.NullString{String: entry.ResourceID, Valid: entry.ResourceID != ""}
	_, err := s.db.ExecContext(ctx,
		`insert into audit_logs(id, user_id, action, resource_type, resource_id, ip_address, user_agent, details, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, userID, entry.Action, entry.ResourceType, resourceID,
		entry.IPAddress, entry.UserAgent, entry.Details, entry.CreatedAt,
	)
	return err
}
