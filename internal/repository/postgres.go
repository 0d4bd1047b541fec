package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agencydesk/identity/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository     = (*PostgresUserRepo)(nil)
	_ IdentityRepository = (*PostgresIdentityRepo)(nil)
	_ SessionRepository  = (*PostgresSessionRepo)(nil)
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PostgresUserRepo implements UserRepository on pgx.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const userColumns = `id, handle, email, password_hash, role, failed_attempts, block_expires, last_login_at, active, phone, alt_phones, npn, created_at, updated_at`

const insertUserSQL = `INSERT INTO users (id, handle, email, password_hash, role, active, phone, alt_phones, npn)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + userColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.Handle,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Active,
		user.Phone,
		user.AltPhones,
		user.NPN,
	)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, fmt.Errorf("create user: %w", domain.ErrAlreadyExists)
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

func (r *PostgresUserRepo) GetByIdentifier(ctx context.Context, identifier string) (domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE handle = $1 OR email = $1`, identifier)
}

func (r *PostgresUserRepo) GetByPhone(ctx context.Context, phone string) (domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1 OR $1 = ANY(alt_phones)`, phone)
}

func (r *PostgresUserRepo) GetAdminByPhone(ctx context.Context, phone string) (domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE (phone = $1 OR $1 = ANY(alt_phones)) AND role = $2`, phone, domain.RoleAdmin)
}

func (r *PostgresUserRepo) GetByNPN(ctx context.Context, npn string) (domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE npn = $1`, npn)
}

func (r *PostgresUserRepo) getOne(ctx context.Context, query string, args ...any) (domain.User, error) {
	row := r.db.QueryRow(ctx, query, args...)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("get user: %w", domain.ErrUserNotFound)
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// recordFailureSQL performs the open-to-blocked transition in one statement so
// concurrent failed-login bursts cannot lose increments.
const recordFailureSQL = `UPDATE users SET
	failed_attempts = CASE WHEN failed_attempts + 1 >= $2 THEN 0 ELSE failed_attempts + 1 END,
	block_expires   = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE block_expires END,
	updated_at      = now()
WHERE id = $1
RETURNING failed_attempts, block_expires`

func (r *PostgresUserRepo) RecordLoginFailure(ctx context.Context, userID int64, ceiling int, blockUntil time.Time) (int, bool, error) {
	var attempts int
	var blockExpires *time.Time
	if err := r.db.QueryRow(ctx, recordFailureSQL, userID, ceiling, blockUntil).Scan(&attempts, &blockExpires); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, fmt.Errorf("record failure: %w", domain.ErrUserNotFound)
		}
		return 0, false, fmt.Errorf("record failure: %w", err)
	}
	blocked := blockExpires != nil && blockExpires.Equal(blockUntil)
	return attempts, blocked, nil
}

func (r *PostgresUserRepo) ResetLoginFailures(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET failed_attempts = 0, updated_at = now() WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) SetLastLogin(ctx context.Context, userID int64, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET last_login_at = $2, updated_at = now() WHERE id = $1`, userID, at); err != nil {
		return fmt.Errorf("set last login: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, hash); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) Deactivate(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET active = false, updated_at = now() WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	if err := row.Scan(
		&u.ID,
		&u.Handle,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.FailedAttempts,
		&u.BlockExpires,
		&u.LastLoginAt,
		&u.Active,
		&u.Phone,
		&u.AltPhones,
		&u.NPN,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// PostgresIdentityRepo implements IdentityRepository.
type PostgresIdentityRepo struct {
	db *pgxpool.Pool
}

func NewPostgresIdentityRepo(pool *pgxpool.Pool) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: pool}
}

const identityColumns = `id, user_id, provider, uid, secret, version, expires_at, last_access_token, last_refresh_token, active, created_at, updated_at`

const insertIdentitySQL = `INSERT INTO identities (id, user_id, provider, uid, secret, version, expires_at, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + identityColumns

func (r *PostgresIdentityRepo) Create(ctx context.Context, identity domain.Identity) (domain.Identity, error) {
	row := r.db.QueryRow(ctx, insertIdentitySQL,
		identity.ID,
		identity.UserID,
		string(identity.Provider),
		identity.UID,
		identity.Secret.Encoded(),
		identity.Version,
		identity.ExpiresAt,
		identity.Active,
	)
	created, err := scanIdentity(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Identity{}, fmt.Errorf("create identity: %w", domain.ErrDuplicateIdentity)
		}
		return domain.Identity{}, fmt.Errorf("create identity: %w", err)
	}
	return created, nil
}

func (r *PostgresIdentityRepo) GetByID(ctx context.Context, identityID int64) (domain.Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, identityID)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, fmt.Errorf("get identity: %w", domain.ErrIdentityNotFound)
		}
		return domain.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

func (r *PostgresIdentityRepo) GetActive(ctx context.Context, userID int64, provider domain.Provider) (domain.Identity, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE user_id = $1 AND provider = $2 AND active = true`,
		userID, string(provider),
	)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, fmt.Errorf("get identity: %w", domain.ErrIdentityNotFound)
		}
		return domain.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

func (r *PostgresIdentityRepo) BumpVersion(ctx context.Context, identityID int64) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx,
		`UPDATE identities SET version = version + 1, updated_at = now() WHERE id = $1 RETURNING version`,
		identityID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("bump version: %w", domain.ErrIdentityNotFound)
		}
		return 0, fmt.Errorf("bump version: %w", err)
	}
	return version, nil
}

func (r *PostgresIdentityRepo) UpdateTokenRefs(ctx context.Context, identityID int64, accessToken, refreshToken string) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE identities SET last_access_token = $2, last_refresh_token = $3, updated_at = now() WHERE id = $1`,
		identityID, accessToken, refreshToken,
	); err != nil {
		return fmt.Errorf("update token refs: %w", err)
	}
	return nil
}

func (r *PostgresIdentityRepo) UpdateSecret(ctx context.Context, identityID int64, secret domain.Secret) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE identities SET secret = $2, updated_at = now() WHERE id = $1`,
		identityID, secret.Encoded(),
	); err != nil {
		return fmt.Errorf("update secret: %w", err)
	}
	return nil
}

func (r *PostgresIdentityRepo) DeactivateAllForUser(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE identities SET active = false, updated_at = now() WHERE user_id = $1`,
		userID,
	); err != nil {
		return fmt.Errorf("deactivate identities: %w", err)
	}
	return nil
}

func scanIdentity(row pgx.Row) (domain.Identity, error) {
	var (
		i        domain.Identity
		provider string
		secret   string
	)
	if err := row.Scan(
		&i.ID,
		&i.UserID,
		&provider,
		&i.UID,
		&secret,
		&i.Version,
		&i.ExpiresAt,
		&i.LastAccess,
		&i.LastRefresh,
		&i.Active,
		&i.CreatedAt,
		&i.UpdatedAt,
	); err != nil {
		return domain.Identity{}, err
	}
	i.Provider = domain.Provider(provider)
	decoded, err := domain.DecodeSecret(i.Provider, secret)
	if err != nil {
		return domain.Identity{}, err
	}
	i.Secret = decoded
	return i, nil
}

// PostgresSessionRepo implements SessionRepository.
type PostgresSessionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: pool}
}

const sessionColumns = `id, user_id, identity_id, token, revoked, expires_at, ip, browser_sig, country, active, created_at`

const insertSessionSQL = `INSERT INTO refresh_sessions (id, user_id, identity_id, token, expires_at, ip, browser_sig, country, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + sessionColumns

func (r *PostgresSessionRepo) Create(ctx context.Context, session domain.RefreshSession) (domain.RefreshSession, error) {
	row := r.db.QueryRow(ctx, insertSessionSQL,
		session.ID,
		session.UserID,
		session.IdentityID,
		session.Token,
		session.ExpiresAt,
		session.IP,
		session.BrowserSig,
		session.Country,
		session.Active,
	)
	created, err := scanSession(row)
	if err != nil {
		return domain.RefreshSession{}, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

func (r *PostgresSessionRepo) GetByToken(ctx context.Context, token string) (domain.RefreshSession, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions WHERE token = $1`, token)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RefreshSession{}, fmt.Errorf("get session: %w", domain.ErrNotFound)
		}
		return domain.RefreshSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (r *PostgresSessionRepo) Revoke(ctx context.Context, token string) error {
	if _, err := r.db.Exec(ctx, `UPDATE refresh_sessions SET revoked = true WHERE token = $1`, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) RevokeAllForUser(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE refresh_sessions SET revoked = true WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) RevokeAllForIdentity(ctx context.Context, identityID int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE refresh_sessions SET revoked = true WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("revoke identity sessions: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) DeleteDefunct(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_sessions WHERE revoked = true OR expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete defunct sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (domain.RefreshSession, error) {
	var s domain.RefreshSession
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.IdentityID,
		&s.Token,
		&s.Revoked,
		&s.ExpiresAt,
		&s.IP,
		&s.BrowserSig,
		&s.Country,
		&s.Active,
		&s.CreatedAt,
	); err != nil {
		return domain.RefreshSession{}, err
	}
	return s, nil
}
