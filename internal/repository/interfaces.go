package repository

import (
	"context"
	"time"

	"github.com/agencydesk/identity/internal/domain"
)

// UserRepository exposes persistence for users, including the atomic
// failed-attempt bookkeeping the lockout guard relies on.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (domain.User, error)
	GetByPhone(ctx context.Context, phone string) (domain.User, error)
	GetAdminByPhone(ctx context.Context, phone string) (domain.User, error)
	GetByNPN(ctx context.Context, npn string) (domain.User, error)
	// RecordLoginFailure increments the counter in one statement; when the
	// incremented value reaches ceiling it resets the counter and moves the
	// block expiry to blockUntil instead.
	RecordLoginFailure(ctx context.Context, userID int64, ceiling int, blockUntil time.Time) (attempts int, blocked bool, err error)
	ResetLoginFailures(ctx context.Context, userID int64) error
	SetLastLogin(ctx context.Context, userID int64, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
	Deactivate(ctx context.Context, userID int64) error
}

// IdentityRepository owns the identities collection.
type IdentityRepository interface {
	Create(ctx context.Context, identity domain.Identity) (domain.Identity, error)
	GetByID(ctx context.Context, identityID int64) (domain.Identity, error)
	GetActive(ctx context.Context, userID int64, provider domain.Provider) (domain.Identity, error)
	// BumpVersion is the logout-everywhere primitive; the increment happens
	// in the database, never in orchestrator memory.
	BumpVersion(ctx context.Context, identityID int64) (int64, error)
	UpdateTokenRefs(ctx context.Context, identityID int64, accessToken, refreshToken string) error
	UpdateSecret(ctx context.Context, identityID int64, secret domain.Secret) error
	DeactivateAllForUser(ctx context.Context, userID int64) error
}

// SessionRepository owns refresh-session records.
type SessionRepository interface {
	Create(ctx context.Context, session domain.RefreshSession) (domain.RefreshSession, error)
	GetByToken(ctx context.Context, token string) (domain.RefreshSession, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID int64) error
	RevokeAllForIdentity(ctx context.Context, identityID int64) error
	// DeleteDefunct removes expired or revoked rows; callers treat failure as
	// non-fatal since validity is re-checked at read time anyway.
	DeleteDefunct(ctx context.Context, before time.Time) (int64, error)
}

// OtpCodeStore holds short-lived fallback OTP codes keyed by phone.
type OtpCodeStore interface {
	Save(ctx context.Context, phone, code string, ttl time.Duration) error
	Get(ctx context.Context, phone string) (string, error)
	Delete(ctx context.Context, phone string) error
}
