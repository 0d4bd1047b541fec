package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/repository"
)

// Store manages durable, revocable refresh sessions. Every validity decision
// compares timestamps and flags at read time; the background sweep only
// reclaims rows that are already dead.
type Store struct {
	repo   repository.SessionRepository
	ids    *snowflake.Node
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore wires the session store with the configured refresh TTL.
func NewStore(repo repository.SessionRepository, ids *snowflake.Node, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.L()
	}
	return &Store{repo: repo, ids: ids, ttl: ttl, logger: logger}
}

// Create persists a session for the token value, capturing the client
// fingerprint present at issuance.
func (s *Store) Create(ctx context.Context, user domain.User, identity domain.Identity, token string, client domain.ClientContext) (domain.RefreshSession, error) {
	created, err := s.repo.Create(ctx, domain.RefreshSession{
		ID:         s.ids.Generate().Int64(),
		UserID:     user.ID,
		IdentityID: identity.ID,
		Token:      token,
		ExpiresAt:  time.Now().UTC().Add(s.ttl),
		IP:         client.IP,
		BrowserSig: client.BrowserSig,
		Country:    client.Country,
		Active:     true,
	})
	if err != nil {
		return domain.RefreshSession{}, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

// FindActive resolves the token value to a live session, distinguishing
// revoked and expired states for the caller.
func (s *Store) FindActive(ctx context.Context, token string) (domain.RefreshSession, error) {
	found, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return domain.RefreshSession{}, fmt.Errorf("find session: %w", err)
	}
	switch {
	case found.Revoked || !found.Active:
		return domain.RefreshSession{}, fmt.Errorf("find session: %w", domain.ErrSessionRevoked)
	case time.Now().UTC().After(found.ExpiresAt):
		return domain.RefreshSession{}, fmt.Errorf("find session: %w", domain.ErrSessionExpired)
	}
	return found, nil
}

// Revoke invalidates one session by token value.
func (s *Store) Revoke(ctx context.Context, token string) error {
	if err := s.repo.Revoke(ctx, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser invalidates every session owned by the user.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) error {
	if err := s.repo.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

// RevokeAllForIdentity invalidates every session minted against the identity.
func (s *Store) RevokeAllForIdentity(ctx context.Context, identityID int64) error {
	if err := s.repo.RevokeAllForIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("revoke identity sessions: %w", err)
	}
	return nil
}

// Sweep runs the cleanup pass until ctx is canceled. Failures are logged and
// the next tick retries; correctness never depends on rows being gone.
func (s *Store) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.repo.DeleteDefunct(ctx, time.Now().UTC())
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Warn("session sweep failed", zap.Error(err))
				}
				continue
			}
			if removed > 0 {
				s.logger.Debug("session sweep completed", zap.Int64("removed", removed))
			}
		}
	}
}
