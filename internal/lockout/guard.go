package lockout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/repository"
)

// Guard enforces the failed-attempt lockout state machine: Open while
// attempts stay under the ceiling, Blocked (attempts reset, block expiry set
// forward) when the ceiling is reached, and back to Open once the expiry
// passes. The block lifts purely by time; there is no explicit unblock.
type Guard struct {
	users    repository.UserRepository
	ceiling  int
	duration time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewGuard wires the guard with the configured ceiling and block duration.
func NewGuard(users repository.UserRepository, ceiling int, duration time.Duration, logger *zap.Logger) *Guard {
	if ceiling < 1 {
		ceiling = 1
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Guard{
		users:    users,
		ceiling:  ceiling,
		duration: duration,
		logger:   logger,
		now:      time.Now,
	}
}

// CheckAllowed decides from the user snapshot whether a login attempt may
// proceed.
func (g *Guard) CheckAllowed(user domain.User) error {
	if user.Blocked(g.now()) {
		return fmt.Errorf("lockout check: %w", domain.ErrAccountBlocked)
	}
	if user.FailedAttempts >= g.ceiling {
		return fmt.Errorf("lockout check: %w", domain.ErrTooManyAttempts)
	}
	return nil
}

// RecordSuccess resets the attempt counter only; an existing block is left to
// expire on its own.
func (g *Guard) RecordSuccess(ctx context.Context, userID int64) error {
	if err := g.users.ResetLoginFailures(ctx, userID); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

// RecordFailure increments the counter atomically at the storage layer and
// applies the Blocked transition when the ceiling is reached.
func (g *Guard) RecordFailure(ctx context.Context, userID int64) error {
	blockUntil := g.now().Add(g.duration)
	attempts, blocked, err := g.users.RecordLoginFailure(ctx, userID, g.ceiling, blockUntil)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if blocked {
		g.logger.Warn("account blocked after repeated failures",
			zap.Int64("user_id", userID),
			zap.Time("block_expires", blockUntil),
		)
		return nil
	}
	g.logger.Debug("login failure recorded",
		zap.Int64("user_id", userID),
		zap.Int("attempts", attempts),
	)
	return nil
}
