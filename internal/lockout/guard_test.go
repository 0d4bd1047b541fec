package lockout_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/lockout"
	"github.com/agencydesk/identity/internal/repository"
)

type failureRecorder struct {
	users map[int64]domain.User
}

var _ repository.UserRepository = (*failureRecorder)(nil)

func newFailureRecorder(users ...domain.User) *failureRecorder {
	m := &failureRecorder{users: make(map[int64]domain.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *failureRecorder) RecordLoginFailure(ctx context.Context, userID int64, ceiling int, blockUntil time.Time) (int, bool, error) {
	user, ok := m.users[userID]
	if !ok {
		return 0, false, fmt.Errorf("record failure: %w", domain.ErrUserNotFound)
	}
	if user.FailedAttempts+1 >= ceiling {
		user.FailedAttempts = 0
		user.BlockExpires = &blockUntil
		m.users[userID] = user
		return 0, true, nil
	}
	user.FailedAttempts++
	m.users[userID] = user
	return user.FailedAttempts, false, nil
}

func (m *failureRecorder) ResetLoginFailures(ctx context.Context, userID int64) error {
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("reset failures: %w", domain.ErrUserNotFound)
	}
	user.FailedAttempts = 0
	m.users[userID] = user
	return nil
}

func (m *failureRecorder) Create(ctx context.Context, user domain.User) (domain.User, error) {
	return domain.User{}, nil
}
func (m *failureRecorder) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	return m.users[userID], nil
}
func (m *failureRecorder) GetByIdentifier(ctx context.Context, identifier string) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}
func (m *failureRecorder) GetByPhone(ctx context.Context, phone string) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}
func (m *failureRecorder) GetAdminByPhone(ctx context.Context, phone string) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}
func (m *failureRecorder) GetByNPN(ctx context.Context, npn string) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}
func (m *failureRecorder) SetLastLogin(ctx context.Context, userID int64, at time.Time) error {
	return nil
}
func (m *failureRecorder) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	return nil
}
func (m *failureRecorder) Deactivate(ctx context.Context, userID int64) error { return nil }

func TestCheckAllowedOpenState(t *testing.T) {
	guard := lockout.NewGuard(newFailureRecorder(), 3, 30*time.Minute, zap.NewNop())

	require.NoError(t, guard.CheckAllowed(domain.User{ID: 1, FailedAttempts: 2}))
}

func TestCheckAllowedAtCeiling(t *testing.T) {
	guard := lockout.NewGuard(newFailureRecorder(), 3, 30*time.Minute, zap.NewNop())

	err := guard.CheckAllowed(domain.User{ID: 1, FailedAttempts: 3})
	require.ErrorIs(t, err, domain.ErrTooManyAttempts)
}

func TestCheckAllowedDuringBlock(t *testing.T) {
	guard := lockout.NewGuard(newFailureRecorder(), 3, 30*time.Minute, zap.NewNop())

	future := time.Now().Add(10 * time.Minute)
	err := guard.CheckAllowed(domain.User{ID: 1, BlockExpires: &future})
	require.ErrorIs(t, err, domain.ErrAccountBlocked)
}

func TestCheckAllowedAfterBlockExpiry(t *testing.T) {
	guard := lockout.NewGuard(newFailureRecorder(), 3, 30*time.Minute, zap.NewNop())

	past := time.Now().Add(-time.Minute)
	require.NoError(t, guard.CheckAllowed(domain.User{ID: 1, BlockExpires: &past}))
}

func TestRecordFailureBlocksAtCeiling(t *testing.T) {
	ctx := context.Background()
	repo := newFailureRecorder(domain.User{ID: 1, Active: true})
	guard := lockout.NewGuard(repo, 3, 30*time.Minute, zap.NewNop())

	require.NoError(t, guard.RecordFailure(ctx, 1))
	require.NoError(t, guard.RecordFailure(ctx, 1))
	require.Equal(t, 2, repo.users[1].FailedAttempts)
	require.Nil(t, repo.users[1].BlockExpires)

	// Third failure reaches the ceiling: counter resets, block expiry is set.
	require.NoError(t, guard.RecordFailure(ctx, 1))
	require.Zero(t, repo.users[1].FailedAttempts)
	require.NotNil(t, repo.users[1].BlockExpires)
	require.True(t, repo.users[1].Blocked(time.Now()))
}

func TestRecordSuccessResetsCounterOnly(t *testing.T) {
	ctx := context.Background()
	future := time.Now().Add(10 * time.Minute)
	repo := newFailureRecorder(domain.User{ID: 1, FailedAttempts: 2, BlockExpires: &future})
	guard := lockout.NewGuard(repo, 3, 30*time.Minute, zap.NewNop())

	require.NoError(t, guard.RecordSuccess(ctx, 1))
	require.Zero(t, repo.users[1].FailedAttempts)
	// An existing block is left to expire on its own.
	require.NotNil(t, repo.users[1].BlockExpires)
}
