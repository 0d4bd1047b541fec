package identity

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

// Registry manages per-(user, provider) credential bindings. Exactly one
// active identity exists per pair; uid+provider is globally unique.
type Registry struct {
	repo   repository.IdentityRepository
	ids    *snowflake.Node
	logger *zap.Logger
}

// NewRegistry wires the registry.
func NewRegistry(repo repository.IdentityRepository, ids *snowflake.Node, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.L()
	}
	return &Registry{repo: repo, ids: ids, logger: logger}
}

// GetOrCreate returns the active, unexpired identity for the pair, creating
// one lazily on first use of a provider (version 1, far-future expiry
// sentinel meaning no policy expiry).
func (r *Registry) GetOrCreate(ctx context.Context, user domain.User, provider domain.Provider, secret domain.Secret) (domain.Identity, error) {
	if !provider.Valid() {
		return domain.Identity{}, fmt.Errorf("get or create identity: unknown provider %q", provider)
	}

	existing, err := r.repo.GetActive(ctx, user.ID, provider)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrIdentityNotFound) {
		return domain.Identity{}, fmt.Errorf("get or create identity: %w", err)
	}

	created, err := r.repo.Create(ctx, domain.Identity{
		ID:        r.ids.Generate().Int64(),
		UserID:    user.ID,
		Provider:  provider,
		UID:       uidFor(user, provider),
		Secret:    secret,
		Version:   1,
		ExpiresAt: domain.IdentityExpirySentinel,
		Active:    true,
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("get or create identity: %w", err)
	}

	r.logger.Info("identity provisioned",
		zap.Int64("user_id", user.ID),
		zap.String("provider", string(provider)),
		zap.Int64("identity_id", created.ID),
	)
	return created, nil
}

// GetByID loads an identity regardless of provider, for callers holding a
// session's identity reference.
func (r *Registry) GetByID(ctx context.Context, identityID int64) (domain.Identity, error) {
	found, err := r.repo.GetByID(ctx, identityID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return found, nil
}

// GetValid returns the active, unexpired identity, optionally requiring a
// specific version. A nil result with nil error means no valid identity.
func (r *Registry) GetValid(ctx context.Context, userID int64, provider domain.Provider, expectedVersion *int64) (*domain.Identity, error) {
	found, err := r.repo.GetActive(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get valid identity: %w", err)
	}
	if !found.Usable(nowUTC()) {
		return nil, nil
	}
	if expectedVersion != nil && found.Version != *expectedVersion {
		return nil, nil
	}
	return &found, nil
}

// BumpVersion increments the identity version, invalidating every access
// token minted against the previous one.
func (r *Registry) BumpVersion(ctx context.Context, identityID int64) (int64, error) {
	version, err := r.repo.BumpVersion(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	r.logger.Info("identity version bumped",
		zap.Int64("identity_id", identityID),
		zap.Int64("version", version),
	)
	return version, nil
}

// UpdateTokens records the last issued pair for audit; validation never reads
// these references.
func (r *Registry) UpdateTokens(ctx context.Context, identityID int64, accessToken, refreshToken string) error {
	if err := r.repo.UpdateTokenRefs(ctx, identityID, accessToken, refreshToken); err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	return nil
}

// RotateSecret replaces the credential material and bumps the version so
// outstanding tokens go stale.
func (r *Registry) RotateSecret(ctx context.Context, identityID int64, secret domain.Secret) (int64, error) {
	if err := r.repo.UpdateSecret(ctx, identityID, secret); err != nil {
		return 0, fmt.Errorf("rotate secret: %w", err)
	}
	return r.BumpVersion(ctx, identityID)
}

// DeactivateAll tombstones every identity bound to the user.
func (r *Registry) DeactivateAll(ctx context.Context, userID int64) error {
	if err := r.repo.DeactivateAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("deactivate identities: %w", err)
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func uidFor(user domain.User, provider domain.Provider) string {
	switch provider {
	case domain.ProviderUsername:
		return user.Handle
	case domain.ProviderEmail:
		return user.Email
	case domain.ProviderPhone:
		return user.Phone
	default:
		return user.Email
	}
}
