package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/agencydesk/identity/internal/config"
	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/identity"
	"github.com/agencydesk/identity/internal/password"
	"github.com/agencydesk/identity/internal/repository"
)

// EnsureAdmin creates a default admin user for dev/e2e if missing.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, registry *identity.Registry, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, registry, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, registry *identity.Registry, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		if logger != nil {
			logger.Info("admin bootstrap skipped, no ADMIN_EMAIL/ADMIN_PASSWORD configured")
		}
		return nil
	}

	if _, err := users.GetByIdentifier(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	user := domain.User{
		ID:           node.Generate().Int64(),
		Handle:       "admin",
		Email:        email,
		PasswordHash: hashed,
		Role:         domain.RoleAdmin,
		Phone:        strings.TrimSpace(cfg.AdminPhone),
		Active:       true,
	}

	created, err := users.Create(ctx, user)
	if err != nil {
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if _, err := registry.GetOrCreate(ctx, created, domain.ProviderUsername, domain.PasswordSecret{Hash: hashed}); err != nil {
		return fmt.Errorf("bootstrap create identity: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.Int64("user_id", created.ID),
		)
	}
	return nil
}
