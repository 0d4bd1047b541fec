package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/agencydesk/identity/internal/adapter/cache"
	"github.com/agencydesk/identity/internal/bootstrap"
	"github.com/agencydesk/identity/internal/config"
	"github.com/agencydesk/identity/internal/credential"
	httptransport "github.com/agencydesk/identity/internal/http"
	"github.com/agencydesk/identity/internal/http/handler"
	httpmiddleware "github.com/agencydesk/identity/internal/http/middleware"
	"github.com/agencydesk/identity/internal/identity"
	"github.com/agencydesk/identity/internal/lockout"
	apimiddleware "github.com/agencydesk/identity/internal/middleware"
	"github.com/agencydesk/identity/internal/otp"
	"github.com/agencydesk/identity/internal/repository"
	"github.com/agencydesk/identity/internal/server"
	"github.com/agencydesk/identity/internal/service"
	"github.com/agencydesk/identity/internal/session"
	"github.com/agencydesk/identity/internal/telemetry"
	"github.com/agencydesk/identity/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newIdentityRepository,
			newSessionRepository,
			newRedisClient,
			newOtpCodeStore,
			newOtpChannel,
			newLockoutGuard,
			newIdentityRegistry,
			newTokenIssuer,
			newSessionStore,
			credential.NewVerifier,
			service.NewAuthService,
			handler.NewAuthHandler,
			newAuthMiddleware,
			newRateLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, startSessionSweeper, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newIdentityRepository(pool *pgxpool.Pool) repository.IdentityRepository {
	return repository.NewPostgresIdentityRepo(pool)
}

func newSessionRepository(pool *pgxpool.Pool) repository.SessionRepository {
	return repository.NewPostgresSessionRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newOtpCodeStore(client redis.UniversalClient) repository.OtpCodeStore {
	return cacheadapter.NewRedisOtpStore(client)
}

func newOtpChannel(cfg config.Config, codes repository.OtpCodeStore, logger *zap.Logger) (otp.Channel, error) {
	return otp.New(cfg, codes, logger)
}

func newLockoutGuard(cfg config.Config, users repository.UserRepository, logger *zap.Logger) *lockout.Guard {
	return lockout.NewGuard(users, cfg.LockoutCeiling, cfg.LockoutDuration, logger)
}

func newIdentityRegistry(repo repository.IdentityRepository, node *snowflake.Node, logger *zap.Logger) *identity.Registry {
	return identity.NewRegistry(repo, node, logger)
}

func newTokenIssuer(cfg config.Config) *token.Issuer {
	return token.NewIssuer(cfg.TokenSecret, cfg.TokenIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenBytes)
}

func newSessionStore(repo repository.SessionRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *session.Store {
	return session.NewStore(repo, node, cfg.RefreshTokenTTL, logger)
}

func newAuthMiddleware(authService *service.AuthService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{AuthService: authService}
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func startSessionSweeper(lc fx.Lifecycle, store *session.Store, cfg config.Config) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				store.Sweep(runCtx, cfg.SessionSweepInterval)
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
