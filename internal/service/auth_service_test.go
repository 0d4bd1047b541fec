package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agencydesk/identity/internal/config"
	"github.com/agencydesk/identity/internal/credential"
	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/identity"
	"github.com/agencydesk/identity/internal/lockout"
	"github.com/agencydesk/identity/internal/otp"
	"github.com/agencydesk/identity/internal/password"
	"github.com/agencydesk/identity/internal/service"
	"github.com/agencydesk/identity/internal/session"
	"github.com/agencydesk/identity/internal/token"
)

const lockoutCeiling = 3

type testEnv struct {
	svc      *service.AuthService
	users    *memoryUserRepo
	idents   *memoryIdentityRepo
	sessions *memorySessionRepo
	codes    *memoryCodeStore
	store    *session.Store
	registry *identity.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newMemoryUserRepo()
	idents := newMemoryIdentityRepo()
	sessions := newMemorySessionRepo()
	codes := newMemoryCodeStore()

	logger := zap.NewNop()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		Environment:    "test",
		OtpTestMode:    true,
		OtpFallbackTTL: time.Minute,
	}
	channel, err := otp.New(cfg, codes, logger)
	require.NoError(t, err)

	registry := identity.NewRegistry(idents, node, logger)
	store := session.NewStore(sessions, node, time.Hour, logger)
	issuer := token.NewIssuer("test-signing-secret", "agencydesk-identity", time.Minute, 32)
	guard := lockout.NewGuard(users, lockoutCeiling, 30*time.Minute, logger)
	verifier := credential.NewVerifier(users)

	svc := service.NewAuthService(users, verifier, guard, registry, issuer, store, channel, node, logger)
	return &testEnv{
		svc:      svc,
		users:    users,
		idents:   idents,
		sessions: sessions,
		codes:    codes,
		store:    store,
		registry: registry,
	}
}

func (e *testEnv) register(t *testing.T, ctx context.Context, email, pass string) service.AuthResponse {
	t.Helper()
	resp, err := e.svc.Register(ctx, service.RegisterRequest{
		Handle:   strings.SplitN(email, "@", 2)[0],
		Email:    email,
		Password: pass,
	}, testClient())
	require.NoError(t, err)
	return resp
}

func testClient() domain.ClientContext {
	return domain.ClientContext{IP: "203.0.113.7", BrowserSig: "test-agent/1.0", Country: "US"}
}

func TestRegisterLoginVerifyFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp := env.register(t, ctx, "alice@example.com", "password123")
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, domain.RoleUser, resp.User.Role)

	intro, err := env.svc.VerifyToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, intro.UserID)
	require.Equal(t, domain.ProviderUsername, intro.Provider)
	require.Equal(t, int64(1), intro.Version)

	login, err := env.svc.Login(ctx, "alice@example.com", "password123", testClient())
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)
	require.NotEqual(t, resp.RefreshToken, login.RefreshToken)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.register(t, ctx, "alice@example.com", "password123")

	_, err := env.svc.Register(ctx, service.RegisterRequest{
		Handle:   "alice2",
		Email:    "Alice@Example.com",
		Password: "password123",
	}, testClient())
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestLoginUnknownAndWrongPasswordIndistinguishable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.register(t, ctx, "alice@example.com", "password123")

	_, errUnknown := env.svc.Login(ctx, "nobody@example.com", "password123", testClient())
	_, errWrong := env.svc.Login(ctx, "alice@example.com", "wrong-password", testClient())

	require.ErrorIs(t, errUnknown, domain.ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, domain.ErrInvalidCredentials)
}

func TestLoginLockoutCycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp := env.register(t, ctx, "alice@example.com", "password123")

	// Failures below the ceiling keep the account open.
	for i := 0; i < lockoutCeiling-1; i++ {
		_, err := env.svc.Login(ctx, "alice@example.com", "wrong-password", testClient())
		require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	}

	// The ceiling-th failure flips the account to blocked.
	_, err := env.svc.Login(ctx, "alice@example.com", "wrong-password", testClient())
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = env.svc.Login(ctx, "alice@example.com", "password123", testClient())
	require.ErrorIs(t, err, domain.ErrAccountBlocked)

	// The block lifts purely by time.
	past := time.Now().UTC().Add(-time.Minute)
	env.users.setBlockExpires(resp.User.ID, &past)

	login, err := env.svc.Login(ctx, "alice@example.com", "password123", testClient())
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)
	require.Zero(t, env.users.get(resp.User.ID).FailedAttempts)
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp := env.register(t, ctx, "alice@example.com", "password123")

	_, err := env.svc.Login(ctx, "alice@example.com", "wrong-password", testClient())
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	require.Equal(t, 1, env.users.get(resp.User.ID).FailedAttempts)

	_, err = env.svc.Login(ctx, "alice@example.com", "password123", testClient())
	require.NoError(t, err)
	require.Zero(t, env.users.get(resp.User.ID).FailedAttempts)
}

func TestRefreshRotationKeepsPriorSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp := env.register(t, ctx, "alice@example.com", "password123")

	refreshed, err := env.svc.Refresh(ctx, resp.RefreshToken, testClient())
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)
	require.NotEqual(t, resp.RefreshToken, refreshed.RefreshToken)

	// New access token verifies.
	intro, err := env.svc.VerifyToken(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, intro.UserID)

	// Rotation does not revoke the prior session.
	prior, err := env.store.FindActive(ctx, resp.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, prior.UserID)
}

func TestRefreshRejectsBrowserMismatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp := env.register(t, ctx, "alice@example.com", "password123")

	other := testClient()
	other.BrowserSig = "different-agent/2.0"
	_, err := env.svc.Refresh(ctx, resp.RefreshToken, other)
	require.ErrorIs(t, err, domain.ErrSessionMismatch)
}

func TestRefreshRejectsRevokedAndExpiredSessions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp := env.register(t, ctx, "alice@example.com", "password123")

	require.NoError(t, env.store.Revoke(ctx, resp.RefreshToken))
	_, err := env.svc.Refresh(ctx, resp.RefreshToken, testClient())
	require.ErrorIs(t, err, domain.ErrSessionRevoked)

	second, err := env.svc.Login(ctx, "alice@example.com", "password123", testClient())
	require.NoError(t, err)
	env.sessions.expire(second.RefreshToken)
	_, err = env.svc.Refresh(ctx, second.RefreshToken, testClient())
	require.ErrorIs(t, err, domain.ErrSessionExpired)

	_, err = env.svc.Refresh(ctx, "no-such-token", testClient())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVersionBumpInvalidatesOutstandingTokens(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp := env.register(t, ctx, "alice@example.com", "password123")

	intro, err := env.svc.VerifyToken(ctx, resp.AccessToken)
	require.NoError(t, err)

	sess := env.sessions.get(resp.RefreshToken)
	_, err = env.registry.BumpVersion(ctx, sess.IdentityID)
	require.NoError(t, err)

	_, err = env.svc.VerifyToken(ctx, resp.AccessToken)
	require.ErrorIs(t, err, domain.ErrInvalidTokenVer)

	// A fresh login picks up the new version.
	login, err := env.svc.Login(ctx, "alice@example.com", "password123", testClient())
	require.NoError(t, err)
	reintro, err := env.svc.VerifyToken(ctx, login.AccessToken)
	require.NoError(t, err)
	require.Equal(t, intro.Version+1, reintro.Version)
}

func TestVerifyTokenRejectsInactiveUser(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp := env.register(t, ctx, "alice@example.com", "password123")
	require.NoError(t, env.users.Deactivate(ctx, resp.User.ID))

	_, err := env.svc.VerifyToken(ctx, resp.AccessToken)
	require.ErrorIs(t, err, domain.ErrUserInactive)
}

func TestOtpLoginFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.users.add(domain.User{
		ID:           100,
		Handle:       "bob",
		Email:        "bob@example.com",
		PasswordHash: mustHash(t, "password123"),
		Role:         domain.RoleUser,
		Active:       true,
		Phone:        "+15550100",
	})

	sent, err := env.svc.SendLoginOtp(ctx, "+15550100")
	require.NoError(t, err)
	require.Equal(t, "+15550100", sent.Phone)
	require.NotEmpty(t, env.codes.get("+15550100"))

	resp, err := env.svc.VerifyOtpLogin(ctx, "+15550100", env.codes.get("+15550100"), testClient())
	require.NoError(t, err)
	require.Equal(t, int64(100), resp.User.ID)

	intro, err := env.svc.VerifyToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, int64(100), intro.UserID)
}

func TestOtpSentinelCodeInTestMode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.users.add(domain.User{
		ID:           100,
		Handle:       "bob",
		Email:        "bob@example.com",
		PasswordHash: mustHash(t, "password123"),
		Role:         domain.RoleUser,
		Active:       true,
		Phone:        "+15550100",
	})

	_, err := env.svc.SendLoginOtp(ctx, "+15550100")
	require.NoError(t, err)

	resp, err := env.svc.VerifyOtpLogin(ctx, "+15550100", "000000", testClient())
	require.NoError(t, err)
	require.Equal(t, int64(100), resp.User.ID)
}

func TestOtpRejectsWrongCodeAndUnknownPhone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.users.add(domain.User{
		ID:           100,
		Handle:       "bob",
		Email:        "bob@example.com",
		PasswordHash: mustHash(t, "password123"),
		Role:         domain.RoleUser,
		Active:       true,
		Phone:        "+15550100",
	})

	_, err := env.svc.SendLoginOtp(ctx, "+15559999")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = env.svc.SendLoginOtp(ctx, "+15550100")
	require.NoError(t, err)
	_, err = env.svc.VerifyOtpLogin(ctx, "+15550100", "wrong-code", testClient())
	require.ErrorIs(t, err, domain.ErrInvalidOtp)
}

func TestProxyLoginIssuesSessionForTarget(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.users.add(domain.User{
		ID:           1,
		Handle:       "admin",
		Email:        "admin@example.com",
		PasswordHash: mustHash(t, "admin-pass"),
		Role:         domain.RoleAdmin,
		Active:       true,
		Phone:        "+15550001",
	})
	env.users.add(domain.User{
		ID:           2,
		Handle:       "agent",
		Email:        "agent@example.com",
		PasswordHash: mustHash(t, "agent-pass"),
		Role:         domain.RoleUser,
		Active:       true,
		Phone:        "+15550002",
		NPN:          "1234567",
	})

	sent, err := env.svc.SendLoginOtpToAdminOfOtherUser(ctx, "+15550001", "1234567")
	require.NoError(t, err)
	require.Equal(t, "+15550001", sent.Phone)

	resp, err := env.svc.VerifyLoginOtpToAdminOfOtherUser(ctx, "+15550001", "000000", "1234567", testClient())
	require.NoError(t, err)
	require.Equal(t, int64(2), resp.User.ID)
	require.Equal(t, "1234567", resp.User.NPN)

	// The minted session and token are bound to the target, not the admin.
	intro, err := env.svc.VerifyToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, int64(2), intro.UserID)
	require.Equal(t, int64(2), env.sessions.get(resp.RefreshToken).UserID)
}

func TestProxyLoginRequiresAdminRole(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.users.add(domain.User{
		ID:           1,
		Handle:       "notadmin",
		Email:        "notadmin@example.com",
		PasswordHash: mustHash(t, "pass12345"),
		Role:         domain.RoleUser,
		Active:       true,
		Phone:        "+15550001",
	})
	env.users.add(domain.User{
		ID:     2,
		Handle: "agent",
		Email:  "agent@example.com",
		Role:   domain.RoleUser,
		Active: true,
		NPN:    "1234567",
	})

	_, err := env.svc.SendLoginOtpToAdminOfOtherUser(ctx, "+15550001", "1234567")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestChangePasswordRotatesAndRevokes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp := env.register(t, ctx, "alice@example.com", "password123")

	_, err := env.svc.ChangePassword(ctx, resp.User.ID, "wrong-old", "newpassword1")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = env.svc.ChangePassword(ctx, resp.User.ID, "password123", "newpassword1")
	require.NoError(t, err)

	// The version bump stales the outstanding access token and the session
	// revocation kills the refresh path.
	_, err = env.svc.VerifyToken(ctx, resp.AccessToken)
	require.ErrorIs(t, err, domain.ErrInvalidTokenVer)
	_, err = env.svc.Refresh(ctx, resp.RefreshToken, testClient())
	require.ErrorIs(t, err, domain.ErrSessionRevoked)

	_, err = env.svc.Login(ctx, "alice@example.com", "password123", testClient())
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	login, err := env.svc.Login(ctx, "alice@example.com", "newpassword1", testClient())
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := env.svc.Logout(ctx)
	second := env.svc.Logout(ctx)
	require.Equal(t, first, second)
	require.NotEmpty(t, first.Message)
}

func mustHash(t *testing.T, plain string) string {
	t.Helper()
	hash, err := password.Hash(plain)
	require.NoError(t, err)
	return hash
}
