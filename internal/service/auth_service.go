package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agencydesk/identity/internal/credential"
	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/identity"
	"github.com/agencydesk/identity/internal/lockout"
	"github.com/agencydesk/identity/internal/otp"
	"github.com/agencydesk/identity/internal/password"
	"github.com/agencydesk/identity/internal/repository"
	"github.com/agencydesk/identity/internal/session"
	"github.com/agencydesk/identity/internal/token"
)

// AuthService composes the verifier, lockout guard, identity registry, token
// issuer, session store, and OTP channel into the public auth operations. It
// never touches the identity or session collections directly.
type AuthService struct {
	users     repository.UserRepository
	verifier  *credential.Verifier
	guard     *lockout.Guard
	registry  *identity.Registry
	issuer    *token.Issuer
	sessions  *session.Store
	otp       otp.Channel
	snowflake *snowflake.Node
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(
	users repository.UserRepository,
	verifier *credential.Verifier,
	guard *lockout.Guard,
	registry *identity.Registry,
	issuer *token.Issuer,
	sessions *session.Store,
	channel otp.Channel,
	node *snowflake.Node,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		verifier:  verifier,
		guard:     guard,
		registry:  registry,
		issuer:    issuer,
		sessions:  sessions,
		otp:       channel,
		snowflake: node,
		logger:    logger,
		tracer:    otel.Tracer("github.com/agencydesk/identity/internal/service"),
	}
}

// Register creates a user with a username identity and issues the first
// token pair.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, client domain.ClientContext) (AuthResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	handle := strings.ToLower(strings.TrimSpace(req.Handle))

	if _, err := s.users.GetByIdentifier(ctx, email); err == nil {
		return AuthResponse{}, fmt.Errorf("register: %w", domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("register check existing: %w", err)
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("register hash password: %w", err)
	}

	user, err := s.users.Create(ctx, domain.User{
		ID:           s.snowflake.Generate().Int64(),
		Handle:       handle,
		Email:        email,
		PasswordHash: hashed,
		Role:         domain.RoleUser,
		Active:       true,
		Phone:        strings.TrimSpace(req.Phone),
		NPN:          strings.TrimSpace(req.NPN),
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrAlreadyExists) {
			return AuthResponse{}, fmt.Errorf("register: %w", domain.ErrAlreadyExists)
		}
		return AuthResponse{}, fmt.Errorf("register create user: %w", err)
	}

	ident, err := s.registry.GetOrCreate(ctx, user, domain.ProviderUsername, domain.PasswordSecret{Hash: hashed})
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("register identity: %w", err)
	}

	resp, err := s.issueAndPersist(ctx, user, ident, client)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, err
	}
	s.audit("register.success", "user_id", user.ID)
	return resp, nil
}

// Login authenticates with handle/email and password. Lockout bookkeeping
// runs on both outcomes and never masks the credential error.
func (s *AuthService) Login(ctx context.Context, identifier, plain string, client domain.ClientContext) (AuthResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	cleaned := strings.ToLower(strings.TrimSpace(identifier))
	known, lookupErr := s.users.GetByIdentifier(ctx, cleaned)
	if lookupErr == nil {
		if !known.Active {
			return AuthResponse{}, fmt.Errorf("login: %w", domain.ErrUserInactive)
		}
		if err := s.guard.CheckAllowed(known); err != nil {
			s.audit("login.blocked", "user_id", known.ID)
			return AuthResponse{}, err
		}
	}

	user, err := s.verifier.Verify(ctx, cleaned, plain)
	if err != nil {
		span.RecordError(err)
		if lookupErr == nil && errors.Is(err, domain.ErrInvalidCredentials) {
			if recErr := s.guard.RecordFailure(ctx, known.ID); recErr != nil {
				s.logger.Error("failed to record login failure", zap.Int64("user_id", known.ID), zap.Error(recErr))
			}
			s.audit("login.failure", "user_id", known.ID)
		}
		return AuthResponse{}, err
	}

	if err := s.guard.RecordSuccess(ctx, user.ID); err != nil {
		s.logger.Warn("failed to reset login failures", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	ident, err := s.registry.GetOrCreate(ctx, user, domain.ProviderUsername, domain.PasswordSecret{Hash: user.PasswordHash})
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("login identity: %w", err)
	}

	resp, err := s.issueAndPersist(ctx, user, ident, client)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, err
	}
	s.audit("login.success", "user_id", user.ID)
	return resp, nil
}

// SendLoginOtp delivers a login code to a registered phone, provisioning the
// username identity lazily when missing.
func (s *AuthService) SendLoginOtp(ctx context.Context, phone string) (OtpResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.SendLoginOtp")
	defer span.End()

	user, err := s.users.GetByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrUserNotFound) {
			return OtpResponse{}, fmt.Errorf("send otp: %w", domain.ErrUserNotFound)
		}
		return OtpResponse{}, fmt.Errorf("send otp: %w", err)
	}

	if _, err := s.registry.GetOrCreate(ctx, user, domain.ProviderUsername, domain.PasswordSecret{Hash: user.PasswordHash}); err != nil {
		span.RecordError(err)
		return OtpResponse{}, fmt.Errorf("send otp identity: %w", err)
	}

	message, err := s.otp.Send(ctx, user.Phone)
	if err != nil {
		span.RecordError(err)
		return OtpResponse{}, fmt.Errorf("send otp: %w", err)
	}

	s.audit("otp.sent", "user_id", user.ID)
	return OtpResponse{Message: message, Phone: user.Phone}, nil
}

// VerifyOtpLogin checks the code and issues tokens for the phone's owner.
func (s *AuthService) VerifyOtpLogin(ctx context.Context, phone, code string, client domain.ClientContext) (AuthResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyOtpLogin")
	defer span.End()

	ok, err := s.otp.Check(ctx, strings.TrimSpace(phone), strings.TrimSpace(code))
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("verify otp: %w", err)
	}
	if !ok {
		return AuthResponse{}, fmt.Errorf("verify otp: %w", domain.ErrInvalidOtp)
	}

	user, err := s.users.GetByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrUserNotFound) {
			return AuthResponse{}, fmt.Errorf("verify otp: %w", domain.ErrUserNotFound)
		}
		return AuthResponse{}, fmt.Errorf("verify otp: %w", err)
	}
	if !user.Active {
		return AuthResponse{}, fmt.Errorf("verify otp: %w", domain.ErrUserInactive)
	}

	ident, err := s.registry.GetValid(ctx, user.ID, domain.ProviderUsername, nil)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("verify otp identity: %w", err)
	}
	if ident == nil {
		return AuthResponse{}, fmt.Errorf("verify otp: %w", domain.ErrIdentityNotFound)
	}

	resp, err := s.issueAndPersist(ctx, user, *ident, client)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, err
	}
	s.audit("otp.login.success", "user_id", user.ID)
	return resp, nil
}

// SendLoginOtpToAdminOfOtherUser starts the delegated-access flow: the admin
// is resolved by phone and role, the target independently by NPN, and the
// code goes to the admin's phone.
func (s *AuthService) SendLoginOtpToAdminOfOtherUser(ctx context.Context, adminPhone, npn string) (OtpResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.SendLoginOtpToAdminOfOtherUser")
	defer span.End()

	admin, target, err := s.resolveProxyPair(ctx, adminPhone, npn)
	if err != nil {
		span.RecordError(err)
		return OtpResponse{}, err
	}

	if _, err := s.registry.GetOrCreate(ctx, target, domain.ProviderUsername, domain.PasswordSecret{Hash: target.PasswordHash}); err != nil {
		span.RecordError(err)
		return OtpResponse{}, fmt.Errorf("proxy otp identity: %w", err)
	}

	message, err := s.otp.Send(ctx, admin.Phone)
	if err != nil {
		span.RecordError(err)
		return OtpResponse{}, fmt.Errorf("proxy otp: %w", err)
	}

	s.audit("proxy.otp.sent", "admin_id", admin.ID, "target_id", target.ID)
	return OtpResponse{Message: message, Phone: admin.Phone}, nil
}

// VerifyLoginOtpToAdminOfOtherUser completes the delegated-access flow. The
// admin authenticates; the session is issued for the target's identity.
func (s *AuthService) VerifyLoginOtpToAdminOfOtherUser(ctx context.Context, adminPhone, code, npn string, client domain.ClientContext) (AuthResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyLoginOtpToAdminOfOtherUser")
	defer span.End()

	admin, target, err := s.resolveProxyPair(ctx, adminPhone, npn)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, err
	}

	ok, err := s.otp.Check(ctx, admin.Phone, strings.TrimSpace(code))
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("proxy otp: %w", err)
	}
	if !ok {
		return AuthResponse{}, fmt.Errorf("proxy otp: %w", domain.ErrInvalidOtp)
	}

	ident, err := s.registry.GetValid(ctx, target.ID, domain.ProviderUsername, nil)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("proxy otp identity: %w", err)
	}
	if ident == nil {
		return AuthResponse{}, fmt.Errorf("proxy otp: %w", domain.ErrIdentityNotFound)
	}

	resp, err := s.issueAndPersist(ctx, target, *ident, client)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, err
	}
	s.audit("proxy.login.success", "admin_id", admin.ID, "target_id", target.ID)
	return resp, nil
}

// Refresh exchanges a live session's token value for a new pair. The prior
// session is not revoked on rotation; it stays resolvable until it expires
// or is revoked explicitly.
func (s *AuthService) Refresh(ctx context.Context, tokenValue string, client domain.ClientContext) (AuthResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	sess, err := s.sessions.FindActive(ctx, tokenValue)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, err
	}

	if sess.BrowserSig != client.BrowserSig {
		s.audit("refresh.mismatch", "user_id", sess.UserID, "session_id", sess.ID)
		return AuthResponse{}, fmt.Errorf("refresh: %w", domain.ErrSessionMismatch)
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("refresh load user: %w", err)
	}
	if !user.Active {
		return AuthResponse{}, fmt.Errorf("refresh: %w", domain.ErrUserInactive)
	}
	if err := s.guard.CheckAllowed(user); err != nil {
		return AuthResponse{}, err
	}

	ident, err := s.registry.GetByID(ctx, sess.IdentityID)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, fmt.Errorf("refresh load identity: %w", err)
	}
	if !ident.Usable(time.Now().UTC()) {
		return AuthResponse{}, fmt.Errorf("refresh: %w", domain.ErrIdentityNotFound)
	}

	resp, err := s.issueAndPersist(ctx, user, ident, client)
	if err != nil {
		span.RecordError(err)
		return AuthResponse{}, err
	}
	s.audit("refresh.success", "user_id", user.ID)
	return resp, nil
}

// VerifyToken checks the signature and expiry, then requires the embedded
// identity version to match the current one.
func (s *AuthService) VerifyToken(ctx context.Context, access string) (TokenIntrospection, error) {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyToken")
	defer span.End()

	claims, err := s.issuer.Verify(access)
	if err != nil {
		return TokenIntrospection{}, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		span.RecordError(err)
		return TokenIntrospection{}, fmt.Errorf("verify token load user: %w", err)
	}
	if !user.Active {
		return TokenIntrospection{}, fmt.Errorf("verify token: %w", domain.ErrUserInactive)
	}

	ident, err := s.registry.GetValid(ctx, user.ID, claims.Provider, nil)
	if err != nil {
		span.RecordError(err)
		return TokenIntrospection{}, fmt.Errorf("verify token identity: %w", err)
	}
	if ident == nil {
		return TokenIntrospection{}, fmt.Errorf("verify token: %w", domain.ErrIdentityNotFound)
	}
	if ident.Version != claims.Version {
		return TokenIntrospection{}, fmt.Errorf("verify token: %w", domain.ErrInvalidTokenVer)
	}

	return TokenIntrospection{
		UserID:   user.ID,
		Role:     claims.Role,
		Provider: claims.Provider,
		Version:  claims.Version,
		User:     newUserView(user),
	}, nil
}

// Logout is a stateless acknowledgment and is idempotent. Real invalidation
// is the version bump or session revocation, reachable via ChangePassword or
// the session store.
func (s *AuthService) Logout(ctx context.Context) MessageResponse {
	_, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()
	return MessageResponse{Message: "logged out"}
}

// ChangePassword rotates the username identity's secret, bumps its version
// so outstanding access tokens go stale, and revokes the user's sessions.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, oldPlain, newPlain string) (MessageResponse, error) {
	ctx, span := s.startSpan(ctx, "AuthService.ChangePassword")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return MessageResponse{}, fmt.Errorf("change password load user: %w", err)
	}

	ok, err := password.Verify(oldPlain, user.PasswordHash)
	if err != nil || !ok {
		return MessageResponse{}, fmt.Errorf("change password: %w", domain.ErrInvalidCredentials)
	}

	hashed, err := password.Hash(newPlain)
	if err != nil {
		span.RecordError(err)
		return MessageResponse{}, fmt.Errorf("change password hash: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hashed); err != nil {
		span.RecordError(err)
		return MessageResponse{}, fmt.Errorf("change password: %w", err)
	}

	ident, err := s.registry.GetValid(ctx, user.ID, domain.ProviderUsername, nil)
	if err != nil {
		span.RecordError(err)
		return MessageResponse{}, fmt.Errorf("change password identity: %w", err)
	}
	if ident != nil {
		if _, err := s.registry.RotateSecret(ctx, ident.ID, domain.PasswordSecret{Hash: hashed}); err != nil {
			span.RecordError(err)
			return MessageResponse{}, fmt.Errorf("change password rotate: %w", err)
		}
	}

	if err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		s.logger.Warn("failed to revoke sessions after password change", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	s.audit("password.changed", "user_id", user.ID)
	return MessageResponse{Message: "password updated"}, nil
}

func (s *AuthService) resolveProxyPair(ctx context.Context, adminPhone, npn string) (domain.User, domain.User, error) {
	admin, err := s.users.GetAdminByPhone(ctx, strings.TrimSpace(adminPhone))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, domain.User{}, fmt.Errorf("resolve admin: %w", domain.ErrUserNotFound)
		}
		return domain.User{}, domain.User{}, fmt.Errorf("resolve admin: %w", err)
	}

	target, err := s.users.GetByNPN(ctx, strings.TrimSpace(npn))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, domain.User{}, fmt.Errorf("resolve target: %w", domain.ErrUserNotFound)
		}
		return domain.User{}, domain.User{}, fmt.Errorf("resolve target: %w", err)
	}
	if !target.Active {
		return domain.User{}, domain.User{}, fmt.Errorf("resolve target: %w", domain.ErrUserInactive)
	}
	return admin, target, nil
}

// issueAndPersist mints the pair, persists the session, and records the
// issuance references on the identity.
func (s *AuthService) issueAndPersist(ctx context.Context, user domain.User, ident domain.Identity, client domain.ClientContext) (AuthResponse, error) {
	access, refresh, err := s.issuer.Issue(user, ident)
	if err != nil {
		return AuthResponse{}, fmt.Errorf("issue tokens: %w", err)
	}

	if _, err := s.sessions.Create(ctx, user, ident, refresh, client); err != nil {
		return AuthResponse{}, fmt.Errorf("persist session: %w", err)
	}

	// Audit references only; token validation never reads these.
	if err := s.registry.UpdateTokens(ctx, ident.ID, access, refresh); err != nil {
		s.logger.Warn("failed to record token refs", zap.Int64("identity_id", ident.ID), zap.Error(err))
	}
	if err := s.users.SetLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to record last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	return AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.issuer.AccessTTL().Seconds()),
		User:         newUserView(user),
	}, nil
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.logger
	if logger == nil {
		logger = zap.L()
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}
