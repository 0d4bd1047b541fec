package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/repository"
)

// In-memory repository fakes mirroring the Postgres error contracts.

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
}

var _ repository.UserRepository = (*memoryUserRepo)(nil)

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]domain.User)}
}

func (m *memoryUserRepo) add(user domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *memoryUserRepo) get(userID int64) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID]
}

func (m *memoryUserRepo) setBlockExpires(userID int64, at *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.users[userID]
	user.BlockExpires = at
	m.users[userID] = user
}

func (m *memoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return domain.User{}, fmt.Errorf("create user: %w", domain.ErrAlreadyExists)
		}
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return domain.User{}, fmt.Errorf("get user: %w", domain.ErrUserNotFound)
	}
	return user, nil
}

func (m *memoryUserRepo) GetByIdentifier(ctx context.Context, identifier string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, identifier) || strings.EqualFold(user.Handle, identifier) {
			return user, nil
		}
	}
	return domain.User{}, fmt.Errorf("get user: %w", domain.ErrUserNotFound)
}

func (m *memoryUserRepo) GetByPhone(ctx context.Context, phone string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Phone == phone {
			return user, nil
		}
		for _, alt := range user.AltPhones {
			if alt == phone {
				return user, nil
			}
		}
	}
	return domain.User{}, fmt.Errorf("get user: %w", domain.ErrUserNotFound)
}

func (m *memoryUserRepo) GetAdminByPhone(ctx context.Context, phone string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Phone == phone && user.Role == domain.RoleAdmin {
			return user, nil
		}
	}
	return domain.User{}, fmt.Errorf("get user: %w", domain.ErrUserNotFound)
}

func (m *memoryUserRepo) GetByNPN(ctx context.Context, npn string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.NPN == npn {
			return user, nil
		}
	}
	return domain.User{}, fmt.Errorf("get user: %w", domain.ErrUserNotFound)
}

func (m *memoryUserRepo) RecordLoginFailure(ctx context.Context, userID int64, ceiling int, blockUntil time.Time) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func (m *memoryUserRepo) ResetLoginFailures(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("reset failures: %w", domain.ErrUserNotFound)
	}
	user.FailedAttempts = 0
	m.users[userID] = user
	return nil
}

func (m *memoryUserRepo) SetLastLogin(ctx context.Context, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("set last login: %w", domain.ErrUserNotFound)
	}
	user.LastLoginAt = &at
	m.users[userID] = user
	return nil
}

func (m *memoryUserRepo) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("update password: %w", domain.ErrUserNotFound)
	}
	user.PasswordHash = hash
	m.users[userID] = user
	return nil
}

func (m *memoryUserRepo) Deactivate(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("deactivate user: %w", domain.ErrUserNotFound)
	}
	user.Active = false
	m.users[userID] = user
	return nil
}

type memoryIdentityRepo struct {
	mu         sync.Mutex
	identities map[int64]domain.Identity
}

var _ repository.IdentityRepository = (*memoryIdentityRepo)(nil)

func newMemoryIdentityRepo() *memoryIdentityRepo {
	return &memoryIdentityRepo{identities: make(map[int64]domain.Identity)}
}

func (m *memoryIdentityRepo) Create(ctx context.Context, identity domain.Identity) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.identities {
		if existing.Provider == identity.Provider && existing.UID == identity.UID {
			return domain.Identity{}, fmt.Errorf("create identity: %w", domain.ErrDuplicateIdentity)
		}
	}
	identity.CreatedAt = time.Now().UTC()
	identity.UpdatedAt = identity.CreatedAt
	m.identities[identity.ID] = identity
	return identity, nil
}

func (m *memoryIdentityRepo) GetByID(ctx context.Context, identityID int64) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[identityID]
	if !ok {
		return domain.Identity{}, fmt.Errorf("get identity: %w", domain.ErrIdentityNotFound)
	}
	return identity, nil
}

func (m *memoryIdentityRepo) GetActive(ctx context.Context, userID int64, provider domain.Provider) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.identities {
		if identity.UserID == userID && identity.Provider == provider && identity.Active {
			return identity, nil
		}
	}
	return domain.Identity{}, fmt.Errorf("get identity: %w", domain.ErrIdentityNotFound)
}

func (m *memoryIdentityRepo) BumpVersion(ctx context.Context, identityID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[identityID]
	if !ok {
		return 0, fmt.Errorf("bump version: %w", domain.ErrIdentityNotFound)
	}
	identity.Version++
	m.identities[identityID] = identity
	return identity.Version, nil
}

func (m *memoryIdentityRepo) UpdateTokenRefs(ctx context.Context, identityID int64, accessToken, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[identityID]
	if !ok {
		return fmt.Errorf("update token refs: %w", domain.ErrIdentityNotFound)
	}
	identity.LastAccess = accessToken
	identity.LastRefresh = refreshToken
	m.identities[identityID] = identity
	return nil
}

func (m *memoryIdentityRepo) UpdateSecret(ctx context.Context, identityID int64, secret domain.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[identityID]
	if !ok {
		return fmt.Errorf("update secret: %w", domain.ErrIdentityNotFound)
	}
	identity.Secret = secret
	m.identities[identityID] = identity
	return nil
}

func (m *memoryIdentityRepo) DeactivateAllForUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, identity := range m.identities {
		if identity.UserID == userID {
			identity.Active = false
			m.identities[id] = identity
		}
	}
	return nil
}

type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.RefreshSession
}

var _ repository.SessionRepository = (*memorySessionRepo)(nil)

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]domain.RefreshSession)}
}

func (m *memorySessionRepo) get(token string) domain.RefreshSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[token]
}

func (m *memorySessionRepo) expire(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[token]
	session.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	m.sessions[token] = session
}

func (m *memorySessionRepo) Create(ctx context.Context, session domain.RefreshSession) (domain.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session.CreatedAt = time.Now().UTC()
	m.sessions[session.Token] = session
	return session, nil
}

func (m *memorySessionRepo) GetByToken(ctx context.Context, token string) (domain.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[token]
	if !ok {
		return domain.RefreshSession{}, fmt.Errorf("get session: %w", domain.ErrNotFound)
	}
	return session, nil
}

func (m *memorySessionRepo) Revoke(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[token]
	if !ok {
		return nil
	}
	session.Revoked = true
	m.sessions[token] = session
	return nil
}

func (m *memorySessionRepo) RevokeAllForUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, session := range m.sessions {
		if session.UserID == userID {
			session.Revoked = true
			m.sessions[token] = session
		}
	}
	return nil
}

func (m *memorySessionRepo) RevokeAllForIdentity(ctx context.Context, identityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, session := range m.sessions {
		if session.IdentityID == identityID {
			session.Revoked = true
			m.sessions[token] = session
		}
	}
	return nil
}

func (m *memorySessionRepo) DeleteDefunct(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for token, session := range m.sessions {
		if session.Revoked || before.After(session.ExpiresAt) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed, nil
}

type memoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]string
}

var _ repository.OtpCodeStore = (*memoryCodeStore)(nil)

func newMemoryCodeStore() *memoryCodeStore {
	return &memoryCodeStore{codes: make(map[string]string)}
}

func (m *memoryCodeStore) get(phone string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[phone]
}

func (m *memoryCodeStore) Save(ctx context.Context, phone, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[phone] = code
	return nil
}

func (m *memoryCodeStore) Get(ctx context.Context, phone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[phone], nil
}

func (m *memoryCodeStore) Delete(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, phone)
	return nil
}
