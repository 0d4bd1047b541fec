package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/password"
	"github.com/agencydesk/identity/internal/repository"
)

// Verifier checks an identifier/password pair. Unknown identifiers and wrong
// passwords are indistinguishable to callers: same error, and a dummy hash
// derivation on the miss path keeps latency level.
type Verifier struct {
	users repository.UserRepository
}

// NewVerifier wires the verifier.
func NewVerifier(users repository.UserRepository) *Verifier {
	return &Verifier{users: users}
}

// Verify resolves the user by handle or email and compares the password.
func (v *Verifier) Verify(ctx context.Context, identifier, plain string) (domain.User, error) {
	cleaned := strings.ToLower(strings.TrimSpace(identifier))
	if cleaned == "" || plain == "" {
		password.VerifyDummy(plain)
		return domain.User{}, fmt.Errorf("verify credentials: %w", domain.ErrInvalidCredentials)
	}

	user, err := v.users.GetByIdentifier(ctx, cleaned)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			password.VerifyDummy(plain)
			return domain.User{}, fmt.Errorf("verify credentials: %w", domain.ErrInvalidCredentials)
		}
		return domain.User{}, fmt.Errorf("verify credentials: %w", err)
	}

	ok, err := password.Verify(plain, user.PasswordHash)
	if err != nil || !ok {
		return domain.User{}, fmt.Errorf("verify credentials: %w", domain.ErrInvalidCredentials)
	}
	return user, nil
}
