package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/agencydesk/identity/internal/domain"
)

// Claims is the access-token payload. Version pins the token to the identity
// version current at issuance; verification re-checks it against storage.
type Claims struct {
	Role     string          `json:"role"`
	Provider domain.Provider `json:"provider"`
	Version  int64           `json:"ver"`
}

// VerifiedToken is the decoded result of a successful signature check.
type VerifiedToken struct {
	UserID   int64
	Role     string
	Provider domain.Provider
	Version  int64
	IssuedAt time.Time
}

// Issuer mints signed access tokens and opaque refresh values. Tokens are
// signed exclusively with the configured secret.
type Issuer struct {
	secret       []byte
	issuer       string
	accessTTL    time.Duration
	refreshBytes int
}

// NewIssuer constructs an Issuer from the configured signing secret.
func NewIssuer(secret, issuer string, accessTTL time.Duration, refreshBytes int) *Issuer {
	if refreshBytes < 32 {
		refreshBytes = 32
	}
	return &Issuer{
		secret:       []byte(secret),
		issuer:       issuer,
		accessTTL:    accessTTL,
		refreshBytes: refreshBytes,
	}
}

// AccessTTL exposes the access-token lifetime for response payloads.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// Issue produces a signed access token for the identity plus a fresh opaque
// refresh value. The refresh value has no internal structure; its only
// authority is presence in the session store.
func (i *Issuer) Issue(user domain.User, identity domain.Identity) (string, string, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: i.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Subject:   strconv.FormatInt(user.ID, 10),
		Issuer:    i.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(i.accessTTL)),
	}
	custom := Claims{
		Role:     user.Role,
		Provider: identity.Provider,
		Version:  identity.Version,
	}

	access, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", "", fmt.Errorf("serialize token: %w", err)
	}

	refresh, err := i.newRefreshValue()
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Verify recomputes the signature and checks expiry. It does not consult
// storage; the caller owns the version comparison.
func (i *Issuer) Verify(access string) (*VerifiedToken, error) {
	parsed, err := gojwt.ParseSigned(access, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTokenMalformed, err)
	}

	var std gojwt.Claims
	var custom Claims
	if err := parsed.Claims(i.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTokenMalformed, err)
	}

	if err := std.Validate(gojwt.Expected{Issuer: i.issuer, Time: time.Now().UTC()}); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrTokenMalformed, err)
	}

	userID, err := strconv.ParseInt(std.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", domain.ErrTokenMalformed)
	}

	var issuedAt time.Time
	if std.IssuedAt != nil {
		issuedAt = std.IssuedAt.Time()
	}

	return &VerifiedToken{
		UserID:   userID,
		Role:     custom.Role,
		Provider: custom.Provider,
		Version:  custom.Version,
		IssuedAt: issuedAt,
	}, nil
}

func (i *Issuer) newRefreshValue() (string, error) {
	b := make([]byte, i.refreshBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh value: %w", err)
	}
	return hex.EncodeToString(b), nil
}
