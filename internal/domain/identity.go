package domain

import (
	"fmt"
	"time"
)

// Provider enumerates the authentication methods an identity can be bound to.
type Provider string

const (
	ProviderUsername Provider = "username"
	ProviderPhone    Provider = "phone"
	ProviderEmail    Provider = "email"
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderUsername, ProviderPhone, ProviderEmail, ProviderGoogle, ProviderFacebook:
		return true
	}
	return false
}

// Secret is the provider-specific credential material bound to an identity.
// The concrete shape differs per provider, so it is a closed variant rather
// than a loosely typed string.
type Secret interface {
	secret()
	// Encoded returns the storable representation.
	Encoded() string
}

// PasswordSecret holds the one-way hash used by username and email identities.
type PasswordSecret struct {
	Hash string
}

// PhoneSecret carries no local material; possession of the phone number is
// proven through the OTP channel at login time.
type PhoneSecret struct{}

// FederatedSecret references the subject issued by an external identity
// provider (google, facebook).
type FederatedSecret struct {
	Subject string
}

func (PasswordSecret) secret()  {}
func (PhoneSecret) secret()     {}
func (FederatedSecret) secret() {}

func (s PasswordSecret) Encoded() string  { return s.Hash }
func (PhoneSecret) Encoded() string       { return "" }
func (s FederatedSecret) Encoded() string { return s.Subject }

// DecodeSecret rebuilds the variant for a provider from its stored form.
func DecodeSecret(provider Provider, raw string) (Secret, error) {
	switch provider {
	case ProviderUsername, ProviderEmail:
		return PasswordSecret{Hash: raw}, nil
	case ProviderPhone:
		return PhoneSecret{}, nil
	case ProviderGoogle, ProviderFacebook:
		return FederatedSecret{Subject: raw}, nil
	default:
		return nil, fmt.Errorf("decode secret: unknown provider %q", provider)
	}
}

// IdentityExpirySentinel marks identities with no policy-driven expiry.
var IdentityExpirySentinel = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Identity binds one authentication method to a user. Version is the
// monotonic counter embedded in access tokens; a token is honored only while
// its embedded version matches the identity's current one.
type Identity struct {
	ID          int64
	UserID      int64
	Provider    Provider
	UID         string
	Secret      Secret
	Version     int64
	ExpiresAt   time.Time
	LastAccess  string
	LastRefresh string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Usable reports whether the identity is active and unexpired.
func (i Identity) Usable(now time.Time) bool {
	return i.Active && now.Before(i.ExpiresAt)
}
