package domain

import "time"

// Roles assignable to a user.
const (
	RoleAdmin   = "admin"
	RoleUser    = "user"
	RoleRegular = "regular"
)

// User is the authentication subject. Accounts are soft-deactivated via the
// Active flag, never hard-deleted.
type User struct {
	ID             int64
	Handle         string
	Email          string
	PasswordHash   string
	Role           string
	FailedAttempts int
	BlockExpires   *time.Time
	LastLoginAt    *time.Time
	Active         bool
	Phone          string
	AltPhones      []string
	NPN            string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Blocked reports whether the account is inside a lockout window.
func (u User) Blocked(now time.Time) bool {
	return u.BlockExpires != nil && now.Before(*u.BlockExpires)
}
