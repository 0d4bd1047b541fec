package domain

import "time"

// ClientContext captures where a session was minted from. BrowserSig is the
// raw user-agent string; Country is the coarse geography resolved at the edge.
type ClientContext struct {
	IP         string
	BrowserSig string
	Country    string
}

// RefreshSession is an opaque long-lived credential. The token value carries
// no structure; its only authority is presence in the session store.
type RefreshSession struct {
	ID         int64
	UserID     int64
	IdentityID int64
	Token      string
	Revoked    bool
	ExpiresAt  time.Time
	IP         string
	BrowserSig string
	Country    string
	Active     bool
	CreatedAt  time.Time
}

// Live reports whether the session is unrevoked, unexpired, and active.
// Validity is always decided by this comparison at read time, never by
// assuming expired rows were already deleted.
func (s RefreshSession) Live(now time.Time) bool {
	return s.Active && !s.Revoked && now.Before(s.ExpiresAt)
}
