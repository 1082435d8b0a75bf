package domain

import "time"

// Session represents one authenticated browser session. Expiry is always
// now + SessionTTL at creation and renewal time; expired rows linger only
// until the sweeper gets to them.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session is past its expiry at the given time.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
