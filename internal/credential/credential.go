package credential

import "time"

// RefreshBuffer is the safety margin subtracted from a token's lifetime so
// that a refresh happens before the platform actually rejects the token.
const RefreshBuffer = 300 * time.Second

// Credential is one stored OAuth2 token record for a (user, platform) pair.
// It is replaced wholesale on refresh and never partially mutated.
type Credential struct {
	UserID       string
	Platform     string
	AccessToken  string
	RefreshToken string
	ObtainedAt   time.Time
	ExpiresIn    int64 // seconds; <= 0 means the token never expires
	Scope        string
}

// Expired reports whether the access token should no longer be used at the
// given instant, applying the refresh buffer.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresIn <= 0 {
		return false
	}
	lifetime := time.Duration(c.ExpiresIn)*time.Second - RefreshBuffer
	return now.Sub(c.ObtainedAt) >= lifetime
}

// ExpiresAt returns the instant the token becomes unusable, or the zero
// time for non-expiring tokens.
func (c Credential) ExpiresAt() time.Time {
	if c.ExpiresIn <= 0 {
		return time.Time{}
	}
	return c.ObtainedAt.Add(time.Duration(c.ExpiresIn) * time.Second)
}

// Refreshable reports whether an expired credential can be renewed without
// user interaction.
func (c Credential) Refreshable() bool {
	return c.RefreshToken != ""
}
