package models

import (
	"errors"
	"time"
)

// DefaultExpiryMargin is how early a credential is treated as expired
const DefaultExpiryMargin = 5 * time.Minute

// Credential is the token/sign pair returned by the WSAA handshake
type Credential struct {
	Service     string    `json:"service"`
	Cuit        int64     `json:"cuit"`
	Token       string    `json:"token"`
	Sign        string    `json:"sign"`
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Validate checks the credential invariants
func (c Credential) Validate() error {
	if c.Token == "" {
		return errors.New("credential token is empty")
	}
	if c.Sign == "" {
		return errors.New("credential sign is empty")
	}
	if c.GeneratedAt.IsZero() || c.ExpiresAt.IsZero() {
		return errors.New("credential validity window is incomplete")
	}
	if !c.GeneratedAt.Before(c.ExpiresAt) {
		return errors.New("credential generation time is not before expiration time")
	}
	return nil
}

// IsExpired reports whether the credential must not be used at now.
// The margin shortens the validity window so a request never races the
// server-side expiry.
func (c Credential) IsExpired(now time.Time, margin time.Duration) bool {
	if c.Token == "" || c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(c.ExpiresAt.Add(-margin))
}
