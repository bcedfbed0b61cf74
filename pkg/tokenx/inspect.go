// Package tokenx inspects bearer tokens without verifying their signature.
//
// The bridge only needs to know whether a stored token is still worth
// sending; whether it was actually signed by the authority is the remote
// API's decision. Every decode failure is reported as "expired" so a
// corrupt or truncated token can never be mistaken for a usable one.
package tokenx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed reports a token that could not be decoded at all.
	ErrMalformed = errors.New("tokenx: malformed token")

	// ErrNoExpiry reports a decodable token without an exp claim.
	ErrNoExpiry = errors.New("tokenx: token has no expiry claim")
)

// Claims are the token fields the bridge cares about. Guest marks tokens
// minted through anonymous issuance.
type Claims struct {
	jwt.RegisteredClaims

	Guest bool `json:"guest,omitempty"`
}

// Peek decodes the claims of a three-segment token without checking its
// signature. Useful for logging and diagnostics; never use it to grant
// anything.
func Peek(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return claims, nil
}

// IsExpired reports whether the token's exp claim is in the past. Any
// decode failure or missing exp also reports true: fail-safe, never
// fail-open.
func IsExpired(token string) bool {
	claims, err := Peek(token)
	if err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !time.Now().Before(claims.ExpiresAt.Time)
}

// Remaining returns exp minus now. Negative values are not clamped so a
// caller can tell "expired 2s ago" from "expired 2 days ago".
func Remaining(token string) (time.Duration, error) {
	claims, err := Peek(token)
	if err != nil {
		return 0, err
	}
	if claims.ExpiresAt == nil {
		return 0, ErrNoExpiry
	}
	return time.Until(claims.ExpiresAt.Time), nil
}

// RemainingSeconds is Remaining in seconds, for telemetry fields.
func RemainingSeconds(token string) (float64, error) {
	d, err := Remaining(token)
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}
