// Package models defines the value types shared by the token lifecycle
// packages: access tokens, credentials, and the token endpoint payloads.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// AccessToken is an access token minted by the cloud. Identity is the
// Value field; two tokens are equal only when every field matches, so
// the struct is comparable with ==.
//
// Token and refresh values are secrets. Log Fingerprint instead.
type AccessToken struct {
	Value        string `json:"access_token" cbor:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty" cbor:"refresh_token,omitempty"`
	// ExpiresIn is the lifetime in seconds reported at mint time, 0 when
	// the server did not say.
	ExpiresIn int64  `json:"expires_in,omitempty" cbor:"expires_in,omitempty"`
	TokenType string `json:"token_type,omitempty" cbor:"token_type,omitempty"`
}

// Fingerprint returns the first 12 hex characters of SHA-256(Value).
// Safe to log.
func (t AccessToken) Fingerprint() string {
	h := sha256.Sum256([]byte(t.Value))
	return hex.EncodeToString(h[:])[:12]
}

// Credentials is the ephemeral input to a token mint. Never persisted.
type Credentials struct {
	Username string
	Password string

	// ClientID and ClientSecret override the configured OAuth client.
	ClientID     string
	ClientSecret string

	// OTP is the one-time code for accounts with two-step login enabled.
	OTP string

	// ExpiresIn requests a token lifetime in seconds. 0 leaves it to the server.
	ExpiresIn int64
}

// TokenInfo is the token-info endpoint response.
type TokenInfo struct {
	ExpiresAt time.Time `json:"expires_at"`
	Orgs      []string  `json:"orgs,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
}

// Validate rejects a token-info payload without an expiry.
func (i TokenInfo) Validate() error {
	if i.ExpiresAt.IsZero() {
		return errors.New("missing expires_at")
	}

	return nil
}

// Valid reports whether the token expires strictly after now.
func (i TokenInfo) Valid(now time.Time) bool {
	return i.ExpiresAt.After(now)
}

// DeleteResponse is returned by token revocation and other delete calls.
type DeleteResponse struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	MFAToken         string `json:"mfa_token,omitempty"`
}

// Validate accepts only a successful delete.
func (r DeleteResponse) Validate() error {
	if !r.OK {
		return errors.New("ok is false")
	}

	return nil
}

// MarkOK records an empty 2xx response as success.
func (r *DeleteResponse) MarkOK() { r.OK = true }
