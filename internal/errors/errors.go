// Package errors defines the error taxonomy shared by the secret store,
// key manager, token store, transport, and session layers. Each kind is
// a concrete type so callers can classify with errors.As, and the
// sentinels below can be matched with errors.Is through any wrapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels.
var (
	// ErrDuplicate is returned by a secret store put when the slot is occupied.
	ErrDuplicate = errors.New("secret already exists")

	// ErrNotFound is returned when a write succeeded but the readback was empty.
	ErrNotFound = errors.New("secret not found after write")

	// ErrNotAuthenticated is returned when an operation needs a token and
	// the session has none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidToken is returned when a token is empty or rejected.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when token validation finds the expiry in the past.
	ErrTokenExpired = errors.New("token expired")

	// ErrMalformedBlob is returned when an encrypted blob is too short to
	// hold a nonce and an authentication tag.
	ErrMalformedBlob = errors.New("malformed encrypted blob")
)

// StoreError reports a secret store failure for one account slot.
type StoreError struct {
	Op      string // "put", "get", "delete", "roundtrip"
	Account string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("secret store %s %q: %v", e.Op, e.Account, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// CryptoError reports a key, seal, or open failure. A "decrypt" failure
// means tampering or a key mismatch, never absence. The "keeper-" ops
// come from an external key service and may be transient.
type CryptoError struct {
	Op  string // "key", "encrypt", "decrypt", "keeper-seal", "keeper-open"
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// TransportError wraps a failure that happened before any HTTP response
// was received: DNS, connection refused, timeouts, cancellation.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// ServerError reports an HTTP response that indicates failure. Code and
// Description come from a structured error payload when the server sent
// one; otherwise Description is the HTTP status text.
type ServerError struct {
	StatusCode  int
	Code        string
	Description string

	// MFAToken is set when the server requires a second login factor.
	MFAToken string
}

func (e *ServerError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("server error (%d): %s: %s", e.StatusCode, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Code)
	case e.Description != "":
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Description)
	}

	return fmt.Sprintf("server error (%d): %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// AuthError reports an authentication-state failure. Err is one of the
// auth sentinels, optionally wrapping a cause.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "auth: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// DecodingError reports a payload that does not match the expected shape
// and carries no structured error.
type DecodingError struct {
	What string
	Err  error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.What, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// NotAuthenticated returns the error every authenticated call fails with
// when no token is available.
func NotAuthenticated() error {
	return &AuthError{Err: ErrNotAuthenticated}
}

// IsCorrupt reports whether err means stored data is unreadable for
// good: a local AEAD open failure or a payload that does not decode.
// Store and key-service failures are not corruption.
func IsCorrupt(err error) bool {
	var de *DecodingError
	if errors.As(err, &de) {
		return true
	}

	var ce *CryptoError

	return errors.As(err, &ce) && ce.Op == "decrypt"
}

// IsUnavailable reports whether err means the server could not be asked
// or could not answer: a transport failure or a 5xx response.
func IsUnavailable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}

	var se *ServerError

	return errors.As(err, &se) && se.StatusCode >= 500
}

// IsServerCode reports whether err is a ServerError carrying the given
// structured error code.
func IsServerCode(err error, code string) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == code
}
