package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrDuplicate,
		ErrNotFound,
		ErrNotAuthenticated,
		ErrInvalidToken,
		ErrTokenExpired,
		ErrMalformedBlob,
	}
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestStoreError_UnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("saving: %w", &StoreError{Op: "put", Account: "token", Err: ErrDuplicate})

	assert.True(t, errors.Is(err, ErrDuplicate))

	var se *StoreError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "put", se.Op)
	assert.Contains(t, err.Error(), `"token"`)
}

func TestCryptoError_Classification(t *testing.T) {
	err := fmt.Errorf("loading: %w", &CryptoError{Op: "decrypt", Err: errors.New("message authentication failed")})

	var ce *CryptoError
	assert.True(t, errors.As(err, &ce))

	var se *StoreError
	assert.False(t, errors.As(err, &se), "crypto failures must not look like store failures")
}

func TestServerError_Messages(t *testing.T) {
	tests := []struct {
		err  *ServerError
		want string
	}{
		{&ServerError{StatusCode: 400, Code: "invalid_grant", Description: "User credentials are invalid"}, "server error (400): invalid_grant: User credentials are invalid"},
		{&ServerError{StatusCode: 403, Code: "mfa_required"}, "server error (403): mfa_required"},
		{&ServerError{StatusCode: 502, Description: "Bad Gateway"}, "server error (502): Bad Gateway"},
		{&ServerError{StatusCode: 404}, "server error (404): Not Found"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestNotAuthenticated(t *testing.T) {
	err := NotAuthenticated()

	var ae *AuthError
	assert.True(t, errors.As(err, &ae))
	assert.True(t, errors.Is(err, ErrNotAuthenticated))
	assert.Equal(t, "auth: not authenticated", err.Error())
}

func TestIsServerCode(t *testing.T) {
	err := fmt.Errorf("minting: %w", &ServerError{StatusCode: 403, Code: "mfa_required", MFAToken: "m1"})

	assert.True(t, IsServerCode(err, "mfa_required"))
	assert.False(t, IsServerCode(err, "invalid_grant"))
	assert.False(t, IsServerCode(errors.New("plain"), "mfa_required"))
}

func TestIsCorrupt(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"local open failure", fmt.Errorf("loading token: %w", &CryptoError{Op: "decrypt", Err: errors.New("message authentication failed")}), true},
		{"undecodable payload", fmt.Errorf("loading token: %w", &DecodingError{What: "token", Err: errors.New("unexpected EOF")}), true},
		{"key service unreachable", fmt.Errorf("reading token: %w", &CryptoError{Op: "keeper-open", Err: errors.New("dial tcp: i/o timeout")}), false},
		{"store read failure", fmt.Errorf("reading token: %w", &StoreError{Op: "get", Account: "token", Err: errors.New("database locked")}), false},
		{"key generation failure", &CryptoError{Op: "key", Err: errors.New("no entropy")}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCorrupt(tt.err))
		})
	}
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", &TransportError{Err: errors.New("connection refused")}, true},
		{"service unavailable", fmt.Errorf("validating: %w", &ServerError{StatusCode: 503}), true},
		{"internal error", &ServerError{StatusCode: 500, Code: "server_error"}, true},
		{"rejected token", &ServerError{StatusCode: 401, Code: "invalid_token"}, false},
		{"expired", &AuthError{Err: ErrTokenExpired}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnavailable(tt.err))
		})
	}
}
