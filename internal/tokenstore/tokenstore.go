// Package tokenstore persists the single access token of an installation.
// The token is serialized with canonical CBOR, sealed by the key manager,
// and written to its own secret store slot.
package tokenstore

import (
	"context"
	"fmt"
	"log/slog"

	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	"github.com/alexjbarnes/iotcloud/internal/models"
	"github.com/alexjbarnes/iotcloud/internal/secretstore"
	"github.com/fxamacker/cbor/v2"
)

// DefaultAccount is the secret store slot holding the sealed token.
const DefaultAccount = "iotcloud.access-token"

// Sealer encrypts and decrypts payloads. *keys.Manager satisfies it.
type Sealer interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, blob []byte) ([]byte, error)
}

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// token always serializes to the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("tokenstore: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("tokenstore: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal returns the canonical serialization of a token.
func Marshal(t models.AccessToken) ([]byte, error) {
	data, err := encMode.Marshal(t)
	if err != nil {
		return nil, &apperr.DecodingError{What: "access token", Err: err}
	}

	return data, nil
}

// Unmarshal parses a canonical serialization. A token without a value is
// rejected as corrupt.
func Unmarshal(data []byte) (models.AccessToken, error) {
	var t models.AccessToken
	if err := decMode.Unmarshal(data, &t); err != nil {
		return models.AccessToken{}, &apperr.DecodingError{What: "access token", Err: err}
	}

	if t.Value == "" {
		return models.AccessToken{}, &apperr.DecodingError{What: "access token", Err: apperr.ErrInvalidToken}
	}

	return t, nil
}

// Store persists one token.
type Store struct {
	secrets secretstore.Store
	sealer  Sealer
	account string
	logger  *slog.Logger
}

// New creates a token Store. account defaults to DefaultAccount when empty.
func New(secrets secretstore.Store, sealer Sealer, account string, logger *slog.Logger) *Store {
	if account == "" {
		account = DefaultAccount
	}

	return &Store{
		secrets: secrets,
		sealer:  sealer,
		account: account,
		logger:  logger,
	}
}

// Save seals and persists the token, then reads it back, opens it, and
// returns the reconstructed token as proof of durability.
func (s *Store) Save(ctx context.Context, token models.AccessToken) (models.AccessToken, error) {
	plaintext, err := Marshal(token)
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("serializing token: %w", err)
	}

	blob, err := s.sealer.Encrypt(ctx, plaintext)
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("encrypting token: %w", err)
	}

	stored, err := secretstore.RoundTrip(ctx, s.secrets, s.account, blob)
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("storing token: %w", err)
	}

	saved, err := s.open(ctx, stored)
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("verifying stored token: %w", err)
	}

	s.logger.Debug("token saved", slog.String("fingerprint", saved.Fingerprint()))

	return saved, nil
}

// Load returns the stored token, or nil when the slot is empty. A blob
// that fails to open or parse is an error, never absence.
func (s *Store) Load(ctx context.Context) (*models.AccessToken, error) {
	blob, err := s.secrets.Get(ctx, s.account)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}

	if blob == nil {
		return nil, nil
	}

	t, err := s.open(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}

	return &t, nil
}

// Clear removes the stored token. Idempotent.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.secrets.Delete(ctx, s.account); err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}

	return nil
}

func (s *Store) open(ctx context.Context, blob []byte) (models.AccessToken, error) {
	plaintext, err := s.sealer.Decrypt(ctx, blob)
	if err != nil {
		return models.AccessToken{}, err
	}

	return Unmarshal(plaintext)
}
