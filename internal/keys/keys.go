// Package keys owns the installation's symmetric encryption key. The key
// is generated lazily on first use, persisted in a secret store slot, and
// read back from the store on every use so an external deletion is
// observed immediately. Payloads are sealed with an AEAD and laid out as
// nonce || ciphertext || tag.
package keys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"

	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	"github.com/alexjbarnes/iotcloud/internal/secretstore"
	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the key length in bytes (256 bits).
const KeySize = 32

// DefaultAccount is the secret store slot holding the raw key bytes.
const DefaultAccount = "iotcloud.encryption-key"

// Algorithm selects the AEAD used for sealing.
type Algorithm string

const (
	ChaCha20Poly1305 Algorithm = "chacha20poly1305"
	AESGCM           Algorithm = "aes-gcm"
)

// ParseAlgorithm maps a config value to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case ChaCha20Poly1305, AESGCM:
		return Algorithm(s), nil
	case "":
		return ChaCha20Poly1305, nil
	}

	return "", fmt.Errorf("unsupported cipher %q (want %s or %s)", s, ChaCha20Poly1305, AESGCM)
}

// Manager generates, loads, and uses the encryption key.
type Manager struct {
	store   secretstore.Store
	account string
	alg     Algorithm
	logger  *slog.Logger

	// genMu serializes key generation. Two first uses must not both
	// find the slot empty and each write their own key.
	genMu sync.Mutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithAccount overrides the key slot name.
func WithAccount(account string) Option {
	return func(m *Manager) { m.account = account }
}

// WithAlgorithm selects the AEAD. Defaults to ChaCha20-Poly1305.
func WithAlgorithm(alg Algorithm) Option {
	return func(m *Manager) { m.alg = alg }
}

// NewManager creates a Manager backed by store.
func NewManager(store secretstore.Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		account: DefaultAccount,
		alg:     ChaCha20Poly1305,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ObtainKey returns the installation key, generating and persisting a
// new one when the slot is empty. The caller must Destroy the returned
// buffer.
//
// A stored value of the wrong length cannot be a key this package wrote,
// so it is replaced. Anything encrypted under it was already unreadable.
func (m *Manager) ObtainKey(ctx context.Context) (*memguard.LockedBuffer, error) {
	raw, err := m.readKey(ctx)
	if err != nil {
		return nil, err
	}

	if len(raw) == KeySize {
		return memguard.NewBufferFromBytes(raw), nil
	}

	m.genMu.Lock()
	defer m.genMu.Unlock()

	// Another caller may have generated the key while we waited.
	raw, err = m.readKey(ctx)
	if err != nil {
		return nil, err
	}

	if len(raw) == KeySize {
		return memguard.NewBufferFromBytes(raw), nil
	}

	if raw != nil {
		m.logger.Warn("stored encryption key has wrong length, replacing",
			slog.Int("bytes", len(raw)),
		)
		wipe(raw)
	}

	return m.generate(ctx)
}

func (m *Manager) readKey(ctx context.Context) ([]byte, error) {
	raw, err := m.store.Get(ctx, m.account)
	if err != nil {
		return nil, fmt.Errorf("reading encryption key: %w", err)
	}

	return raw, nil
}

func (m *Manager) generate(ctx context.Context) (*memguard.LockedBuffer, error) {
	fresh := make([]byte, KeySize)
	if _, err := rand.Read(fresh); err != nil {
		return nil, &apperr.CryptoError{Op: "key", Err: fmt.Errorf("generating key: %w", err)}
	}
	defer wipe(fresh)

	stored, err := secretstore.RoundTrip(ctx, m.store, m.account, fresh)
	if err != nil {
		return nil, fmt.Errorf("persisting encryption key: %w", err)
	}

	if len(stored) != KeySize {
		wipe(stored)
		return nil, &apperr.StoreError{
			Op:      "roundtrip",
			Account: m.account,
			Err:     fmt.Errorf("readback returned %d bytes, want %d", len(stored), KeySize),
		}
	}

	m.logger.Info("generated new encryption key", slog.String("account", m.account))

	return memguard.NewBufferFromBytes(stored), nil
}

// Encrypt seals plaintext under the managed key with a fresh random nonce.
func (m *Manager) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	aead, err := m.aead(ctx)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, &apperr.CryptoError{Op: "encrypt", Err: fmt.Errorf("generating nonce: %w", err)}
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Fails closed: a short blob or
// a tag mismatch is a CryptoError, never altered plaintext.
func (m *Manager) Decrypt(ctx context.Context, blob []byte) ([]byte, error) {
	aead, err := m.aead(ctx)
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(blob) < nonceSize+aead.Overhead() {
		return nil, &apperr.CryptoError{
			Op:  "decrypt",
			Err: fmt.Errorf("%w: %d bytes", apperr.ErrMalformedBlob, len(blob)),
		}
	}

	plaintext, err := aead.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return nil, &apperr.CryptoError{Op: "decrypt", Err: err}
	}

	return plaintext, nil
}

// aead loads the key and builds the configured cipher. The key buffer is
// destroyed before returning; the cipher keeps its own expanded copy.
func (m *Manager) aead(ctx context.Context) (cipher.AEAD, error) {
	key, err := m.ObtainKey(ctx)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	return newAEAD(m.alg, key.Bytes())
}

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, &apperr.CryptoError{Op: "key", Err: fmt.Errorf("creating ChaCha20-Poly1305: %w", err)}
		}

		return aead, nil

	case AESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, &apperr.CryptoError{Op: "key", Err: fmt.Errorf("creating AES cipher: %w", err)}
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, &apperr.CryptoError{Op: "key", Err: fmt.Errorf("creating GCM: %w", err)}
		}

		return gcm, nil
	}

	return nil, &apperr.CryptoError{Op: "key", Err: fmt.Errorf("unsupported algorithm %q", alg)}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
