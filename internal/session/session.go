// Package session owns the authentication state of an installation: it
// logs in with a token or credentials, validates tokens against the
// cloud, persists them through the token store, and logs out.
//
// All state transitions are serialized. Readers take lock-free snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/iotcloud/internal/cloud"
	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	"github.com/alexjbarnes/iotcloud/internal/models"
)

//go:generate mockgen -destination=mock_authenticator_test.go -package=session . Authenticator

// Authenticator is the slice of the cloud transport the session needs.
// *cloud.Client satisfies it.
type Authenticator interface {
	MintToken(ctx context.Context, creds models.Credentials) (models.AccessToken, error)
	MintTokenMFA(ctx context.Context, mfaToken, otp string, creds models.Credentials) (models.AccessToken, error)
	TokenInfo(ctx context.Context, token string) (models.TokenInfo, error)
	RevokeToken(ctx context.Context, token string) (models.DeleteResponse, error)
}

// TokenStore persists the session token. *tokenstore.Store satisfies it.
type TokenStore interface {
	Save(ctx context.Context, token models.AccessToken) (models.AccessToken, error)
	Load(ctx context.Context) (*models.AccessToken, error)
	Clear(ctx context.Context) error
}

// State is the authentication state.
type State int

const (
	Initializing State = iota
	Unauthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// Snapshot is an immutable view of the session. Token is set only when
// State is Authenticated.
type Snapshot struct {
	State State
	Token *models.AccessToken
}

// EventKind distinguishes session events.
type EventKind int

const (
	// TokenAvailable fires on every transition into Authenticated.
	TokenAvailable EventKind = iota + 1
	// TokenUnavailable fires on every transition out of Authenticated or
	// Initializing into Unauthenticated.
	TokenUnavailable
)

func (k EventKind) String() string {
	switch k {
	case TokenAvailable:
		return "token_available"
	case TokenUnavailable:
		return "token_unavailable"
	}

	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered to subscribers on state transitions.
type Event struct {
	Kind  EventKind
	Token *models.AccessToken
}

// eventBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind misses events.
const eventBuffer = 16

// Session is the authentication state machine.
type Session struct {
	auth   Authenticator
	tokens TokenStore
	logger *slog.Logger
	now    func() time.Time

	// sem serializes state transitions, including their network steps.
	sem  chan struct{}
	snap atomic.Pointer[Snapshot]

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session in the Initializing state. Call Restore to load
// and validate any stored token.
func New(auth Authenticator, tokens TokenStore, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		auth:   auth,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
		sem:    make(chan struct{}, 1),
		subs:   make(map[int]chan Event),
	}

	for _, o := range opts {
		o(s)
	}

	s.snap.Store(&Snapshot{State: Initializing})

	return s
}

// Snapshot returns the current state and token.
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}

// State returns the current state.
func (s *Session) State() State {
	return s.snap.Load().State
}

// CurrentToken returns the current token, or nil when not authenticated.
func (s *Session) CurrentToken() *models.AccessToken {
	return s.snap.Load().Token
}

// Subscribe registers an observer. The returned function unsubscribes
// and closes the channel.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Session) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("session subscriber is full, dropping event",
				slog.String("event", ev.Kind.String()),
			)
		}
	}
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() { <-s.sem }

func (s *Session) setAuthenticated(tok models.AccessToken) {
	s.snap.Store(&Snapshot{State: Authenticated, Token: &tok})

	s.logger.Info("session authenticated", slog.String("token", tok.Fingerprint()))
	s.publish(Event{Kind: TokenAvailable, Token: &tok})
}

func (s *Session) setUnauthenticated() {
	old := s.snap.Swap(&Snapshot{State: Unauthenticated})
	if old.State == Unauthenticated {
		return
	}

	s.logger.Info("session unauthenticated", slog.String("previous", old.State.String()))
	s.publish(Event{Kind: TokenUnavailable})
}

// Restore loads the stored token and validates it. Every failure ends in
// Unauthenticated and is logged, never returned. A token that the server
// rejects or reports expired is cleared and revoked, and so is a blob
// that no longer opens. A token that could not be read or checked
// because the store, network, or server was unavailable stays stored
// for the next attempt. Restore returns an error only when ctx ends first.
func (s *Session) Restore(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	tok, err := s.tokens.Load(ctx)
	if err != nil {
		if apperr.IsCorrupt(err) {
			s.logger.Warn("stored token unreadable, discarding", slog.String("error", err.Error()))
			s.clearLocal(ctx)
		} else {
			s.logger.Warn("could not read stored token", slog.String("error", err.Error()))
		}

		s.setUnauthenticated()

		return nil
	}

	if tok == nil {
		s.logger.Debug("no stored token")
		s.setUnauthenticated()

		return nil
	}

	err = s.validate(ctx, *tok)

	switch {
	case err == nil:
		s.setAuthenticated(*tok)
	case apperr.IsUnavailable(err):
		s.logger.Warn("could not validate stored token", slog.String("error", err.Error()))
		s.setUnauthenticated()
	default:
		s.logger.Info("stored token is no longer valid", slog.String("reason", err.Error()))
		s.invalidate(ctx, *tok)
	}

	return nil
}

// Login validates and persists a token obtained elsewhere.
func (s *Session) Login(ctx context.Context, tok models.AccessToken) (models.AccessToken, error) {
	if err := s.acquire(ctx); err != nil {
		return models.AccessToken{}, err
	}
	defer s.release()

	return s.login(ctx, tok)
}

// LoginWithCredentials mints a token and then behaves as Login. When the
// account requires a second factor and creds carries an OTP, the mint is
// completed with it. Without an OTP the mfa_required ServerError, which
// carries the MFA token, is returned.
func (s *Session) LoginWithCredentials(ctx context.Context, creds models.Credentials) (models.AccessToken, error) {
	if err := s.acquire(ctx); err != nil {
		return models.AccessToken{}, err
	}
	defer s.release()

	tok, err := s.auth.MintToken(ctx, creds)

	var se *apperr.ServerError
	if err != nil && creds.OTP != "" && errors.As(err, &se) && se.Code == cloud.MFARequiredCode {
		s.logger.Debug("second factor required, sending one-time password")
		tok, err = s.auth.MintTokenMFA(ctx, se.MFAToken, creds.OTP, creds)
	}

	if err != nil {
		s.clearLocal(ctx)
		s.setUnauthenticated()

		return models.AccessToken{}, fmt.Errorf("minting token: %w", err)
	}

	return s.login(ctx, tok)
}

// Logout clears the stored token, revokes it remotely, and ends in
// Unauthenticated. A revoke failure is returned after the transition.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	snap := s.snap.Load()
	if snap.State != Authenticated {
		return apperr.NotAuthenticated()
	}

	if err := s.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	_, err := s.auth.RevokeToken(ctx, snap.Token.Value)

	s.setUnauthenticated()

	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}

	return nil
}

func (s *Session) login(ctx context.Context, tok models.AccessToken) (models.AccessToken, error) {
	if tok.Value == "" {
		s.clearLocal(ctx)
		s.setUnauthenticated()

		return models.AccessToken{}, &apperr.AuthError{Err: apperr.ErrInvalidToken}
	}

	if err := s.validate(ctx, tok); err != nil {
		if apperr.IsUnavailable(err) {
			s.clearLocal(ctx)
			s.setUnauthenticated()
		} else {
			s.invalidate(ctx, tok)
		}

		return models.AccessToken{}, fmt.Errorf("validating token: %w", err)
	}

	saved, err := s.tokens.Save(ctx, tok)
	if err != nil {
		s.clearLocal(ctx)
		s.setUnauthenticated()

		return models.AccessToken{}, fmt.Errorf("persisting token: %w", err)
	}

	s.setAuthenticated(saved)

	return saved, nil
}

// validate asks the server for the token's expiry. Valid iff the expiry
// is after now.
func (s *Session) validate(ctx context.Context, tok models.AccessToken) error {
	info, err := s.auth.TokenInfo(ctx, tok.Value)
	if err != nil {
		return err
	}

	if !info.Valid(s.now()) {
		return &apperr.AuthError{Err: fmt.Errorf("%w at %s", apperr.ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))}
	}

	return nil
}

// invalidate is the implicit logout for a rejected token: clear locally,
// revoke remotely on a best-effort basis, end Unauthenticated.
func (s *Session) invalidate(ctx context.Context, tok models.AccessToken) {
	s.clearLocal(ctx)

	if _, err := s.auth.RevokeToken(ctx, tok.Value); err != nil {
		s.logger.Debug("revoking invalid token", slog.String("error", err.Error()))
	}

	s.setUnauthenticated()
}

func (s *Session) clearLocal(ctx context.Context) {
	if err := s.tokens.Clear(ctx); err != nil {
		s.logger.Warn("clearing stored token", slog.String("error", err.Error()))
	}
}
