// Package secretstore models the platform secure store: small secrets in
// named account slots with put/get/delete semantics. Put never
// overwrites; callers delete first, which RoundTrip does for them.
package secretstore

import (
	"context"

	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
)

//go:generate mockgen -destination=mock_store.go -package=secretstore . Store

// Store is a secret store keyed by account identifier.
//
// Put fails with an error matching apperr.ErrDuplicate when the account
// already holds a value. Get returns (nil, nil) for an empty slot.
// Delete succeeds whether or not the slot was occupied.
type Store interface {
	Put(ctx context.Context, account string, data []byte) error
	Get(ctx context.Context, account string) ([]byte, error)
	Delete(ctx context.Context, account string) error
}

// RoundTrip replaces the value in an account slot and reads it back.
// The readback guards against stores whose writes are not immediately
// durable: an empty readback fails with apperr.ErrNotFound.
func RoundTrip(ctx context.Context, s Store, account string, data []byte) ([]byte, error) {
	if err := s.Delete(ctx, account); err != nil {
		return nil, err
	}

	if err := s.Put(ctx, account, data); err != nil {
		return nil, err
	}

	got, err := s.Get(ctx, account)
	if err != nil {
		return nil, err
	}

	if len(got) == 0 {
		return nil, &apperr.StoreError{Op: "roundtrip", Account: account, Err: apperr.ErrNotFound}
	}

	return got, nil
}
