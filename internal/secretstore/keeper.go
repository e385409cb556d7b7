package secretstore

import (
	"context"
	"fmt"

	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	"gocloud.dev/secrets"

	// Keeper drivers selectable by SECRET_KEEPER_URL.
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/localsecrets"
)

// KeeperStore seals every value with a gocloud secrets.Keeper before it
// reaches the wrapped Store. The wrapped store never sees plaintext, so
// the local key blob is only usable together with the KMS key.
type KeeperStore struct {
	inner  Store
	keeper *secrets.Keeper
}

var _ Store = (*KeeperStore)(nil)

// NewKeeperStore wraps inner with an already opened keeper.
func NewKeeperStore(inner Store, keeper *secrets.Keeper) *KeeperStore {
	return &KeeperStore{inner: inner, keeper: keeper}
}

// OpenKeeperStore opens the keeper at keeperURL and wraps inner with it.
// Supports: base64key://, awskms://, gcpkms://, azurekeyvault://
func OpenKeeperStore(ctx context.Context, inner Store, keeperURL string) (*KeeperStore, error) {
	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, fmt.Errorf("opening secret keeper: %w", err)
	}

	return NewKeeperStore(inner, keeper), nil
}

// Close releases the keeper. The wrapped store is left open.
func (k *KeeperStore) Close() error {
	return k.keeper.Close()
}

func (k *KeeperStore) Put(ctx context.Context, account string, data []byte) error {
	sealed, err := k.keeper.Encrypt(ctx, data)
	if err != nil {
		return &apperr.CryptoError{Op: "keeper-seal", Err: fmt.Errorf("sealing %q with keeper: %w", account, err)}
	}

	return k.inner.Put(ctx, account, sealed)
}

func (k *KeeperStore) Get(ctx context.Context, account string) ([]byte, error) {
	sealed, err := k.inner.Get(ctx, account)
	if err != nil || sealed == nil {
		return nil, err
	}

	data, err := k.keeper.Decrypt(ctx, sealed)
	if err != nil {
		return nil, &apperr.CryptoError{Op: "keeper-open", Err: fmt.Errorf("opening %q with keeper: %w", account, err)}
	}

	return data, nil
}

func (k *KeeperStore) Delete(ctx context.Context, account string) error {
	return k.inner.Delete(ctx, account)
}
