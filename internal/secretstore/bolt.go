package secretstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	// storeDirPerm is the permission mode for the state directory.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the secrets database file.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt database lock.
	storeOpenTimeout = 5 * time.Second

	// FileName is the secrets database name inside the state directory.
	FileName = "secrets.db"
)

// BoltStore keeps secrets in a bbolt database, one bucket per service
// so several installations can share a file without colliding.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens (creating if needed) the secrets database at path and
// ensures the service bucket exists.
func OpenBolt(path, service string) (*BoltStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service name must not be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening secrets db: %w", err)
	}

	bucket := []byte("service:" + service)

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing secrets db: %w", err)
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put stores data under account. Fails with ErrDuplicate when occupied.
func (s *BoltStore) Put(ctx context.Context, account string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return &apperr.StoreError{Op: "put", Account: account, Err: err}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(account)) != nil {
			return apperr.ErrDuplicate
		}

		return b.Put([]byte(account), data)
	})
	if err != nil {
		return &apperr.StoreError{Op: "put", Account: account, Err: err}
	}

	return nil
}

// Get returns a copy of the value under account, or nil when empty.
func (s *BoltStore) Get(ctx context.Context, account string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &apperr.StoreError{Op: "get", Account: account, Err: err}
	}

	var out []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(account))
		if v != nil {
			// bolt values are only valid for the life of the transaction.
			out = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return nil, &apperr.StoreError{Op: "get", Account: account, Err: err}
	}

	return out, nil
}

// Delete removes the value under account. Deleting an empty slot is a no-op.
func (s *BoltStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return &apperr.StoreError{Op: "delete", Account: account, Err: err}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(account))
	})
	if err != nil {
		return &apperr.StoreError{Op: "delete", Account: account, Err: err}
	}

	return nil
}
