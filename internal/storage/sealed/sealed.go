// Package sealed encrypts every value before handing it to another Storage.
package sealed

import (
	"context"
	"fmt"

	"github.com/bark-labs/bark-push-sdk/internal/crypto"
	"github.com/bark-labs/bark-push-sdk/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

// Store wraps a Storage with the AES-CBC envelope.
type Store struct {
	next   storage.Storage
	params *crypto.CipherParams
}

// New wraps next; key must be 16 or 32 bytes.
func New(next storage.Storage, key []byte) (*Store, error) {
	params, err := crypto.NewCipherParams(key)
	if err != nil {
		return nil, err
	}
	return &Store{next: next, params: params}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := crypto.Decrypt(s.params, sealed)
	if err != nil {
		return nil, fmt.Errorf("unseal %s: %w", key, err)
	}
	return plain, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := crypto.Encrypt(s.params, value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.next.Set(ctx, key, sealed)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.next.Delete(ctx, key)
}

func (s *Store) Close() error {
	return s.next.Close()
}
