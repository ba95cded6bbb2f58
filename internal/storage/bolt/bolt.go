package bolt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/bark-labs/bark-push-sdk/internal/storage"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	_ storage.Storage           = (*Store)(nil)
	_ storage.RegistrationStore = (*Store)(nil)
)

var (
	bucketKV            = []byte("kv")
	bucketRegistrations = []byte("registrations")
)

// Store is a BoltDB-backed Storage and RegistrationStore implementation.
type Store struct {
	db *bolt.DB
}

// New initialises the Bolt store.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create store dir")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt db %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKV); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketRegistrations)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	return &Store{db: db}, nil
}

// Close closes underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		// bolt values are only valid for the life of the transaction
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
}

// UpsertRegistration stores or updates a registration record.
func (s *Store) UpsertRegistration(ctx context.Context, reg *model.Registration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now
	payload, err := json.Marshal(reg)
	if err != nil {
		return errors.Wrap(err, "encode registration")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistrations).Put([]byte(reg.DeviceID), payload)
	})
}

// GetRegistration fetches a registration by device id.
func (s *Store) GetRegistration(ctx context.Context, deviceID string) (*model.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var reg *model.Registration
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRegistrations).Get([]byte(deviceID))
		if v == nil {
			return storage.ErrNotFound
		}
		reg = &model.Registration{}
		return json.Unmarshal(v, reg)
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// DeleteRegistration removes a registration. Missing records report ErrNotFound.
func (s *Store) DeleteRegistration(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketRegistrations)
		if bkt.Get([]byte(deviceID)) == nil {
			return storage.ErrNotFound
		}
		return bkt.Delete([]byte(deviceID))
	})
}

// ListRegistrations returns all registrations ordered by device id.
func (s *Store) ListRegistrations(ctx context.Context) ([]*model.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var regs []*model.Registration
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistrations).ForEach(func(_, v []byte) error {
			var reg model.Registration
			if err := json.Unmarshal(v, &reg); err != nil {
				return errors.Wrap(err, "decode registration")
			}
			regs = append(regs, &reg)
			return nil
		})
	})
	return regs, err
}
