// Package volumestore implements the boot-volume load/store collaborator
// (load_volume), backed by the same embedded bbolt database family as
// pkg/aia/alertstore.
package volumestore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketName = []byte("volume")
	volumeKey  = []byte("speaker")
)

// DefaultVolume is returned by LoadVolume when no value has ever been
// stored (first boot).
const DefaultVolume uint8 = 50

// Store wraps a bbolt database holding a single persisted speaker volume.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures the
// volume bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("volumestore: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("volumestore: creating bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadVolume returns the persisted boot volume, or DefaultVolume if none
// has ever been stored.
func (s *Store) LoadVolume() (uint8, error) {
	v := DefaultVolume
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get(volumeKey)
		if raw != nil {
			v = raw[0]
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("volumestore: load_volume: %w", err)
	}
	return v, nil
}

// StoreVolume persists the current speaker volume so the next boot's
// LoadVolume reflects it.
func (s *Store) StoreVolume(v uint8) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(volumeKey, []byte{v})
	})
	if err != nil {
		return fmt.Errorf("volumestore: store_volume: %w", err)
	}
	return nil
}
