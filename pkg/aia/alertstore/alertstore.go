// Package alertstore implements the alert-persistence collaborator
// (size/load/load_alert/store_alert/delete_alert) over an embedded bbolt
// database, so the alert manager's list survives a restart.
package alertstore

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("alerts")

// Token identifies an alert; fixed at 8 bytes.
type Token [8]byte

// Record is one persisted alert.
type Record struct {
	Token         Token
	ScheduledTime uint64 // NTP epoch seconds
	DurationMs    uint32
	Kind          uint8
}

const recordValueSize = 8 + 4 + 1 // scheduledTime | durationMs | kind

// Store wraps a bbolt database holding one bucket of token -> record.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures the
// alert bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("alertstore: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("alertstore: creating bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Size reports the number of persisted alerts.
func (s *Store) Size() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("alertstore: size: %w", err)
	}
	return n, nil
}

// Load returns every persisted alert, in key (token) order.
func (s *Store) Load() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := decodeRecord(k, v)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("alertstore: load: %w", err)
	}
	return records, nil
}

// LoadAlert returns the cursor-th alert in key order, or ok=false if
// cursor is out of range.
func (s *Store) LoadAlert(cursor int) (rec Record, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		i := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if i == cursor {
				rec, err = decodeRecord(k, v)
				ok = err == nil
				return err
			}
			i++
		}
		return nil
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("alertstore: load_alert(%d): %w", cursor, err)
	}
	return rec, ok, nil
}

// StoreAlert upserts a record keyed by its token.
func (s *Store) StoreAlert(rec Record) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(rec.Token[:], encodeRecord(rec))
	})
	if err != nil {
		return fmt.Errorf("alertstore: store_alert: %w", err)
	}
	return nil
}

// DeleteAlert removes a record by token. A no-op if the token is absent.
func (s *Store) DeleteAlert(token Token) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(token[:])
	})
	if err != nil {
		return fmt.Errorf("alertstore: delete_alert: %w", err)
	}
	return nil
}

func encodeRecord(rec Record) []byte {
	buf := make([]byte, recordValueSize)
	binary.LittleEndian.PutUint64(buf[0:8], rec.ScheduledTime)
	binary.LittleEndian.PutUint32(buf[8:12], rec.DurationMs)
	buf[12] = rec.Kind
	return buf
}

func decodeRecord(key, value []byte) (Record, error) {
	if len(key) != 8 {
		return Record{}, fmt.Errorf("alertstore: corrupt key length %d", len(key))
	}
	if len(value) != recordValueSize {
		return Record{}, fmt.Errorf("alertstore: corrupt value length %d", len(value))
	}
	var tok Token
	copy(tok[:], key)
	return Record{
		Token:         tok,
		ScheduledTime: binary.LittleEndian.Uint64(value[0:8]),
		DurationMs:    binary.LittleEndian.Uint32(value[8:12]),
		Kind:          value[12],
	}, nil
}
