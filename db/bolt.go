package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("entries")

// BoltDB stores everything in one bucket of a bbolt file
type BoltDB struct {
	conn *bolt.DB
}

// NewBoltDB opens (or creates) the bolt file at path, creating parent directories
func NewBoltDB(path string) (*BoltDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt: %w", err)
	}
	err = conn.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create bolt bucket: %w", err)
	}
	return &BoltDB{conn: conn}, nil
}

func (b *BoltDB) Close() error {
	return b.conn.Close()
}

func (b *BoltDB) Put(key, value []byte) error {
	return b.conn.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.conn.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		value = copyBytes(v)
		return nil
	})
	return value, err
}

func (b *BoltDB) Delete(key []byte) error {
	return b.conn.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

func (b *BoltDB) Last() ([]byte, []byte, error) {
	var key, value []byte
	err := b.conn.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(boltBucket).Cursor().Last()
		if k == nil {
			return ErrNotFound
		}
		key, value = copyBytes(k), copyBytes(v)
		return nil
	})
	return key, value, err
}

func (b *BoltDB) Iterate(fn func(key, value []byte) bool) error {
	return b.conn.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !fn(copyBytes(k), copyBytes(v)) {
				return nil
			}
		}
		return nil
	})
}
