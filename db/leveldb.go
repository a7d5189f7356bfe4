package db

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB wraps the actual LevelDB connection
type LevelDB struct {
	conn *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB instance at the given path
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}
	return &LevelDB{conn: db}, nil
}

// Close safely closes the LevelDB connection
func (l *LevelDB) Close() error {
	return l.conn.Close()
}

// Put inserts or updates a key-value pair. The write is synced before returning.
func (l *LevelDB) Put(key, value []byte) error {
	return l.conn.Put(key, value, &opt.WriteOptions{Sync: true})
}

// Get retrieves the value for a given key
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.conn.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes a key. Deleting a missing key is not an error.
func (l *LevelDB) Delete(key []byte) error {
	return l.conn.Delete(key, &opt.WriteOptions{Sync: true})
}

// Last returns the entry with the highest key
func (l *LevelDB) Last() ([]byte, []byte, error) {
	iter := l.conn.NewIterator(nil, nil)
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrNotFound
	}
	return copyBytes(iter.Key()), copyBytes(iter.Value()), nil
}

// Iterate walks all key-value pairs in key order until fn returns false
func (l *LevelDB) Iterate(fn func(key, value []byte) bool) error {
	iter := l.conn.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		if !fn(copyBytes(iter.Key()), copyBytes(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

// iterator buffers are reused between steps
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
