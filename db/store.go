package db

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get and Last when there is nothing to return.
var ErrNotFound = errors.New("db: key not found")

// Store is an ordered key-value store with a single local writer.
// Iterate and Last follow bytewise key order.
type Store interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Last() (key, value []byte, err error)
	Iterate(fn func(key, value []byte) bool) error
	Close() error
}

const (
	EngineLevelDB = "leveldb"
	EngineBolt    = "bolt"
	EngineBadger  = "badger"
)

// Open opens (or creates) a store of the given engine at path
func Open(engine, path string) (Store, error) {
	switch engine {
	case "", EngineLevelDB:
		return NewLevelDB(path)
	case EngineBolt:
		return NewBoltDB(path)
	case EngineBadger:
		return NewBadgerDB(path)
	default:
		return nil, fmt.Errorf("db: unknown engine %q", engine)
	}
}
