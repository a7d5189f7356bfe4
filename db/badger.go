package db

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
)

// BadgerDB wraps a badger instance. Writes use SyncWrites.
type BadgerDB struct {
	conn *badger.DB
}

func NewBadgerDB(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil).WithSyncWrites(true)
	conn, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerDB{conn: conn}, nil
}

func (b *BadgerDB) Close() error {
	return b.conn.Close()
}

func (b *BadgerDB) Put(key, value []byte) error {
	return b.conn.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.conn.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (b *BadgerDB) Delete(key []byte) error {
	return b.conn.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *BadgerDB) Last() ([]byte, []byte, error) {
	var key, value []byte
	err := b.conn.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if !it.Valid() {
			return ErrNotFound
		}
		item := it.Item()
		key = item.KeyCopy(nil)
		var err error
		value, err = item.ValueCopy(nil)
		return err
	})
	return key, value, err
}

func (b *BadgerDB) Iterate(fn func(key, value []byte) bool) error {
	return b.conn.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), value) {
				return nil
			}
		}
		return nil
	})
}
