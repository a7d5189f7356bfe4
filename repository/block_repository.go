package repository

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"star-notary/db"
	"star-notary/models"
)

// ErrNotFound is returned for any lookup miss
var ErrNotFound = db.ErrNotFound

// It abstracts the block storage from the chain logic
type BlockRepositoryInterface interface {
	PutBlock(block *models.Block) error
	GetBlock(height int64) (*models.Block, error)
	LastBlock() (*models.Block, error)
	ForEachBlock(fn func(block *models.Block) bool) error
}

// BlockRepository keeps blocks in a store keyed by big-endian height
type BlockRepository struct {
	db db.Store
}

// NewBlockRepository creates and returns a new BlockRepository instance
func NewBlockRepository(store db.Store) *BlockRepository {
	return &BlockRepository{db: store}
}

func heightKey(height int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(height))
	return key
}

// PutBlock stores a block under its height
func (r *BlockRepository) PutBlock(block *models.Block) error {
	if block.Height < 0 {
		return fmt.Errorf("negative block height %d", block.Height)
	}
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	return r.db.Put(heightKey(block.Height), data)
}

// GetBlock retrieves the block at the given height
func (r *BlockRepository) GetBlock(height int64) (*models.Block, error) {
	if height < 0 {
		return nil, ErrNotFound
	}
	data, err := r.db.Get(heightKey(height))
	if err != nil {
		return nil, err
	}
	return decodeBlock(data)
}

// LastBlock retrieves the block with the highest height
func (r *BlockRepository) LastBlock() (*models.Block, error) {
	_, data, err := r.db.Last()
	if err != nil {
		return nil, err
	}
	return decodeBlock(data)
}

// ForEachBlock walks blocks in height order until fn returns false
func (r *BlockRepository) ForEachBlock(fn func(block *models.Block) bool) error {
	var decodeErr error
	err := r.db.Iterate(func(key, value []byte) bool {
		block, err := decodeBlock(value)
		if err != nil {
			decodeErr = err
			return false
		}
		return fn(block)
	})
	return errors.Join(err, decodeErr)
}

func decodeBlock(data []byte) (*models.Block, error) {
	var block models.Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, err
	}
	return &block, nil
}
