package chain

import (
	"fmt"

	"go.uber.org/zap"

	"star-notary/logger"
	"star-notary/models"
)

// ValidateBlock recomputes the hash of the block at height h
func (c *BlockChain) ValidateBlock(h int64) (bool, error) {
	block, err := c.GetByHeight(h)
	if err != nil {
		return false, err
	}
	return selfConsistent(block)
}

func selfConsistent(b *models.Block) (bool, error) {
	hash, err := b.ComputeHash()
	if err != nil {
		return false, err
	}
	return hash == b.Hash, nil
}

// ValidateChain walks the whole chain and returns the heights of blocks whose
// hash does not match their content, whose link to the predecessor is broken,
// or which sit after a gap.
func (c *BlockChain) ValidateChain() ([]int64, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	bad := []int64{}
	var prev *models.Block
	var walkErr error
	err := c.repo.ForEachBlock(func(b *models.Block) bool {
		ok, err := selfConsistent(b)
		if err != nil {
			walkErr = err
			return false
		}
		switch {
		case !ok:
			bad = append(bad, b.Height)
		case prev == nil && (b.Height != 0 || b.PreviousBlockHash != ""):
			bad = append(bad, b.Height)
		case prev != nil && (b.Height != prev.Height+1 || b.PreviousBlockHash != prev.Hash):
			bad = append(bad, b.Height)
		}
		prev = b
		return true
	})
	if err == nil {
		err = walkErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if len(bad) > 0 {
		logger.Logger.Warn("Chain validation found errors", zap.Int64s("heights", bad))
	}
	return bad, nil
}
