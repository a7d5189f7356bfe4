package chain

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"star-notary/logger"
	"star-notary/models"
	"star-notary/repository"
)

var (
	ErrNotFound = repository.ErrNotFound
	// ErrBrokenChain means the predecessor of a new block could not be read
	ErrBrokenChain = errors.New("broken chain: previous block missing")
	// ErrStoreFailure wraps storage I/O errors
	ErrStoreFailure = errors.New("store failure")
)

// BlockChain is a linear, hash-linked log of blocks with a single local writer.
type BlockChain struct {
	repo repository.BlockRepositoryInterface
	// held exclusively for the whole append sequence
	mux deadlock.RWMutex
	now func() time.Time
}

type Option func(*BlockChain)

// WithClock overrides the time source used to stamp blocks
func WithClock(now func() time.Time) Option {
	return func(c *BlockChain) { c.now = now }
}

func NewBlockChain(repo repository.BlockRepositoryInterface, opts ...Option) *BlockChain {
	c := &BlockChain{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize writes the genesis block if the chain is empty
func (c *BlockChain) Initialize() error {
	c.mux.Lock()
	defer c.mux.Unlock()

	height, err := c.height()
	if err != nil {
		return err
	}
	if height >= 0 {
		logger.Logger.Info("Chain loaded", zap.Int64("height", height))
		return nil
	}
	genesis, err := c.appendLocked(models.BlockBody{})
	if err != nil {
		return err
	}
	logger.Logger.Info("Genesis block added", zap.String("hash", genesis.Hash))
	return nil
}

// Height returns the height of the last stored block, or -1 for an empty chain
func (c *BlockChain) Height() (int64, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.height()
}

func (c *BlockChain) height() (int64, error) {
	last, err := c.repo.LastBlock()
	if errors.Is(err, repository.ErrNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return last.Height, nil
}

// Append links body to the current tip and persists it as a new block
func (c *BlockChain) Append(body models.BlockBody) (*models.Block, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.appendLocked(body)
}

func (c *BlockChain) appendLocked(body models.BlockBody) (*models.Block, error) {
	height, err := c.height()
	if err != nil {
		return nil, err
	}

	block := &models.Block{
		Height: height + 1,
		Body:   body,
		Time:   strconv.FormatInt(c.now().Unix(), 10),
	}
	if block.Body.Star != nil {
		star := *block.Body.Star
		star.StoryDecoded = ""
		block.Body.Star = &star
	}

	if block.Height > 0 {
		prev, err := c.repo.GetBlock(block.Height - 1)
		if errors.Is(err, repository.ErrNotFound) {
			logger.Logger.Error("Previous block missing during append",
				zap.Int64("height", block.Height))
			return nil, fmt.Errorf("%w: height %d", ErrBrokenChain, block.Height-1)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		block.PreviousBlockHash = prev.Hash
	}

	block.Hash, err = block.ComputeHash()
	if err != nil {
		return nil, err
	}
	if err := c.repo.PutBlock(block); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	logger.Logger.Debug("Block appended",
		zap.Int64("height", block.Height), zap.String("hash", block.Hash))
	return block, nil
}

// GetByHeight returns the stored block at height h
func (c *BlockChain) GetByHeight(h int64) (*models.Block, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.repo.GetBlock(h)
}

// GetByHash returns the first block, in height order, whose hash matches
func (c *BlockChain) GetByHash(hash string) (*models.Block, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	var found *models.Block
	err := c.repo.ForEachBlock(func(b *models.Block) bool {
		if b.Hash == hash {
			found = b
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	decorate(found)
	return found, nil
}

// GetByAddress returns every block registered by address. It never returns
// nil for a miss.
func (c *BlockChain) GetByAddress(address string) ([]*models.Block, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	blocks := []*models.Block{}
	err := c.repo.ForEachBlock(func(b *models.Block) bool {
		if b.Body.Star != nil && b.Body.Address == address {
			decorate(b)
			blocks = append(blocks, b)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return blocks, nil
}

func decorate(b *models.Block) {
	if err := b.DecodeStory(); err != nil {
		logger.Logger.Warn("Stored story is not valid hex",
			zap.Int64("height", b.Height), zap.Error(err))
	}
}
