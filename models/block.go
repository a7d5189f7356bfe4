package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Star is the registered star metadata. Story is stored hex-encoded;
// StoryDecoded is filled in on reads and never persisted.
type Star struct {
	RA           string `json:"ra"`
	Dec          string `json:"dec"`
	Mag          string `json:"mag,omitempty"`
	Cen          string `json:"cen,omitempty"`
	Story        string `json:"story"`
	StoryDecoded string `json:"storyDecoded,omitempty"`
}

// BlockBody is the payload of a block. The genesis block has no star.
type BlockBody struct {
	Address string `json:"address,omitempty"`
	Star    *Star  `json:"star,omitempty"`
}

type Block struct {
	Hash              string    `json:"hash"`
	Height            int64     `json:"height"`
	Body              BlockBody `json:"body"`
	Time              string    `json:"time"`
	PreviousBlockHash string    `json:"previousBlockHash,omitempty"`
}

// ComputeHash returns the hex sha256 of the block's JSON form with the hash
// and any decoded story left out.
func (b *Block) ComputeHash() (string, error) {
	c := *b
	c.Hash = ""
	if b.Body.Star != nil {
		star := *b.Body.Star
		star.StoryDecoded = ""
		c.Body.Star = &star
	}
	data, err := json.Marshal(&c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// DecodeStory fills StoryDecoded from the hex story. Blocks without a star
// are left alone.
func (b *Block) DecodeStory() error {
	if b.Body.Star == nil {
		return nil
	}
	raw, err := hex.DecodeString(b.Body.Star.Story)
	if err != nil {
		return err
	}
	b.Body.Star.StoryDecoded = string(raw)
	return nil
}
