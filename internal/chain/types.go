package chain

import (
	"encoding/json"
	"fmt"
)

// BlockID selects a block either by number or by tag ("latest", "pending").
type BlockID struct {
	Number uint64
	Tag    string
}

// BlockNumber returns a BlockID for the given height.
func BlockNumber(number uint64) BlockID {
	return BlockID{Number: number}
}

type blockNumberID struct {
	BlockNumber uint64 `json:"block_number"`
}

func (b BlockID) MarshalJSON() ([]byte, error) {
	if b.Tag != "" {
		return json.Marshal(b.Tag)
	}
	return json.Marshal(blockNumberID{BlockNumber: b.Number})
}

func (b *BlockID) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		*b = BlockID{Tag: tag}
		return nil
	}
	var id blockNumberID
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("decode block id: %w", err)
	}
	*b = BlockID{Number: id.BlockNumber}
	return nil
}

// EventFilter is the starknet_getEvents request: an event filter plus a page
// request. Keys is a list of alternatives per position; empty matches all.
type EventFilter struct {
	FromBlock         BlockID    `json:"from_block"`
	ToBlock           BlockID    `json:"to_block"`
	Address           string     `json:"address,omitempty"`
	Keys              [][]string `json:"keys"`
	ChunkSize         int        `json:"chunk_size"`
	ContinuationToken string     `json:"continuation_token,omitempty"`
}

// EmittedEvent is one event in a getEvents page.
type EmittedEvent struct {
	FromAddress     string   `json:"from_address"`
	Keys            []string `json:"keys"`
	Data            []string `json:"data"`
	BlockHash       string   `json:"block_hash"`
	BlockNumber     uint64   `json:"block_number"`
	TransactionHash string   `json:"transaction_hash"`
}

// EventsPage is one page of getEvents results. An empty ContinuationToken
// marks the last page.
type EventsPage struct {
	Events            []EmittedEvent `json:"events"`
	ContinuationToken string         `json:"continuation_token,omitempty"`
}

// BlockRef identifies a block by hash and height.
type BlockRef struct {
	Hash   string `json:"block_hash"`
	Number uint64 `json:"block_number"`
}
