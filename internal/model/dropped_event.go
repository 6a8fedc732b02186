package model

// DroppedEvent records an event that was not applied, for the dead-letter file.
type DroppedEvent struct {
	BlockNumber     uint64   `json:"block_number"`
	TransactionHash string   `json:"transaction_hash"`
	Kind            string   `json:"kind"`
	Outcome         string   `json:"outcome"`
	Reason          string   `json:"reason"`
	Keys            []string `json:"keys"`
	Data            []string `json:"data"`
	DroppedAt       string   `json:"dropped_at"`
}
