package model

// RawEvent is a ledger event as returned by the node, before decoding.
// Keys[0] is the event selector; Keys and Data hold felts in hex form.
type RawEvent struct {
	BlockNumber     uint64   `json:"block_number"`
	BlockHash       string   `json:"block_hash"`
	TransactionHash string   `json:"transaction_hash"`
	FromAddress     string   `json:"from_address"`
	Keys            []string `json:"keys"`
	Data            []string `json:"data"`
}

// Selector returns Keys[0], or "" when the event has no keys.
func (e RawEvent) Selector() string {
	if len(e.Keys) == 0 {
		return ""
	}
	return e.Keys[0]
}
