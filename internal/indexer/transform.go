package indexer

import (
	"strings"

	"paysync/internal/chain"
	"paysync/internal/model"
)

func toRawEvent(ev chain.EmittedEvent) model.RawEvent {
	return model.RawEvent{
		BlockNumber:     ev.BlockNumber,
		BlockHash:       strings.ToLower(ev.BlockHash),
		TransactionHash: strings.ToLower(ev.TransactionHash),
		FromAddress:     strings.ToLower(ev.FromAddress),
		Keys:            ev.Keys,
		Data:            ev.Data,
	}
}
