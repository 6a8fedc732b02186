package indexer

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"sync"

	"paysync/internal/chain"
	"paysync/internal/events"
	"paysync/internal/felt"
)

// fakeLedger serves a fixed event list, paginated by chunk size with numeric
// continuation tokens.
type fakeLedger struct {
	mu          sync.Mutex
	tip         uint64
	tipErr      error
	events      []chain.EmittedEvent
	eventsErr   error
	failures    int
	failFrom    map[uint64]error
	repeatToken bool
	filters     []chain.EventFilter
	tipReads    int
}

func (l *fakeLedger) LatestBlock(context.Context) (chain.BlockRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tipReads++
	if l.tipErr != nil {
		return chain.BlockRef{}, l.tipErr
	}
	return chain.BlockRef{Hash: "0xhash", Number: l.tip}, nil
}

func (l *fakeLedger) GetEvents(_ context.Context, filter chain.EventFilter) (chain.EventsPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filters = append(l.filters, filter)

	if l.eventsErr != nil {
		return chain.EventsPage{}, l.eventsErr
	}
	if l.failures > 0 {
		l.failures--
		return chain.EventsPage{}, errors.New("transient")
	}
	if err := l.failFrom[filter.FromBlock.Number]; err != nil {
		return chain.EventsPage{}, err
	}

	var matched []chain.EmittedEvent
	for _, ev := range l.events {
		if ev.BlockNumber >= filter.FromBlock.Number && ev.BlockNumber <= filter.ToBlock.Number {
			matched = append(matched, ev)
		}
	}

	offset := 0
	if filter.ContinuationToken != "" && !l.repeatToken {
		var err error
		if offset, err = strconv.Atoi(filter.ContinuationToken); err != nil {
			return chain.EventsPage{}, err
		}
	}
	end := offset + filter.ChunkSize
	if end > len(matched) {
		end = len(matched)
	}

	page := chain.EventsPage{Events: matched[offset:end]}
	if end < len(matched) {
		page.ContinuationToken = strconv.Itoa(end)
	}
	if l.repeatToken {
		page.ContinuationToken = "again"
	}
	return page, nil
}

func (l *fakeLedger) set(fn func(l *fakeLedger)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l)
}

func (l *fakeLedger) lastFilter() chain.EventFilter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filters[len(l.filters)-1]
}

func (l *fakeLedger) filterCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.filters)
}

func (l *fakeLedger) tipCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tipReads
}

func hexInt(v int64) string {
	return felt.Hex(big.NewInt(v))
}

func emittedCreated(block uint64, tx string, paymentID int64, metadata string, amount int64) chain.EmittedEvent {
	return chain.EmittedEvent{
		FromAddress:     "0x1",
		BlockNumber:     block,
		TransactionHash: tx,
		Keys:            []string{events.Selectors()[events.NamePaymentCreated], hexInt(paymentID), "0x0", "0x111", "0x222"},
		Data:            []string{hexInt(amount), "0x0", metadata, "0x65f0a000"},
	}
}

func emittedCompleted(block uint64, tx string, paymentID, amount, fee int64) chain.EmittedEvent {
	return chain.EmittedEvent{
		FromAddress:     "0x1",
		BlockNumber:     block,
		TransactionHash: tx,
		Keys:            []string{events.Selectors()[events.NamePaymentCompleted], hexInt(paymentID), "0x0", "0x111"},
		Data:            []string{hexInt(amount), "0x0", hexInt(fee), "0x0", "0x65f0b000"},
	}
}

func emittedOther(block uint64, tx string) chain.EmittedEvent {
	return chain.EmittedEvent{
		FromAddress:     "0x1",
		BlockNumber:     block,
		TransactionHash: tx,
		Keys:            []string{felt.Hex(felt.Selector("Transfer"))},
	}
}
