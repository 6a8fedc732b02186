package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysync/internal/chain"
)

func TestFetcherPagesThroughContinuationTokens(t *testing.T) {
	ledger := &fakeLedger{}
	for i := 0; i < 25; i++ {
		ledger.events = append(ledger.events, emittedOther(uint64(100+i), fmt.Sprintf("0x%x", i)))
	}
	fetcher := NewFetcher(ledger, FetcherConfig{ChunkSize: 10, RetryBackoff: time.Millisecond})

	got, err := fetcher.Fetch(context.Background(), "0x1", BlockRange{From: 100, To: 200})
	require.NoError(t, err)
	require.Len(t, got, 25)
	for i, ev := range got {
		assert.Equal(t, uint64(100+i), ev.BlockNumber)
	}

	require.Len(t, ledger.filters, 3)
	assert.Equal(t, "", ledger.filters[0].ContinuationToken)
	assert.Equal(t, "10", ledger.filters[1].ContinuationToken)
	assert.Equal(t, "20", ledger.filters[2].ContinuationToken)
	for _, f := range ledger.filters {
		assert.Equal(t, chain.BlockNumber(100), f.FromBlock)
		assert.Equal(t, chain.BlockNumber(200), f.ToBlock)
		assert.Equal(t, "0x1", f.Address)
		assert.Equal(t, 10, f.ChunkSize)
	}
}

func TestFetcherEmptyRange(t *testing.T) {
	ledger := &fakeLedger{}
	fetcher := NewFetcher(ledger, FetcherConfig{ChunkSize: 10})

	got, err := fetcher.Fetch(context.Background(), "0x1", BlockRange{From: 1, To: 2})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, ledger.filters, 1)
}

func TestFetcherRetriesTransientErrors(t *testing.T) {
	ledger := &fakeLedger{failures: 2, events: []chain.EmittedEvent{emittedOther(5, "0xa")}}
	fetcher := NewFetcher(ledger, FetcherConfig{ChunkSize: 10, MaxRetries: 2, RetryBackoff: time.Millisecond})

	got, err := fetcher.Fetch(context.Background(), "0x1", BlockRange{From: 1, To: 10})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Len(t, ledger.filters, 3)
}

func TestFetcherFailsAfterRetries(t *testing.T) {
	ledger := &fakeLedger{eventsErr: errors.New("node down")}
	fetcher := NewFetcher(ledger, FetcherConfig{ChunkSize: 10, MaxRetries: 1, RetryBackoff: time.Millisecond})

	got, err := fetcher.Fetch(context.Background(), "0x1", BlockRange{From: 1, To: 10})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "node down")
	assert.Len(t, ledger.filters, 2)
}

func TestFetcherRejectsRepeatedToken(t *testing.T) {
	ledger := &fakeLedger{repeatToken: true}
	fetcher := NewFetcher(ledger, FetcherConfig{ChunkSize: 10, PagesPerSecond: 1000})

	_, err := fetcher.Fetch(context.Background(), "0x1", BlockRange{From: 1, To: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated")
	assert.Len(t, ledger.filters, 2)
}

func TestFetcherTip(t *testing.T) {
	ledger := &fakeLedger{tip: 77}
	fetcher := NewFetcher(ledger, FetcherConfig{})

	tip, err := fetcher.Tip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(77), tip)

	ledger.tipErr = errors.New("down")
	_, err = fetcher.Tip(context.Background())
	require.Error(t, err)
}
