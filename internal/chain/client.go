package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rpc"

	"paysync/internal/felt"
)

// Client is a read-only Starknet JSON-RPC client built on go-ethereum's rpc
// transport.
type Client struct {
	rpcClient *rpc.Client
}

// NewClient dials the node at rpcURL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return NewClientFromRPC(rpcClient), nil
}

// NewClientFromRPC wraps an existing rpc client, e.g. an in-process one.
func NewClientFromRPC(rpcClient *rpc.Client) *Client {
	return &Client{rpcClient: rpcClient}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain id felt.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := c.rpcClient.CallContext(ctx, &raw, "starknet_chainId"); err != nil {
		return nil, err
	}
	id, err := felt.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return id, nil
}

// LatestBlock returns the hash and height of the latest accepted block.
func (c *Client) LatestBlock(ctx context.Context) (BlockRef, error) {
	var ref BlockRef
	if err := c.rpcClient.CallContext(ctx, &ref, "starknet_blockHashAndNumber"); err != nil {
		return BlockRef{}, err
	}
	return ref, nil
}

// GetEvents returns a single page of events matching filter.
func (c *Client) GetEvents(ctx context.Context, filter EventFilter) (EventsPage, error) {
	if filter.Keys == nil {
		filter.Keys = [][]string{}
	}
	var page EventsPage
	if err := c.rpcClient.CallContext(ctx, &page, "starknet_getEvents", filter); err != nil {
		return EventsPage{}, err
	}
	return page, nil
}
