package chainrpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client wraps an ethclient.Client, applying the shared retry policy to
// every call.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to an HTTP(S) or WS JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return &Client{eth: c}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the current chain tip.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return Retry(ctx, func(ctx context.Context) (uint64, error) {
		return c.eth.BlockNumber(ctx)
	})
}

// FilterLogs fetches logs matching the query, with retry.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return Retry(ctx, func(ctx context.Context) ([]types.Log, error) {
		return c.eth.FilterLogs(ctx, q)
	})
}

// HeaderByNumber fetches a block header, with retry. A nil number means
// "latest".
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return Retry(ctx, func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, number)
	})
}

// TransactionReceipt fetches a transaction receipt, with retry.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return Retry(ctx, func(ctx context.Context) (*types.Receipt, error) {
		return c.eth.TransactionReceipt(ctx, txHash)
	})
}

// SubscribeNewHead subscribes to new block headers over a WebSocket
// connection. Not retried: callers fall back to polling on subscribe
// failure.
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.eth.SubscribeNewHead(ctx, ch)
}
