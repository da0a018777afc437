package solana

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// realRPCClient adapts the solana-go RPC client to our RPCClient interface.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client: rpc.New(rpcURL),
	}
}

func (r *realRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return r.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

func (r *realRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	return r.client.GetTransaction(ctx, signature, opts)
}

func (r *realRPCClient) GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	out, err := r.client.GetAccountInfo(ctx, account)
	if err != nil {
		return nil, err
	}
	return out.GetBinary(), nil
}

// AccountStream is a live account subscription.
type AccountStream interface {
	Recv(ctx context.Context) (*ws.AccountResult, error)
	Unsubscribe()
}

// StreamDialer opens an account subscription.
type StreamDialer interface {
	AccountSubscribe(ctx context.Context, account solana.PublicKey) (AccountStream, error)
}

// wsDialer shares one websocket connection across subscriptions and
// reconnects lazily after a failed subscribe.
type wsDialer struct {
	url string

	mu   sync.Mutex
	conn *ws.Client
}

// NewWSDialer returns a StreamDialer backed by the node's websocket endpoint.
func NewWSDialer(wsURL string) StreamDialer {
	return &wsDialer{url: wsURL}
}

func (d *wsDialer) AccountSubscribe(ctx context.Context, account solana.PublicKey) (AccountStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		conn, err := ws.Connect(ctx, d.url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect websocket: %w", err)
		}
		d.conn = conn
	}

	sub, err := d.conn.AccountSubscribe(account, rpc.CommitmentConfirmed)
	if err != nil {
		d.conn.Close()
		d.conn = nil
		return nil, fmt.Errorf("failed to subscribe to account: %w", err)
	}
	return sub, nil
}
