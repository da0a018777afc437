package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/singleflight"

	"github.com/brojonat/solwatch/service/metrics"
)

// RPCClient is the subset of Solana RPC we need. It lets tests mock the RPC
// layer without hitting real nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
}

// RetryPolicy bounds GetTransaction retries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries for roughly half a minute, which covers the lag
// between an account notification and the transaction becoming queryable.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	Backoff:     500 * time.Millisecond,
	MaxBackoff:  8 * time.Second,
}

// maxSignaturePages caps how far back SignaturesSince walks when a burst
// exceeds one page.
const maxSignaturePages = 5

// Client provides the chain operations the monitor needs on top of an RPCClient.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g. "mainnet", rpc host)

	retry        RetryPolicy
	sleep        func(ctx context.Context, d time.Duration) error
	dialer       StreamDialer
	pollInterval time.Duration

	decimalsMu sync.RWMutex
	decimals   map[string]uint8
	group      singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		if p.MaxAttempts > 0 {
			c.retry = p
		}
	}
}

// WithStreamDialer makes SubscribeAccountChanges use websocket notifications.
func WithStreamDialer(d StreamDialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithPollInterval sets the polling fallback interval used when no stream
// dialer is configured.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithSleep replaces the backoff sleeper. Tests use it to avoid waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		retry:        DefaultRetryPolicy,
		sleep:        sleepContext,
		pollInterval: 5 * time.Second,
		decimals:     make(map[string]uint8),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveAddress validates address and returns its public key.
func (c *Client) ResolveAddress(ctx context.Context, address string) (solana.PublicKey, error) {
	return ParseAddress(address)
}

// LatestSignature returns the newest signature touching address, or "" when
// the account has no history.
func (c *Client) LatestSignature(ctx context.Context, address string) (string, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	limit := 1
	sigs, err := c.getSignatures(ctx, pk, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", err
	}
	if len(sigs) == 0 {
		return "", nil
	}
	return sigs[0].Signature.String(), nil
}

// SignaturesSince returns signatures newer than until, oldest first. An empty
// until returns the newest page only.
func (c *Client) SignaturesSince(ctx context.Context, address, until string, pageSize int) ([]string, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &pageSize,
		Commitment: rpc.CommitmentConfirmed,
	}
	if until != "" {
		untilSig, err := solana.SignatureFromBase58(until)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor signature %q: %w", until, err)
		}
		opts.Until = untilSig
	}

	// The node returns newest first; walk pages backwards with Before.
	var newestFirst []string
	for page := 0; page < maxSignaturePages; page++ {
		sigs, err := c.getSignatures(ctx, pk, opts)
		if err != nil {
			return nil, err
		}
		for _, s := range sigs {
			newestFirst = append(newestFirst, s.Signature.String())
		}
		if until == "" || len(sigs) < pageSize {
			break
		}
		opts.Before = sigs[len(sigs)-1].Signature
		if page == maxSignaturePages-1 {
			c.logger.WarnContext(ctx, "signature backlog exceeds page limit, older signatures skipped",
				"address", address,
				"pages", maxSignaturePages,
			)
		}
	}

	out := make([]string, len(newestFirst))
	for i, s := range newestFirst {
		out[len(newestFirst)-1-i] = s
	}
	return out, nil
}

func (c *Client) getSignatures(ctx context.Context, pk solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"address", pk.String(),
		"until", opts.Until,
		"before", opts.Before,
	)

	start := time.Now()
	sigs, err := c.rpc.GetSignaturesForAddress(ctx, pk, opts)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("GetSignaturesForAddress", status, c.endpoint, duration)
		if err == nil {
			c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(sigs)))
		}
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"address", pk.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get signatures: %w", err)
	}
	return sigs, nil
}

// GetTransaction fetches and parses a transaction, retrying with exponential
// backoff while the node reports it missing or errors. Rate limiting (429)
// backs off twice as long. After the last attempt it returns
// ErrTransactionNotFound or the last error.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	txnOpts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	backoff := c.retry.Backoff
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			if c.retry.MaxBackoff > 0 && backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		}

		start := time.Now()
		result, err := c.rpc.GetTransaction(ctx, sig, txnOpts)
		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall("GetTransaction", status, c.endpoint, time.Since(start).Seconds())
		}

		if err == nil {
			txn, perr := parseTransactionResult(signature, result)
			if perr == nil {
				return txn, nil
			}
			if !errors.Is(perr, ErrTransactionNotFound) {
				return nil, perr
			}
			err = perr
		}

		reason := "error"
		switch {
		case errors.Is(err, rpc.ErrNotFound), errors.Is(err, ErrTransactionNotFound):
			reason = "not_found"
		case strings.Contains(err.Error(), "429"):
			reason = "rate_limit"
			backoff *= 2
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
		}
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("GetTransaction", reason)
		}
		c.logger.WarnContext(ctx, "failed to get transaction on attempt",
			"signature", signature,
			"attempt", attempt+1,
			"reason", reason,
			"error", err,
		)

		if attempt == c.retry.MaxAttempts-1 {
			if reason == "not_found" {
				return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
			}
			return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
}

// MintDecimals returns the decimal scale of an SPL mint, reading it from the
// mint account once and caching it. Concurrent lookups for the same mint
// share one RPC call.
func (c *Client) MintDecimals(ctx context.Context, mint string) (uint8, error) {
	c.decimalsMu.RLock()
	d, ok := c.decimals[mint]
	c.decimalsMu.RUnlock()
	if ok {
		return d, nil
	}

	v, err, _ := c.group.Do("decimals:"+mint, func() (any, error) {
		pk, err := ParseAddress(mint)
		if err != nil {
			return uint8(0), err
		}
		data, err := c.accountData(ctx, pk)
		if err != nil {
			return uint8(0), err
		}
		dec, err := decodeMintDecimals(data)
		if err != nil {
			return uint8(0), err
		}
		c.decimalsMu.Lock()
		c.decimals[mint] = dec
		c.decimalsMu.Unlock()
		return dec, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get decimals for mint %s: %w", mint, err)
	}
	return v.(uint8), nil
}

// TokenAccountMint returns the mint and owner of an SPL token account.
func (c *Client) TokenAccountMint(ctx context.Context, account string) (mint, owner string, err error) {
	pk, err := ParseAddress(account)
	if err != nil {
		return "", "", err
	}
	data, err := c.accountData(ctx, pk)
	if err != nil {
		return "", "", fmt.Errorf("failed to read token account %s: %w", account, err)
	}
	m, o, err := decodeTokenAccount(data)
	if err != nil {
		return "", "", err
	}
	return m.String(), o.String(), nil
}

func (c *Client) accountData(ctx context.Context, pk solana.PublicKey) ([]byte, error) {
	start := time.Now()
	data, err := c.rpc.GetAccountData(ctx, pk)
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordRPCCall("GetAccountInfo", status, c.endpoint, time.Since(start).Seconds())
	}
	return data, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
