// Package extract turns a classified transaction into the amounts, token and
// direction recorded in the ledger, then enriches them with symbol and market
// data on a best-effort basis.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/market"
	"github.com/brojonat/solwatch/service/solana"
)

// ErrDecimalsUnavailable is returned when an SPL mint's decimal scale cannot be
// determined from the transaction or the chain. It is the only extraction
// failure; callers retry it like a fetch failure.
var ErrDecimalsUnavailable = errors.New("mint decimals unavailable")

// NativeSymbol is the display symbol of lamport movements.
const NativeSymbol = ledger.NativeToken

// DefaultChartURL is the DexScreener base chart links are built from.
const DefaultChartURL = "https://dexscreener.com/solana/"

// ChainLookup is the subset of the chain client extraction needs when the
// transaction itself does not carry a mint or its scale.
type ChainLookup interface {
	MintDecimals(ctx context.Context, mint string) (uint8, error)
	TokenAccountMint(ctx context.Context, account string) (mint, owner string, err error)
}

// Extractor derives ledger.Details from transactions.
type Extractor struct {
	chain    ChainLookup
	symbols  market.SymbolResolver
	market   market.MarketData
	chartURL string
	logger   *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithChartURL overrides the chart link base. An empty base disables chart links.
func WithChartURL(base string) Option {
	return func(e *Extractor) {
		e.chartURL = base
	}
}

// New creates an Extractor. symbols and md may be nil, in which case the
// corresponding enrichment is skipped.
func New(chain ChainLookup, symbols market.SymbolResolver, md market.MarketData, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		chain:    chain,
		symbols:  symbols,
		market:   md,
		chartURL: DefaultChartURL,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract computes the details of tx as seen from address.
func (e *Extractor) Extract(ctx context.Context, address string, tx *solana.Transaction, typ ledger.TransactionType) (ledger.Details, error) {
	if tx == nil {
		return ledger.Details{}, nil
	}

	var (
		details ledger.Details
		err     error
	)
	switch typ {
	case ledger.TypeTransfer:
		details, err = e.extractTransfer(ctx, address, tx)
	case ledger.TypeSwap:
		details, err = e.extractSwap(ctx, address, tx)
	case ledger.TypeBridge:
		details, err = e.extractBridge(ctx, address, tx)
	default:
		return ledger.Details{}, nil
	}
	if err != nil {
		return ledger.Details{}, err
	}

	e.enrich(ctx, tx.Signature, &details)
	return details, nil
}

func (e *Extractor) extractTransfer(ctx context.Context, address string, tx *solana.Transaction) (ledger.Details, error) {
	tr, ok := pickTransfer(address, tx)
	if !ok {
		e.logger.WarnContext(ctx, "no transfer involving address",
			"address", address,
			"signature", tx.Signature,
		)
		return ledger.Details{}, nil
	}

	if tr.IsNative() {
		return ledger.Details{
			Amount:    scale(tr.Amount, solana.NativeDecimals),
			Token:     ledger.NativeToken,
			Direction: transferDirection(address, tx, tr),
		}, nil
	}

	mint, err := e.transferMint(ctx, tx, tr)
	if err != nil {
		return ledger.Details{}, err
	}
	decimals, err := e.transferDecimals(ctx, tx, tr, mint)
	if err != nil {
		return ledger.Details{}, err
	}

	return ledger.Details{
		Amount:       scale(tr.Amount, decimals),
		Token:        mint,
		TokenAddress: &mint,
		Direction:    transferDirection(address, tx, tr),
	}, nil
}

// pickTransfer returns the first decodable transfer that involves address.
// Transfers between other parties, such as ones address only paid the fee
// for, are never attributed to it.
func pickTransfer(address string, tx *solana.Transaction) (solana.Transfer, bool) {
	for _, ix := range tx.AllInstructions() {
		tr, ok := solana.DecodeTransfer(ix)
		if !ok {
			continue
		}
		if involves(address, tx, tr) {
			return tr, true
		}
	}
	return solana.Transfer{}, false
}

func involves(address string, tx *solana.Transaction, tr solana.Transfer) bool {
	if tr.Source.String() == address || tr.Destination.String() == address || tr.Authority.String() == address {
		return true
	}
	if tr.IsNative() {
		return false
	}
	return ownerOf(tx, tr.Source) == address || ownerOf(tx, tr.Destination) == address
}

func ownerOf(tx *solana.Transaction, account solanago.PublicKey) string {
	if b, ok := tx.TokenBalanceFor(account); ok {
		return b.Owner
	}
	return ""
}

// transferDirection assumes involves(address, tx, tr). Anything that is not
// the sending side is the receiving side.
func transferDirection(address string, tx *solana.Transaction, tr solana.Transfer) ledger.Direction {
	switch {
	case tr.Source.String() == address, tr.Authority.String() == address:
		return ledger.DirectionOut
	case !tr.IsNative() && ownerOf(tx, tr.Source) == address:
		return ledger.DirectionOut
	default:
		return ledger.DirectionIn
	}
}

func (e *Extractor) transferMint(ctx context.Context, tx *solana.Transaction, tr solana.Transfer) (string, error) {
	if tr.Mint != nil {
		return tr.Mint.String(), nil
	}
	for _, acct := range []solanago.PublicKey{tr.Destination, tr.Source} {
		if b, ok := tx.TokenBalanceFor(acct); ok && b.Mint != "" {
			return b.Mint, nil
		}
	}

	var lastErr error
	for _, acct := range []solanago.PublicKey{tr.Destination, tr.Source} {
		mint, _, err := e.chain.TokenAccountMint(ctx, acct.String())
		if err == nil && mint != "" {
			return mint, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: mint of token account %s unknown: %v", ErrDecimalsUnavailable, tr.Destination, lastErr)
}

func (e *Extractor) transferDecimals(ctx context.Context, tx *solana.Transaction, tr solana.Transfer, mint string) (uint8, error) {
	if tr.Decimals != nil {
		return *tr.Decimals, nil
	}
	for _, set := range [][]solana.TokenBalance{tx.PostTokenBalances, tx.PreTokenBalances} {
		for _, b := range set {
			if b.Mint == mint {
				return b.Decimals, nil
			}
		}
	}
	decimals, err := e.chain.MintDecimals(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrDecimalsUnavailable, mint, err)
	}
	return decimals, nil
}

func (e *Extractor) extractSwap(ctx context.Context, address string, tx *solana.Transaction) (ledger.Details, error) {
	moves := balanceDeltas(address, tx)
	if len(moves) == 0 {
		return ledger.Details{}, nil
	}

	var received, sent *movement
	for i := range moves {
		m := &moves[i]
		switch m.delta.Sign() {
		case 1:
			if received == nil || m.delta.GreaterThan(received.delta) {
				received = m
			}
		case -1:
			if sent == nil || m.delta.LessThan(sent.delta) {
				sent = m
			}
		}
	}

	if received == nil {
		// Nothing came back (e.g. a partially filled route); report the outflow.
		return sent.details(), nil
	}
	details := received.details()
	if sent != nil {
		leg := sent.leg()
		details.Counter = &leg
	}
	return details, nil
}

func (e *Extractor) extractBridge(ctx context.Context, address string, tx *solana.Transaction) (ledger.Details, error) {
	moves := balanceDeltas(address, tx)
	if len(moves) == 0 {
		return ledger.Details{}, nil
	}
	largest := &moves[0]
	for i := range moves[1:] {
		m := &moves[i+1]
		if m.delta.Abs().GreaterThan(largest.delta.Abs()) {
			largest = m
		}
	}
	return largest.details(), nil
}

// movement is the net change of one mint for the tracked owner.
type movement struct {
	mint   string
	native bool
	delta  decimal.Decimal
}

func (m movement) leg() ledger.Leg {
	leg := ledger.Leg{Amount: m.delta.Abs(), Direction: ledger.DirectionIn}
	if m.delta.IsNegative() {
		leg.Direction = ledger.DirectionOut
	}
	if m.native {
		leg.Token = ledger.NativeToken
	} else {
		mint := m.mint
		leg.Token = mint
		leg.TokenAddress = &mint
	}
	return leg
}

func (m movement) details() ledger.Details {
	leg := m.leg()
	return ledger.Details{
		Amount:       leg.Amount,
		Token:        leg.Token,
		Symbol:       leg.Symbol,
		TokenAddress: leg.TokenAddress,
		Direction:    leg.Direction,
	}
}

// balanceDeltas returns the per-mint net changes for address in the order the
// mints first appear. Wrapped SOL is folded into the native lamport delta,
// and the fee is excluded when address paid it.
func balanceDeltas(address string, tx *solana.Transaction) []movement {
	var order []string
	totals := make(map[string]decimal.Decimal)
	add := func(mint string, d decimal.Decimal) {
		if _, ok := totals[mint]; !ok {
			order = append(order, mint)
			totals[mint] = decimal.Zero
		}
		totals[mint] = totals[mint].Add(d)
	}

	nativeMint := solana.NativeMint.String()
	for _, b := range tx.PreTokenBalances {
		if b.Owner == address {
			add(b.Mint, scale(b.Amount, b.Decimals).Neg())
		}
	}
	for _, b := range tx.PostTokenBalances {
		if b.Owner == address {
			add(b.Mint, scale(b.Amount, b.Decimals))
		}
	}

	if idx := tx.AccountIndex(address); idx >= 0 && idx < len(tx.PreBalances) && idx < len(tx.PostBalances) {
		pre := new(big.Int).SetUint64(tx.PreBalances[idx])
		post := new(big.Int).SetUint64(tx.PostBalances[idx])
		lamports := new(big.Int).Sub(post, pre)
		if idx == 0 {
			lamports.Add(lamports, new(big.Int).SetUint64(tx.Fee))
		}
		if lamports.Sign() != 0 {
			add(nativeMint, decimal.NewFromBigInt(lamports, -solana.NativeDecimals))
		}
	}

	moves := make([]movement, 0, len(order))
	for _, mint := range order {
		d := totals[mint]
		if d.IsZero() {
			continue
		}
		moves = append(moves, movement{mint: mint, native: mint == nativeMint, delta: d})
	}
	return moves
}

// enrich fills in the symbol, market cap and chart link. Failures leave the
// fields absent. Token and Amount are never touched, so the holding a
// record folds into does not depend on lookups succeeding.
func (e *Extractor) enrich(ctx context.Context, signature string, d *ledger.Details) {
	switch {
	case d.Token == ledger.NativeToken && d.TokenAddress == nil:
		d.Symbol = NativeSymbol
	case d.TokenAddress != nil:
		if sym, ok := e.resolveSymbol(ctx, signature, *d.TokenAddress); ok {
			d.Symbol = sym
			if e.chartURL != "" {
				link := strings.TrimSuffix(e.chartURL, "/") + "/" + *d.TokenAddress
				d.ChartLink = &link
			}
		}
	}

	if c := d.Counter; c != nil {
		switch {
		case c.Token == ledger.NativeToken && c.TokenAddress == nil:
			c.Symbol = NativeSymbol
		case c.TokenAddress != nil:
			if sym, ok := e.resolveSymbol(ctx, signature, *c.TokenAddress); ok {
				c.Symbol = sym
			}
		}
	}

	symbol := d.Symbol

	if symbol == "" || e.market == nil {
		return
	}
	mcap, err := e.market.MarketCapUSD(ctx, symbol)
	if err != nil {
		e.logger.WarnContext(ctx, "market cap lookup failed",
			"signature", signature,
			"symbol", symbol,
			"error", err,
		)
		return
	}
	d.MarketCapUSD = &mcap
}

func (e *Extractor) resolveSymbol(ctx context.Context, signature, mint string) (string, bool) {
	if e.symbols == nil {
		return "", false
	}
	sym, err := e.symbols.ResolveSymbol(ctx, mint)
	if err != nil || sym == "" {
		e.logger.WarnContext(ctx, "symbol lookup failed",
			"signature", signature,
			"mint", mint,
			"error", err,
		)
		return "", false
	}
	return sym, true
}

func scale(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}
