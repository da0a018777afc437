// Package ledger defines the tracked-account, transaction and holdings records
// and the Store contract every persistence backend implements.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountExists is returned when (address, subscriber) is already tracked.
	ErrAccountExists = errors.New("account already tracked")

	// ErrAccountNotFound is returned when removing an account that is not tracked.
	ErrAccountNotFound = errors.New("account not tracked")

	// ErrDuplicateTransaction is returned when (address, signature) was already recorded.
	// Nothing is written when it is returned.
	ErrDuplicateTransaction = errors.New("transaction already recorded")

	// ErrHoldingNotFound is returned by GetHolding for an unknown (address, token).
	ErrHoldingNotFound = errors.New("holding not found")
)

// TransactionType is the semantic class assigned to a transaction.
type TransactionType string

const (
	TypeTransfer TransactionType = "transfer"
	TypeSwap     TransactionType = "swap"
	TypeBridge   TransactionType = "bridge"
	TypeUnknown  TransactionType = "unknown"
)

// Label returns the human readable name used in alerts.
func (t TransactionType) Label() string {
	switch t {
	case TypeTransfer:
		return "Transfer"
	case TypeSwap:
		return "Swap"
	case TypeBridge:
		return "Bridge"
	default:
		return "Unknown"
	}
}

// Direction tells whether a leg moved value into or out of the tracked account.
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionNone Direction = ""
)

// Sign returns the multiplier applied to a leg amount when folding it into holdings.
func (d Direction) Sign() int64 {
	if d == DirectionOut {
		return -1
	}
	return 1
}

// TrackedAccount is a subscriber's registration of a chain address.
type TrackedAccount struct {
	Address      string    `json:"address"`
	Label        string    `json:"label"`
	SubscriberID string    `json:"chatId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NativeToken is the holdings key for lamport movements.
const NativeToken = "SOL"

// Leg is one side of a token movement. Token is the holdings key: the mint
// address, or NativeToken for lamports. Symbol is display only.
type Leg struct {
	Amount       decimal.Decimal `json:"amount"`
	Token        string          `json:"token"`
	Symbol       string          `json:"symbol,omitempty"`
	TokenAddress *string         `json:"coinAddress,omitempty"`
	Direction    Direction       `json:"direction,omitempty"`
}

// DisplayName returns the symbol when enrichment found one, else the token key.
func (l Leg) DisplayName() string {
	if l.Symbol != "" {
		return l.Symbol
	}
	return l.Token
}

// Details is the extracted, optionally enriched content of a transaction.
// Amount is always non-negative; Direction carries the sign. Token keys the
// holding the same way Leg.Token does; enrichment only fills Symbol,
// MarketCapUSD and ChartLink.
type Details struct {
	Amount       decimal.Decimal  `json:"amount"`
	Token        string           `json:"token"`
	Symbol       string           `json:"symbol,omitempty"`
	TokenAddress *string          `json:"coinAddress,omitempty"`
	Direction    Direction        `json:"direction,omitempty"`
	MarketCapUSD *decimal.Decimal `json:"marketCap,omitempty"`
	ChartLink    *string          `json:"chartLink,omitempty"`

	// Counter is the sent side of a swap.
	Counter *Leg `json:"counter,omitempty"`
}

// Legs returns the primary leg followed by the counter leg when present.
// Legs without a token or with a zero amount are omitted.
func (d Details) Legs() []Leg {
	legs := make([]Leg, 0, 2)
	primary := d.Primary()
	if primary.Token != "" && !primary.Amount.IsZero() {
		legs = append(legs, primary)
	}
	if d.Counter != nil && d.Counter.Token != "" && !d.Counter.Amount.IsZero() {
		legs = append(legs, *d.Counter)
	}
	return legs
}

// Primary returns the primary leg.
func (d Details) Primary() Leg {
	return Leg{Amount: d.Amount, Token: d.Token, Symbol: d.Symbol, TokenAddress: d.TokenAddress, Direction: d.Direction}
}

// TransactionRecord is an observed transaction attributed to a tracked address.
type TransactionRecord struct {
	Address    string          `json:"address"`
	Signature  string          `json:"signature"`
	Slot       uint64          `json:"slot"`
	Type       TransactionType `json:"type"`
	Details    Details         `json:"details"`
	ObservedAt time.Time       `json:"timestamp"`
}

// Holding is the running total of a token attributed to an address.
type Holding struct {
	Address   string          `json:"address"`
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store is the ledger persistence contract.
//
// RecordTransaction must be atomic: either the record and every holding are
// written, or nothing is. A second call with the same (address, signature)
// returns ErrDuplicateTransaction.
type Store interface {
	ListAccounts(ctx context.Context, subscriberID string) ([]TrackedAccount, error)
	ListAllAccounts(ctx context.Context) ([]TrackedAccount, error)
	AddAccount(ctx context.Context, account TrackedAccount) error
	RemoveAccount(ctx context.Context, address, subscriberID string) error

	HasTransaction(ctx context.Context, address, signature string) (bool, error)
	AppendTransaction(ctx context.Context, record TransactionRecord) error
	RecordTransaction(ctx context.Context, record TransactionRecord, holdings []Holding) error
	ListTransactions(ctx context.Context, address string, limit int) ([]TransactionRecord, error)
	CountTransactions(ctx context.Context, address string) (int64, error)

	GetHolding(ctx context.Context, address, token string) (Holding, error)
	PutHolding(ctx context.Context, holding Holding) error
	ListHoldings(ctx context.Context, address string) ([]Holding, error)
}
