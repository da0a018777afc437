// Package holdings folds extracted transaction legs into per-address running
// token totals.
package holdings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/solwatch/service/ledger"
)

// ErrNoToken is returned by ApplyHolding for details without a token.
var ErrNoToken = errors.New("details carry no token")

// Updater applies signed leg amounts to holdings. All updates for one address
// are serialised so read-modify-write cycles never interleave.
type Updater struct {
	store  ledger.Store
	locks  *keyLocker
	logger *slog.Logger
	now    func() time.Time
}

// NewUpdater creates an Updater over store.
func NewUpdater(store ledger.Store, logger *slog.Logger) *Updater {
	return &Updater{
		store:  store,
		locks:  newKeyLocker(),
		logger: logger,
		now:    time.Now,
	}
}

// ApplyHolding adds the signed primary amount of details to the
// (address, details.Token) holding, creating it at zero if needed.
func (u *Updater) ApplyHolding(ctx context.Context, address string, details ledger.Details) (ledger.Holding, error) {
	if details.Token == "" {
		return ledger.Holding{}, ErrNoToken
	}

	u.locks.Lock(address)
	defer u.locks.Unlock(address)

	h, err := u.current(ctx, address, details.Token)
	if err != nil {
		return ledger.Holding{}, err
	}
	h.Amount = h.Amount.Add(signed(details.Amount, details.Direction))
	h.UpdatedAt = u.now().UTC()

	if err := u.store.PutHolding(ctx, h); err != nil {
		return ledger.Holding{}, fmt.Errorf("failed to store holding: %w", err)
	}
	return h, nil
}

// Commit folds every leg of record into the address's holdings and writes the
// record together with the new holdings in one ledger operation. When the
// signature was already recorded it returns ledger.ErrDuplicateTransaction
// and nothing changes.
func (u *Updater) Commit(ctx context.Context, record ledger.TransactionRecord) ([]ledger.Holding, error) {
	u.locks.Lock(record.Address)
	defer u.locks.Unlock(record.Address)

	byToken := make(map[string]int)
	var updated []ledger.Holding
	now := u.now().UTC()

	for _, leg := range record.Details.Legs() {
		i, ok := byToken[leg.Token]
		if !ok {
			h, err := u.current(ctx, record.Address, leg.Token)
			if err != nil {
				return nil, err
			}
			updated = append(updated, h)
			i = len(updated) - 1
			byToken[leg.Token] = i
		}
		updated[i].Amount = updated[i].Amount.Add(signed(leg.Amount, leg.Direction))
		updated[i].UpdatedAt = now
	}

	if err := u.store.RecordTransaction(ctx, record, updated); err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record transaction %s: %w", record.Signature, err)
	}

	u.logger.DebugContext(ctx, "holdings committed",
		"address", record.Address,
		"signature", record.Signature,
		"legs", len(updated),
	)
	return updated, nil
}

func (u *Updater) current(ctx context.Context, address, token string) (ledger.Holding, error) {
	h, err := u.store.GetHolding(ctx, address, token)
	switch {
	case err == nil:
		return h, nil
	case errors.Is(err, ledger.ErrHoldingNotFound):
		return ledger.Holding{Address: address, Token: token, Amount: decimal.Zero}, nil
	default:
		return ledger.Holding{}, fmt.Errorf("failed to load holding %s/%s: %w", address, token, err)
	}
}

func signed(amount decimal.Decimal, dir ledger.Direction) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(dir.Sign()))
}
