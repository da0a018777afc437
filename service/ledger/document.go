package ledger

import "slices"

// document is the in-memory shape shared by the memory and file backends.
// The JSON layout matches the on-disk database document: three ordered
// top-level collections.
type document struct {
	Wallets      []TrackedAccount    `json:"wallets"`
	Transactions []TransactionRecord `json:"transactions"`
	Holdings     []Holding           `json:"holdings"`
}

func newDocument() *document {
	return &document{
		Wallets:      []TrackedAccount{},
		Transactions: []TransactionRecord{},
		Holdings:     []Holding{},
	}
}

// clone copies the collections. Records are values and are never mutated in
// place, so a shallow element copy is enough.
func (d *document) clone() *document {
	return &document{
		Wallets:      slices.Clone(d.Wallets),
		Transactions: slices.Clone(d.Transactions),
		Holdings:     slices.Clone(d.Holdings),
	}
}

func (d *document) accountsFor(subscriberID string) []TrackedAccount {
	out := make([]TrackedAccount, 0)
	for _, w := range d.Wallets {
		if w.SubscriberID == subscriberID {
			out = append(out, w)
		}
	}
	return out
}

func (d *document) addAccount(account TrackedAccount) error {
	for _, w := range d.Wallets {
		if w.Address == account.Address && w.SubscriberID == account.SubscriberID {
			return ErrAccountExists
		}
	}
	d.Wallets = append(d.Wallets, account)
	return nil
}

func (d *document) removeAccount(address, subscriberID string) error {
	idx := slices.IndexFunc(d.Wallets, func(w TrackedAccount) bool {
		return w.Address == address && w.SubscriberID == subscriberID
	})
	if idx < 0 {
		return ErrAccountNotFound
	}
	d.Wallets = slices.Delete(d.Wallets, idx, idx+1)
	return nil
}

func (d *document) hasTransaction(address, signature string) bool {
	return slices.ContainsFunc(d.Transactions, func(t TransactionRecord) bool {
		return t.Address == address && t.Signature == signature
	})
}

func (d *document) appendTransaction(record TransactionRecord) error {
	if d.hasTransaction(record.Address, record.Signature) {
		return ErrDuplicateTransaction
	}
	d.Transactions = append(d.Transactions, record)
	return nil
}

// transactions returns records for address, newest first.
func (d *document) transactions(address string, limit int) []TransactionRecord {
	out := make([]TransactionRecord, 0)
	for i := len(d.Transactions) - 1; i >= 0; i-- {
		if d.Transactions[i].Address != address {
			continue
		}
		out = append(out, d.Transactions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (d *document) countTransactions(address string) int64 {
	var n int64
	for _, t := range d.Transactions {
		if t.Address == address {
			n++
		}
	}
	return n
}

func (d *document) holding(address, token string) (Holding, bool) {
	for _, h := range d.Holdings {
		if h.Address == address && h.Token == token {
			return h, true
		}
	}
	return Holding{}, false
}

func (d *document) putHolding(holding Holding) {
	for i, h := range d.Holdings {
		if h.Address == holding.Address && h.Token == holding.Token {
			d.Holdings[i] = holding
			return
		}
	}
	d.Holdings = append(d.Holdings, holding)
}

func (d *document) holdingsFor(address string) []Holding {
	out := make([]Holding, 0)
	for _, h := range d.Holdings {
		if h.Address == address {
			out = append(out, h)
		}
	}
	return out
}
