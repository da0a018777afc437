// Package classify assigns a semantic type to a fetched transaction using an
// ordered, open-ended rule set.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/metrics"
	"github.com/brojonat/solwatch/service/solana"
)

// Rule recognises one kind of transaction. Match returns ok=false when the
// rule does not apply so the next rule is consulted.
type Rule interface {
	Name() string
	Match(tx *solana.Transaction) (ledger.TransactionType, bool)
}

// Classifier evaluates rules in order; the first match wins and no match
// yields TypeUnknown.
type Classifier struct {
	mu      sync.RWMutex
	rules   []Rule
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClassifier returns a classifier loaded with DefaultRules.
func NewClassifier(logger *slog.Logger, m *metrics.Metrics) *Classifier {
	return &Classifier{
		rules:   DefaultRules(),
		logger:  logger,
		metrics: m,
	}
}

// Register appends rules after the existing ones, so anything an earlier
// rule matched keeps its type.
func (c *Classifier) Register(rules ...Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rules...)
}

// Rules returns the rule names in evaluation order.
func (c *Classifier) Rules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		names = append(names, r.Name())
	}
	return names
}

// Classify never fails: a nil transaction, no matching rule, or a rule that
// panics all yield TypeUnknown.
func (c *Classifier) Classify(ctx context.Context, tx *solana.Transaction) ledger.TransactionType {
	if tx == nil {
		return ledger.TypeUnknown
	}

	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	for _, rule := range rules {
		typ, ok, err := c.match(rule, tx)
		if err != nil {
			c.logger.ErrorContext(ctx, "classification rule panicked",
				"rule", rule.Name(),
				"signature", tx.Signature,
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.RecordPanic("classifier")
			}
			return ledger.TypeUnknown
		}
		if ok {
			return typ
		}
	}
	return ledger.TypeUnknown
}

func (c *Classifier) match(rule Rule, tx *solana.Transaction) (typ ledger.TransactionType, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	typ, ok = rule.Match(tx)
	return typ, ok, nil
}
