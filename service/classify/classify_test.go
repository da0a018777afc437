package classify

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/solana"
)

func newTestClassifier() *Classifier {
	return NewClassifier(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func key() solanago.PublicKey { return solanago.NewWallet().PublicKey() }

func systemTransfer(lamports uint64) solana.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return solana.Instruction{ProgramID: solana.SystemProgramID, Accounts: []solanago.PublicKey{key(), key()}, Data: data}
}

func tokenInstruction(program solanago.PublicKey, kind byte) solana.Instruction {
	data := make([]byte, 10)
	data[0] = kind
	binary.LittleEndian.PutUint64(data[1:9], 1000)
	data[9] = 6
	return solana.Instruction{ProgramID: program, Accounts: []solanago.PublicKey{key(), key(), key(), key()}, Data: data}
}

func programCall(id string) solana.Instruction {
	return solana.Instruction{ProgramID: solanago.MustPublicKeyFromBase58(id), Data: []byte{0xde, 0xad}}
}

func failed() *string {
	s := "InstructionError"
	return &s
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		tx   *solana.Transaction
		want ledger.TransactionType
	}{
		{name: "nil transaction", tx: nil, want: ledger.TypeUnknown},
		{name: "empty transaction", tx: &solana.Transaction{}, want: ledger.TypeUnknown},
		{
			name: "system transfer",
			tx:   &solana.Transaction{Instructions: []solana.Instruction{systemTransfer(1)}},
			want: ledger.TypeTransfer,
		},
		{
			name: "spl transfer",
			tx:   &solana.Transaction{Instructions: []solana.Instruction{tokenInstruction(solana.TokenProgramID, 3)}},
			want: ledger.TypeTransfer,
		},
		{
			name: "token-2022 transfer checked",
			tx:   &solana.Transaction{Instructions: []solana.Instruction{tokenInstruction(solana.Token2022ProgramID, 12)}},
			want: ledger.TypeTransfer,
		},
		{
			name: "token approve only",
			tx:   &solana.Transaction{Instructions: []solana.Instruction{tokenInstruction(solana.TokenProgramID, 4)}},
			want: ledger.TypeUnknown,
		},
		{
			name: "jupiter swap with inner token transfers",
			tx: &solana.Transaction{
				Instructions:      []solana.Instruction{programCall(SwapProgramIDs[0])},
				InnerInstructions: []solana.Instruction{tokenInstruction(solana.TokenProgramID, 12), tokenInstruction(solana.TokenProgramID, 12)},
			},
			want: ledger.TypeSwap,
		},
		{
			name: "swap invoked through an inner instruction",
			tx: &solana.Transaction{
				Instructions:      []solana.Instruction{programCall(key().String())},
				InnerInstructions: []solana.Instruction{programCall(SwapProgramIDs[2])},
			},
			want: ledger.TypeSwap,
		},
		{
			name: "bridge beats swap",
			tx: &solana.Transaction{
				Instructions: []solana.Instruction{programCall(SwapProgramIDs[0]), programCall(BridgeProgramIDs[0])},
			},
			want: ledger.TypeBridge,
		},
		{
			name: "failed transfer",
			tx:   &solana.Transaction{Err: failed(), Instructions: []solana.Instruction{systemTransfer(1)}},
			want: ledger.TypeUnknown,
		},
		{
			name: "unrelated program",
			tx:   &solana.Transaction{Instructions: []solana.Instruction{programCall(key().String())}},
			want: ledger.TypeUnknown,
		},
	}

	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(context.Background(), tt.tx))
		})
	}
}

func TestClassify_Total(t *testing.T) {
	c := newTestClassifier()
	rng := rand.New(rand.NewSource(1))

	programs := []solanago.PublicKey{
		solana.SystemProgramID,
		solana.TokenProgramID,
		solana.Token2022ProgramID,
		solanago.MustPublicKeyFromBase58(SwapProgramIDs[1]),
		solanago.MustPublicKeyFromBase58(BridgeProgramIDs[1]),
		key(),
	}
	valid := map[ledger.TransactionType]bool{
		ledger.TypeTransfer: true,
		ledger.TypeSwap:     true,
		ledger.TypeBridge:   true,
		ledger.TypeUnknown:  true,
	}

	for i := 0; i < 500; i++ {
		tx := &solana.Transaction{}
		for j := rng.Intn(4); j > 0; j-- {
			data := make([]byte, rng.Intn(14))
			rng.Read(data)
			accounts := make([]solanago.PublicKey, rng.Intn(5))
			tx.Instructions = append(tx.Instructions, solana.Instruction{
				ProgramID: programs[rng.Intn(len(programs))],
				Accounts:  accounts,
				Data:      data,
			})
		}
		if rng.Intn(5) == 0 {
			tx.Err = failed()
		}

		var got ledger.TransactionType
		assert.NotPanics(t, func() { got = c.Classify(context.Background(), tx) })
		assert.True(t, valid[got], "unexpected type %q", got)
	}
}

type panicRule struct{}

func (panicRule) Name() string { return "panics" }
func (panicRule) Match(tx *solana.Transaction) (ledger.TransactionType, bool) {
	panic("boom")
}

type memoRule struct{ program string }

func (memoRule) Name() string { return "memo" }
func (r memoRule) Match(tx *solana.Transaction) (ledger.TransactionType, bool) {
	if tx.HasProgram(r.program) {
		return ledger.TypeBridge, true
	}
	return "", false
}

func TestRegister_PreservesExistingOutcomes(t *testing.T) {
	memo := key().String()
	c := newTestClassifier()

	transfer := &solana.Transaction{Instructions: []solana.Instruction{systemTransfer(1), programCall(memo)}}
	onlyMemo := &solana.Transaction{Instructions: []solana.Instruction{programCall(memo)}}

	before := c.Classify(context.Background(), transfer)
	assert.Equal(t, ledger.TypeUnknown, c.Classify(context.Background(), onlyMemo))

	c.Register(memoRule{program: memo})

	assert.Equal(t, before, c.Classify(context.Background(), transfer), "earlier rules still win")
	assert.Equal(t, ledger.TypeBridge, c.Classify(context.Background(), onlyMemo), "new rule covers what was unknown")
	assert.Equal(t, []string{"failed", "bridge-program", "swap-program", "token-transfer", "system-transfer", "memo"}, c.Rules())
}

func TestClassify_PanickingRuleYieldsUnknown(t *testing.T) {
	c := newTestClassifier()
	c.Register(panicRule{})

	assert.NotPanics(t, func() {
		assert.Equal(t, ledger.TypeUnknown, c.Classify(context.Background(), &solana.Transaction{}))
	})
	// Rules ahead of the panicking one are unaffected.
	assert.Equal(t, ledger.TypeTransfer, c.Classify(context.Background(), &solana.Transaction{Instructions: []solana.Instruction{systemTransfer(5)}}))
}

type ctxKey struct{}

// ctxHandler records the ctxKey value of every record's context.
type ctxHandler struct {
	slog.Handler
	seen *[]any
}

func (h ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	*h.seen = append(*h.seen, ctx.Value(ctxKey{}))
	return nil
}

func TestClassify_PanicLogCarriesContext(t *testing.T) {
	var seen []any
	logger := slog.New(ctxHandler{Handler: slog.NewTextHandler(io.Discard, nil), seen: &seen})
	c := NewClassifier(logger, nil)
	c.Register(panicRule{})

	ctx := context.WithValue(context.Background(), ctxKey{}, "sig-trace")
	assert.Equal(t, ledger.TypeUnknown, c.Classify(ctx, &solana.Transaction{Signature: "sig"}))
	assert.Equal(t, []any{"sig-trace"}, seen)
}

func TestNewProgramRule_MalformedID(t *testing.T) {
	r := NewProgramRule("typo", ledger.TypeSwap, "not-base58-0OIl")
	_, ok := r.Match(&solana.Transaction{Instructions: []solana.Instruction{programCall(SwapProgramIDs[0])}})
	assert.False(t, ok)
}
