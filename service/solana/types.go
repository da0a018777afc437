package solana

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrInvalidAddress is returned when a string is not a valid base58 public key.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrTransactionNotFound is returned when the RPC node has no record of a signature.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Well-known program IDs.
var (
	SystemProgramID    = solana.SystemProgramID
	TokenProgramID     = solana.TokenProgramID
	Token2022ProgramID = solana.Token2022ProgramID

	// NativeMint is the wrapped SOL mint. Native lamport movements are
	// reported against it.
	NativeMint = solana.SolMint
)

// NativeDecimals is the lamport scale of SOL.
const NativeDecimals = 9

// ChangeEvent is a notification that an account's lamports or data changed.
// It carries no transaction; the consumer lists signatures to find out what
// happened.
type ChangeEvent struct {
	Address    string
	Slot       uint64
	ReceivedAt time.Time
}

// Instruction is a compiled instruction with its account indices resolved
// against the transaction's full key list.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// TokenBalance is an SPL token balance snapshot from the transaction meta.
type TokenBalance struct {
	AccountIndex uint16
	Account      solana.PublicKey
	Owner        string
	Mint         string
	Amount       uint64
	Decimals     uint8
}

// Transaction is a fetched transaction reduced to what classification and
// extraction need. It is our domain model, independent of the RPC response.
type Transaction struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Fee       uint64

	// Err is set when the transaction failed on chain.
	Err *string

	// AccountKeys holds the static keys followed by any keys loaded from
	// address lookup tables, in the order instructions index them.
	AccountKeys []solana.PublicKey
	Signers     []solana.PublicKey

	Instructions      []Instruction
	InnerInstructions []Instruction

	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Failed reports whether the transaction errored on chain.
func (t *Transaction) Failed() bool {
	return t != nil && t.Err != nil
}

// AllInstructions returns top-level instructions followed by inner ones.
func (t *Transaction) AllInstructions() []Instruction {
	if t == nil {
		return nil
	}
	out := make([]Instruction, 0, len(t.Instructions)+len(t.InnerInstructions))
	out = append(out, t.Instructions...)
	return append(out, t.InnerInstructions...)
}

// HasProgram reports whether any instruction invokes programID.
func (t *Transaction) HasProgram(programID string) bool {
	for _, ix := range t.AllInstructions() {
		if ix.ProgramID.String() == programID {
			return true
		}
	}
	return false
}

// AccountIndex returns the position of address in AccountKeys, or -1.
func (t *Transaction) AccountIndex(address string) int {
	for i, k := range t.AccountKeys {
		if k.String() == address {
			return i
		}
	}
	return -1
}

// TokenBalanceFor returns the post (or, failing that, pre) balance entry for a
// token account.
func (t *Transaction) TokenBalanceFor(account solana.PublicKey) (TokenBalance, bool) {
	for _, set := range [][]TokenBalance{t.PostTokenBalances, t.PreTokenBalances} {
		for _, b := range set {
			if b.Account.Equals(account) {
				return b, true
			}
		}
	}
	return TokenBalance{}, false
}

// ParseAddress validates a base58 public key.
func ParseAddress(address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return pk, nil
}
