package classify

import (
	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/solana"
)

// Bridge programs.
var BridgeProgramIDs = []string{
	"worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth", // Wormhole core
	"wormDTUJ6AWPNvk59vGQbDvGJmqbDTdgWgAqcLBCgUb", // Wormhole token bridge
	"src5qyZHqTqecJV4aY6Cb6zDZLMDzrDKKezs22MPHr4", // deBridge DLN source
	"dst5MGcFPoBeREFAA5E3tU5ij8m5uVYwkzkSAbsLbNo", // deBridge DLN destination
	"BrdgN2RPzEMWF96ZbnnJaUtQDQx7VRXYaHHbYCBvceWB", // Allbridge Core
	"BLZRi6frs4X4DNLw56V4EXai1b6QVESN1BhHBTYM9VcY", // Mayan Swift
	"FC4eXxkyrMPTjiYUpp4EAnkmwMbQyZ6NDCh1kfLn6vsf", // Mayan
}

// Swap / AMM programs.
var SwapProgramIDs = []string{
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", // Jupiter v6
	"JUP4Fb2cqiRUcaTHdrPC8h2gNsA2ETXiPDD33WcGuJB", // Jupiter v4
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", // Raydium AMM v4
	"CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK", // Raydium CLMM
	"CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C", // Raydium CPMM
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",  // Orca Whirlpool
	"LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo",  // Meteora DLMM
	"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",  // Pump.fun
	"PhoeNiXZ8ByJGLkxNfZRnkUfjvmuYqLR89jjFHGqdXY",  // Phoenix
}

// DefaultRules returns the built-in rules in priority order.
func DefaultRules() []Rule {
	return []Rule{
		failedRule{},
		NewProgramRule("bridge-program", ledger.TypeBridge, BridgeProgramIDs...),
		NewProgramRule("swap-program", ledger.TypeSwap, SwapProgramIDs...),
		tokenTransferRule{},
		systemTransferRule{},
	}
}

// failedRule keeps failed transactions out of every other class.
type failedRule struct{}

func (failedRule) Name() string { return "failed" }

func (failedRule) Match(tx *solana.Transaction) (ledger.TransactionType, bool) {
	if tx.Failed() {
		return ledger.TypeUnknown, true
	}
	return "", false
}

// ProgramRule matches when any instruction, top-level or inner, invokes one
// of its programs.
type ProgramRule struct {
	name     string
	typ      ledger.TransactionType
	programs map[string]struct{}
}

// NewProgramRule builds a ProgramRule. IDs are compared as base58 strings, so
// a malformed ID simply never matches.
func NewProgramRule(name string, typ ledger.TransactionType, programIDs ...string) *ProgramRule {
	programs := make(map[string]struct{}, len(programIDs))
	for _, id := range programIDs {
		programs[id] = struct{}{}
	}
	return &ProgramRule{name: name, typ: typ, programs: programs}
}

func (r *ProgramRule) Name() string { return r.name }

func (r *ProgramRule) Match(tx *solana.Transaction) (ledger.TransactionType, bool) {
	for _, ix := range tx.AllInstructions() {
		if _, ok := r.programs[ix.ProgramID.String()]; ok {
			return r.typ, true
		}
	}
	return "", false
}

// tokenTransferRule matches SPL Token and Token-2022 Transfer and
// TransferChecked instructions. Other token instructions do not match.
type tokenTransferRule struct{}

func (tokenTransferRule) Name() string { return "token-transfer" }

func (tokenTransferRule) Match(tx *solana.Transaction) (ledger.TransactionType, bool) {
	for _, ix := range tx.AllInstructions() {
		t, ok := solana.DecodeTransfer(ix)
		if ok && !t.IsNative() {
			return ledger.TypeTransfer, true
		}
	}
	return "", false
}

// systemTransferRule matches native SOL transfers.
type systemTransferRule struct{}

func (systemTransferRule) Name() string { return "system-transfer" }

func (systemTransferRule) Match(tx *solana.Transaction) (ledger.TransactionType, bool) {
	for _, ix := range tx.AllInstructions() {
		t, ok := solana.DecodeTransfer(ix)
		if ok && t.IsNative() {
			return ledger.TypeTransfer, true
		}
	}
	return "", false
}
