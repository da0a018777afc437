package solana

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Byte offsets in SPL account layouts.
const (
	mintDecimalsOffset      = 44
	tokenAccountMintOffset  = 0
	tokenAccountOwnerOffset = 32
)

// TransferKind identifies which decoder matched a transfer instruction.
type TransferKind int

const (
	TransferNone TransferKind = iota
	TransferSystem
	TransferToken
	TransferTokenChecked
)

// Transfer is a decoded System or SPL Token transfer instruction.
//
// For System transfers Source and Destination are wallets and Authority is
// the source. For SPL transfers Source and Destination are token accounts and
// Authority is the signing owner.
type Transfer struct {
	Kind        TransferKind
	ProgramID   solana.PublicKey
	Amount      uint64
	Source      solana.PublicKey
	Destination solana.PublicKey
	Authority   solana.PublicKey

	// Mint and Decimals are only carried by TransferChecked.
	Mint     *solana.PublicKey
	Decimals *uint8
}

// IsNative reports whether the transfer moved lamports.
func (t Transfer) IsNative() bool {
	return t.Kind == TransferSystem
}

// DecodeTransfer decodes ix as a transfer if its program and sub-type match.
// Other instructions of the same programs are rejected.
func DecodeTransfer(ix Instruction) (Transfer, bool) {
	switch {
	case ix.ProgramID.Equals(SystemProgramID):
		t, err := decodeSystemTransfer(ix)
		return t, err == nil
	case ix.ProgramID.Equals(TokenProgramID), ix.ProgramID.Equals(Token2022ProgramID):
		t, err := decodeTokenTransfer(ix)
		return t, err == nil
	default:
		return Transfer{}, false
	}
}

func decodeSystemTransfer(ix Instruction) (Transfer, error) {
	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	if len(ix.Data) < 12 {
		return Transfer{}, fmt.Errorf("instruction data too short: %d bytes", len(ix.Data))
	}
	if typ := binary.LittleEndian.Uint32(ix.Data[0:4]); typ != SystemProgramTransferInstruction {
		return Transfer{}, fmt.Errorf("not a transfer instruction: type %d", typ)
	}
	// accounts: [from, to]
	if len(ix.Accounts) < 2 {
		return Transfer{}, fmt.Errorf("system transfer missing accounts")
	}
	return Transfer{
		Kind:        TransferSystem,
		ProgramID:   ix.ProgramID,
		Amount:      binary.LittleEndian.Uint64(ix.Data[4:12]),
		Source:      ix.Accounts[0],
		Destination: ix.Accounts[1],
		Authority:   ix.Accounts[0],
	}, nil
}

func decodeTokenTransfer(ix Instruction) (Transfer, error) {
	if len(ix.Data) == 0 {
		return Transfer{}, fmt.Errorf("empty instruction data")
	}

	switch ix.Data[0] {
	case TokenProgramTransferInstruction:
		// [0]    = 3
		// [1..9] = amount (u64)
		// accounts: [source, destination, authority]
		if len(ix.Data) < 9 {
			return Transfer{}, fmt.Errorf("transfer instruction data too short")
		}
		if len(ix.Accounts) < 3 {
			return Transfer{}, fmt.Errorf("transfer missing accounts")
		}
		return Transfer{
			Kind:        TransferToken,
			ProgramID:   ix.ProgramID,
			Amount:      binary.LittleEndian.Uint64(ix.Data[1:9]),
			Source:      ix.Accounts[0],
			Destination: ix.Accounts[1],
			Authority:   ix.Accounts[2],
		}, nil

	case TokenProgramTransferCheckedInstruction:
		// [0]    = 12
		// [1..9] = amount (u64)
		// [9]    = decimals (u8)
		// accounts: [source, mint, destination, authority]
		if len(ix.Data) < 10 {
			return Transfer{}, fmt.Errorf("transferChecked instruction data too short")
		}
		if len(ix.Accounts) < 4 {
			return Transfer{}, fmt.Errorf("transferChecked missing accounts")
		}
		mint := ix.Accounts[1]
		decimals := ix.Data[9]
		return Transfer{
			Kind:        TransferTokenChecked,
			ProgramID:   ix.ProgramID,
			Amount:      binary.LittleEndian.Uint64(ix.Data[1:9]),
			Source:      ix.Accounts[0],
			Destination: ix.Accounts[2],
			Authority:   ix.Accounts[3],
			Mint:        &mint,
			Decimals:    &decimals,
		}, nil

	default:
		return Transfer{}, fmt.Errorf("unknown token instruction type: %d", ix.Data[0])
	}
}

// parseTransactionResult converts a GetTransaction response into our domain
// Transaction, resolving instruction account indices against static and
// lookup-table keys.
func parseTransactionResult(signature string, result *rpc.GetTransactionResult) (*Transaction, error) {
	if result == nil || result.Transaction == nil {
		return nil, ErrTransactionNotFound
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	txn := &Transaction{
		Signature: signature,
		Slot:      result.Slot,
		Signers:   tx.Message.Signers(),
	}
	if result.BlockTime != nil {
		bt := result.BlockTime.Time().UTC()
		txn.BlockTime = &bt
	}

	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	meta := result.Meta
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}
	txn.AccountKeys = keys

	for _, ci := range tx.Message.Instructions {
		ix, err := resolveInstruction(keys, ci.ProgramIDIndex, ci.Accounts, ci.Data)
		if err != nil {
			return nil, err
		}
		txn.Instructions = append(txn.Instructions, ix)
	}

	if meta == nil {
		return txn, nil
	}

	if meta.Err != nil {
		msg := fmt.Sprintf("%v", meta.Err)
		txn.Err = &msg
	}
	txn.Fee = meta.Fee
	txn.PreBalances = meta.PreBalances
	txn.PostBalances = meta.PostBalances

	for _, inner := range meta.InnerInstructions {
		for _, ci := range inner.Instructions {
			ix, err := resolveInstruction(keys, ci.ProgramIDIndex, ci.Accounts, ci.Data)
			if err != nil {
				return nil, err
			}
			txn.InnerInstructions = append(txn.InnerInstructions, ix)
		}
	}

	txn.PreTokenBalances = convertTokenBalances(keys, meta.PreTokenBalances)
	txn.PostTokenBalances = convertTokenBalances(keys, meta.PostTokenBalances)

	return txn, nil
}

func resolveInstruction(keys []solana.PublicKey, programIdx uint16, accounts []uint16, data []byte) (Instruction, error) {
	if int(programIdx) >= len(keys) {
		return Instruction{}, fmt.Errorf("program index %d out of bounds (%d keys)", programIdx, len(keys))
	}
	ix := Instruction{
		ProgramID: keys[programIdx],
		Accounts:  make([]solana.PublicKey, 0, len(accounts)),
		Data:      data,
	}
	for _, idx := range accounts {
		if int(idx) >= len(keys) {
			return Instruction{}, fmt.Errorf("account index %d out of bounds (%d keys)", idx, len(keys))
		}
		ix.Accounts = append(ix.Accounts, keys[idx])
	}
	return ix, nil
}

func convertTokenBalances(keys []solana.PublicKey, in []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		tb := TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint.String(),
		}
		if int(b.AccountIndex) < len(keys) {
			tb.Account = keys[b.AccountIndex]
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			tb.Decimals = b.UiTokenAmount.Decimals
			if amt, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64); err == nil {
				tb.Amount = amt
			}
		}
		out = append(out, tb)
	}
	return out
}

// decodeMintDecimals reads the decimals byte from SPL mint account data.
func decodeMintDecimals(data []byte) (uint8, error) {
	if len(data) <= mintDecimalsOffset {
		return 0, fmt.Errorf("mint account data too short: %d bytes", len(data))
	}
	return data[mintDecimalsOffset], nil
}

// decodeTokenAccount reads mint and owner from SPL token account data.
func decodeTokenAccount(data []byte) (mint, owner solana.PublicKey, err error) {
	if len(data) < tokenAccountOwnerOffset+32 {
		return mint, owner, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	copy(mint[:], data[tokenAccountMintOffset:tokenAccountMintOffset+32])
	copy(owner[:], data[tokenAccountOwnerOffset:tokenAccountOwnerOffset+32])
	return mint, owner, nil
}
