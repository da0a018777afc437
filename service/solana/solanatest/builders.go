// Package solanatest builds decoded transactions for tests of packages that
// consume the chain client.
package solanatest

import (
	"encoding/binary"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/brojonat/solwatch/service/solana"
)

// NewKey returns a fresh random public key.
func NewKey() solanago.PublicKey {
	return solanago.NewWallet().PublicKey()
}

// SystemTransfer encodes a System Program transfer of lamports.
func SystemTransfer(from, to solanago.PublicKey, lamports uint64) solana.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], solana.SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return solana.Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts:  []solanago.PublicKey{from, to},
		Data:      data,
	}
}

// TokenTransfer encodes an SPL Token Transfer between token accounts.
func TokenTransfer(source, destination, authority solanago.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = solana.TokenProgramTransferInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return solana.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts:  []solanago.PublicKey{source, destination, authority},
		Data:      data,
	}
}

// TransferChecked encodes an SPL Token TransferChecked.
func TransferChecked(source, mint, destination, authority solanago.PublicKey, amount uint64, decimals uint8) solana.Instruction {
	data := make([]byte, 10)
	data[0] = solana.TokenProgramTransferCheckedInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return solana.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts:  []solanago.PublicKey{source, mint, destination, authority},
		Data:      data,
	}
}

// ProgramCall is an opaque instruction to programID.
func ProgramCall(programID string) solana.Instruction {
	return solana.Instruction{
		ProgramID: solanago.MustPublicKeyFromBase58(programID),
		Data:      []byte{0x01},
	}
}

// Balance is a token balance entry for a token account owned by owner.
func Balance(account solanago.PublicKey, owner, mint string, amount uint64, decimals uint8) solana.TokenBalance {
	return solana.TokenBalance{
		Account:  account,
		Owner:    owner,
		Mint:     mint,
		Amount:   amount,
		Decimals: decimals,
	}
}
