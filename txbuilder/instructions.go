package txbuilder

import (
	"encoding/binary"

	"github.com/solsniper/sniper/chain"
)

// SystemProgramID is the well-known native system program address
// (Solana's "11111111111111111111111111111111" encodes to an all-zero
// 32-byte key; represented here distinctly from chain.ZeroPublicKey's
// "unset" sentinel use elsewhere by convention of this package only
// comparing against SystemProgramID explicitly, never IsZero()).
var SystemProgramID = chain.PublicKey{}

// advanceNonceAccountDiscriminator is the system program instruction
// index for AdvanceNonceAccount. Per spec.md §9's open question, the
// exact source encoding is partially byte-literal; this implementation
// decodes structurally (first 4 bytes as a little-endian instruction
// index) rather than doing a raw byte comparison against a full
// instruction-data blob, per the "SHOULD be by constructed reference
// instruction or by discriminator match, not raw byte comparison"
// guidance.
const advanceNonceAccountDiscriminator uint32 = 4

// computeBudgetProgramID is the well-known compute budget program.
var computeBudgetProgramID = chain.PublicKey{1}

const (
	computeBudgetSetUnitLimitDiscriminator uint8 = 2
	computeBudgetSetUnitPriceDiscriminator uint8 = 3
)

// buildAdvanceNonceAccount constructs the leading instruction required
// whenever a durable nonce is in use (§4.3.2 step 1).
func buildAdvanceNonceAccount(noncePubkey, nonceAuthority chain.PublicKey) chain.Instruction {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, advanceNonceAccountDiscriminator)
	return chain.Instruction{
		ProgramID: SystemProgramID,
		Accounts: []chain.AccountMeta{
			{Pubkey: noncePubkey, IsSigner: false, IsWritable: true},
			{Pubkey: recentBlockhashesSysvar, IsSigner: false, IsWritable: false},
			{Pubkey: nonceAuthority, IsSigner: true, IsWritable: false},
		},
		Data: data,
	}
}

// recentBlockhashesSysvar is the well-known recent-blockhashes sysvar
// account required by AdvanceNonceAccount.
var recentBlockhashesSysvar = chain.PublicKey{2}

func buildSetComputeUnitLimit(units uint32) chain.Instruction {
	data := make([]byte, 5)
	data[0] = computeBudgetSetUnitLimitDiscriminator
	binary.LittleEndian.PutUint32(data[1:], units)
	return chain.Instruction{ProgramID: computeBudgetProgramID, Data: data}
}

func buildSetComputeUnitPrice(microLamports uint64) chain.Instruction {
	data := make([]byte, 9)
	data[0] = computeBudgetSetUnitPriceDiscriminator
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return chain.Instruction{ProgramID: computeBudgetProgramID, Data: data}
}

// assembleInstructions enforces §4.3.2's ordering invariant: when a
// nonce is in use, advance_nonce_account first, then compute-budget
// instructions, then the DEX instruction(s). Without a nonce, only the
// relative order of compute-budget-before-DEX is preserved.
func assembleInstructions(usesNonce bool, noncePubkey, nonceAuthority chain.PublicKey, cuLimit uint32, cuPrice uint64, dex []chain.Instruction) []chain.Instruction {
	out := make([]chain.Instruction, 0, len(dex)+3)
	if usesNonce {
		out = append(out, buildAdvanceNonceAccount(noncePubkey, nonceAuthority))
	}
	if cuLimit > 0 {
		out = append(out, buildSetComputeUnitLimit(cuLimit))
	}
	if cuPrice > 0 {
		out = append(out, buildSetComputeUnitPrice(cuPrice))
	}
	out = append(out, dex...)
	return out
}

// checkInstructionOrdering is the debug/test-build sanity check from
// §4.3.2 and §9: when a nonce is in use, the first instruction's program
// id must equal the system program and must structurally decode as
// AdvanceNonceAccount. Returns a non-nil *InstructionOrderError on
// failure. It is not gated: build() runs it on every build, in release
// builds too.
type InstructionOrderError struct {
	Reason string
}

func (e *InstructionOrderError) Error() string { return e.Reason }

func checkInstructionOrdering(usesNonce bool, instructions []chain.Instruction) error {
	if !usesNonce {
		return nil
	}
	if len(instructions) == 0 {
		return &InstructionOrderError{Reason: "nonce transaction has no instructions"}
	}
	first := instructions[0]
	if first.ProgramID != SystemProgramID {
		return &InstructionOrderError{Reason: "first instruction is not the system program"}
	}
	if len(first.Data) < 4 {
		return &InstructionOrderError{Reason: "first instruction data too short to decode a discriminator"}
	}
	discriminator := binary.LittleEndian.Uint32(first.Data[:4])
	if discriminator != advanceNonceAccountDiscriminator {
		return &InstructionOrderError{Reason: "first instruction does not decode as AdvanceNonceAccount"}
	}
	return nil
}
