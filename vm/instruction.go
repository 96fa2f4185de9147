// Package vm implements the Bali Virtual Machine core: the bytecode
// instruction codec, the value model, procedure and task activation
// records, the instruction handler table, and the fetch/execute loop.
package vm

import "fmt"

// Word is a single 16-bit bytecode instruction.
type Word uint16

// Op is the 3-bit operation code occupying bits 15-13 of a Word.
type Op uint8

const (
	OpJump Op = iota
	OpPush
	OpPop
	OpLoad
	OpStore
	OpInvoke
	OpExecute
	OpHandle
)

func (o Op) String() string {
	switch o {
	case OpJump:
		return "JUMP"
	case OpPush:
		return "PUSH"
	case OpPop:
		return "POP"
	case OpLoad:
		return "LOAD"
	case OpStore:
		return "STORE"
	case OpInvoke:
		return "INVOKE"
	case OpExecute:
		return "EXECUTE"
	case OpHandle:
		return "HANDLE"
	default:
		return "???"
	}
}

// Mod is the 2-bit modifier occupying bits 12-11 of a Word. Its meaning is
// op-dependent; each op's modifier namespace gets its own named constants
// below even where the underlying integer values coincide, because the
// same bit pattern means different things under different ops.
type Mod uint8

const (
	// JUMP conditions.
	ModJumpAlways  Mod = 0
	ModJumpOnNone  Mod = 1
	ModJumpOnTrue  Mod = 2
	ModJumpOnFalse Mod = 3

	// PUSH sources.
	ModPushHandler Mod = 0
	ModPushElement Mod = 1
	ModPushCode    Mod = 2

	// POP targets.
	ModPopHandler   Mod = 0
	ModPopComponent Mod = 1

	// LOAD symbol-table classes. DOCUMENT subsumes draft reads: the
	// repository call dispatches on whether the citation's digest is
	// "none" (draft, fetched by tag+version) or populated (committed
	// document, fetched by content digest) -- see spec.md §4.E.
	ModLoadVariable  Mod = 0
	ModLoadParameter Mod = 1
	ModLoadDocument  Mod = 2
	ModLoadMessage   Mod = 3

	// STORE symbol-table classes. Parameters are immutable once a call is
	// entered, so STORE has no PARAMETER modifier; DOCUMENT and DRAFT are
	// distinct here (commit vs. save-draft) where LOAD folds them together.
	ModStoreVariable Mod = 0
	ModStoreDocument Mod = 1
	ModStoreDraft    Mod = 2
	ModStoreMessage  Mod = 3

	// EXECUTE variants.
	ModExecuteBare                   Mod = 0
	ModExecuteWithParameters         Mod = 1
	ModExecuteOnTarget               Mod = 2
	ModExecuteOnTargetWithParameters Mod = 3

	// HANDLE variants.
	ModHandleException Mod = 0
	ModHandleResult     Mod = 1
)

const (
	opcodeMask  Word = 0xE000
	modcodeMask Word = 0x1800
	operandMask Word = 0x07FF

	opcodeShift  = 13
	modcodeShift = 11
)

// Encode packs an operation, modifier, and operand into a 16-bit word.
// It does not validate the combination; use IsValid for that.
func Encode(op Op, mod Mod, operand uint16) Word {
	return Word(uint16(op&0x7)<<opcodeShift | uint16(mod&0x3)<<modcodeShift | operand&uint16(operandMask))
}

// DecodeOp extracts the operation from a word.
func DecodeOp(w Word) Op {
	return Op((w & opcodeMask) >> opcodeShift)
}

// DecodeMod extracts the modifier from a word.
func DecodeMod(w Word) Mod {
	return Mod((w & modcodeMask) >> modcodeShift)
}

// DecodeOperand extracts the 11-bit operand from a word.
func DecodeOperand(w Word) uint16 {
	return uint16(w & operandMask)
}

// OperandIsAddress reports whether this word's operand is a bytecode
// address (as opposed to a 1-based table index).
func OperandIsAddress(w Word) bool {
	op := DecodeOp(w)
	mod := DecodeMod(w)
	switch op {
	case OpJump:
		return true
	case OpPush:
		return mod == ModPushHandler
	default:
		return false
	}
}

// OperandIsIndex reports whether this word's operand is a 1-based index
// into a literal/variable/parameter table, an intrinsic table, or a
// procedure table.
func OperandIsIndex(w Word) bool {
	op := DecodeOp(w)
	return !OperandIsAddress(w) && op != OpHandle && op != OpPop
}

// IsValid reports whether w encodes one of the defined (op, mod, operand)
// combinations per spec.md §4.A's classification table.
func IsValid(w Word) bool {
	op := DecodeOp(w)
	mod := DecodeMod(w)
	operand := DecodeOperand(w)

	switch op {
	case OpJump:
		// SKIP is JUMP with operand 0 and mod 0; any other zero-operand
		// combination is invalid.
		if operand == 0 {
			return mod == ModJumpAlways
		}
		return true

	case OpPush:
		switch mod {
		case ModPushHandler, ModPushElement, ModPushCode:
			return operand > 0
		default:
			return false
		}

	case OpPop:
		switch mod {
		case ModPopHandler, ModPopComponent:
			return operand == 0
		default:
			return false
		}

	case OpLoad:
		switch mod {
		case ModLoadVariable, ModLoadParameter, ModLoadDocument, ModLoadMessage:
			return operand >= 1
		default:
			return false
		}

	case OpStore:
		switch mod {
		case ModStoreVariable, ModStoreDocument, ModStoreDraft, ModStoreMessage:
			return operand >= 1
		default:
			return false
		}

	case OpInvoke:
		// mod is the arity, 0..3, always valid; operand must be a positive
		// intrinsic index.
		return operand >= 1

	case OpExecute:
		// mod selects one of the four EXECUTE variants, all valid; operand
		// must be a positive procedure index.
		return operand >= 1

	case OpHandle:
		switch mod {
		case ModHandleException, ModHandleResult:
			return operand == 0
		default:
			return false
		}

	default:
		return false
	}
}

// IsSkip reports whether w is the distinguished NOOP/SKIP instruction:
// JUMP with operand 0 and modifier 0.
func IsSkip(w Word) bool {
	return DecodeOp(w) == OpJump && DecodeMod(w) == ModJumpAlways && DecodeOperand(w) == 0
}

// mnemonic renders the (op, mod) pair as the disassembly mnemonic used in
// the table format from spec.md §4.A.
func mnemonic(w Word) string {
	op := DecodeOp(w)
	mod := DecodeMod(w)

	switch op {
	case OpJump:
		if IsSkip(w) {
			return "SKIP"
		}
		switch mod {
		case ModJumpAlways:
			return "JUMP TO"
		case ModJumpOnNone:
			return "JUMP TO ON NONE"
		case ModJumpOnTrue:
			return "JUMP TO ON TRUE"
		case ModJumpOnFalse:
			return "JUMP TO ON FALSE"
		}
	case OpPush:
		switch mod {
		case ModPushHandler:
			return "PUSH HANDLER"
		case ModPushElement:
			return "PUSH ELEMENT"
		case ModPushCode:
			return "PUSH CODE"
		}
	case OpPop:
		switch mod {
		case ModPopHandler:
			return "POP HANDLER"
		case ModPopComponent:
			return "POP COMPONENT"
		}
	case OpLoad:
		switch mod {
		case ModLoadVariable:
			return "LOAD VARIABLE"
		case ModLoadParameter:
			return "LOAD PARAMETER"
		case ModLoadDocument:
			return "LOAD DOCUMENT"
		case ModLoadMessage:
			return "LOAD MESSAGE"
		}
	case OpStore:
		switch mod {
		case ModStoreVariable:
			return "STORE VARIABLE"
		case ModStoreDocument:
			return "STORE DOCUMENT"
		case ModStoreDraft:
			return "STORE DRAFT"
		case ModStoreMessage:
			return "STORE MESSAGE"
		}
	case OpInvoke:
		return fmt.Sprintf("INVOKE WITH %d ARGUMENTS", mod)
	case OpExecute:
		switch mod {
		case ModExecuteBare:
			return "EXECUTE PROCEDURE"
		case ModExecuteWithParameters:
			return "EXECUTE PROCEDURE WITH PARAMETERS"
		case ModExecuteOnTarget:
			return "EXECUTE PROCEDURE ON TARGET"
		case ModExecuteOnTargetWithParameters:
			return "EXECUTE PROCEDURE ON TARGET WITH PARAMETERS"
		}
	case OpHandle:
		switch mod {
		case ModHandleException:
			return "HANDLE EXCEPTION"
		case ModHandleResult:
			return "HANDLE RESULT"
		}
	}
	return "RESERVED"
}

// Disassemble renders a single instruction word as one disassembly table
// row: "ADDR:  WWWW  OM  OPER  MNEMONIC". addr is the 1-based address of
// the word within its procedure's bytecode.
func Disassemble(addr int, w Word) string {
	operandStr := fmt.Sprintf("%d", DecodeOperand(w))
	if OperandIsAddress(w) && DecodeOperand(w) != 0 {
		operandStr = fmt.Sprintf("[%03X]", DecodeOperand(w))
	}
	return fmt.Sprintf("[%03X]: %04X  %d%d  %5s  %s",
		addr, uint16(w), DecodeOp(w), DecodeMod(w), operandStr, mnemonic(w))
}

// DisassembleProcedure renders a full bytecode array as a header line
// followed by one row per word, per spec.md §4.A.
func DisassembleProcedure(name string, bytecode []Word) string {
	out := fmt.Sprintf("procedure %s (%d instructions):\n", name, len(bytecode))
	for i, w := range bytecode {
		out += Disassemble(i+1, w) + "\n"
	}
	return out
}
