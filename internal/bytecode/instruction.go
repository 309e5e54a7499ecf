// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

// Package bytecode decodes and loads pre-compiled register-machine bytecode
// chunks: the 32-bit instruction format and the recursive function-prototype
// deserializer that builds a Proto tree from a chunk's bytes.
package bytecode

import "fmt"

// Instruction is a single decoded virtual machine instruction: an opcode
// packed together with its operand bundle in one 32-bit word.
type Instruction uint32

const sizeOpCode = 7

// OpCode returns the instruction's opcode.
func (i Instruction) OpCode() OpCode {
	return OpCode(i & (1<<sizeOpCode - 1))
}

// Decode validates and wraps a raw 32-bit instruction word.
//
// The low 7 bits select the opcode; Decode fails with [*InvalidOpcode] if
// they do not name one of the known opcodes. Decode never allocates and
// performs no I/O.
func Decode(word uint32) (Instruction, error) {
	i := Instruction(word)
	op := i.OpCode()
	if !op.IsValid() {
		return 0, &InvalidOpcode{Raw: word, Index: int(op)}
	}
	return i, nil
}

const (
	sizeA   = 8
	maxArgA = 1<<sizeA - 1
	posA    = sizeOpCode
)

// ArgA returns the A operand of an iABC, iABx, or iAsBx instruction.
func (i Instruction) ArgA() uint8 {
	switch i.OpCode().OpMode() {
	case OpModeABC, OpModeABx, OpModeAsBx:
		return uint8(i >> posA)
	default:
		return 0
	}
}

const (
	sizeB   = 8
	maxArgB = 1<<sizeB - 1
	posB    = posK + sizeK
)

// ArgB returns the B operand of an iABC instruction.
func (i Instruction) ArgB() uint8 {
	if i.OpCode().OpMode() != OpModeABC {
		return 0
	}
	return uint8(i >> posB)
}

const (
	sizeAx   = 25
	maxArgAx = 1<<sizeAx - 1
	posAx    = sizeOpCode
)

// ArgAx returns the Ax operand of an EXTRAARG instruction.
func (i Instruction) ArgAx() uint32 {
	if i.OpCode().OpMode() != OpModeAx {
		return 0
	}
	return uint32(i >> posAx)
}

const (
	sizeBx   = 17
	maxArgBx = 1<<sizeBx - 1
	posBx    = posA + sizeA
	offsetBx = maxArgBx >> 1
)

// ArgBx returns the Bx (iABx) or signed sBx (iAsBx) operand.
func (i Instruction) ArgBx() int32 {
	switch i.OpCode().OpMode() {
	case OpModeABx:
		return int32(i >> posBx)
	case OpModeAsBx:
		return int32(i>>posBx) - offsetBx
	default:
		return 0
	}
}

const (
	sizeC   = 8
	maxArgC = 1<<sizeC - 1
	offsetC = maxArgC >> 1
	posC    = posB + sizeB
)

// ArgC returns the C operand of an iABC instruction.
func (i Instruction) ArgC() uint8 {
	if i.OpCode().OpMode() != OpModeABC {
		return 0
	}
	return uint8(i >> posC)
}

// SignedB returns the B operand of an iABC instruction interpreted as a
// signed 8-bit immediate (excess-127).
func (i Instruction) SignedB() int16 {
	return int16(i.ArgB()) - offsetC
}

// SignedC returns the C operand of an iABC instruction interpreted as a
// signed 8-bit immediate (excess-127).
func (i Instruction) SignedC() int16 {
	return int16(i.ArgC()) - offsetC
}

const (
	sizeK = 1
	posK  = posA + sizeA
)

// K reports the k flag of an iABC instruction.
func (i Instruction) K() bool {
	return i.OpCode().OpMode() == OpModeABC && i&(1<<posK) != 0
}

const (
	maxArgJ = 1<<25 - 1
	posJ    = sizeOpCode
	offsetJ = maxArgJ >> 1
	noJump  = -1
)

// J returns the jump offset of an isJ instruction, relative to the
// instruction following the jump.
func (i Instruction) J() int32 {
	if i.OpCode().OpMode() != OpModeJ {
		return noJump
	}
	return int32(i>>posJ) - offsetJ
}

// ABCInstruction builds an iABC instruction. It panics if op's format is not
// [OpModeABC].
func ABCInstruction(op OpCode, a, b, c uint8, k bool) Instruction {
	if op.OpMode() != OpModeABC {
		panic("bytecode: ABCInstruction with non-ABC opcode")
	}
	var kflag Instruction
	if k {
		kflag = 1 << posK
	}
	return Instruction(op) | Instruction(a)<<posA | kflag | Instruction(b)<<posB | Instruction(c)<<posC
}

// ABxInstruction builds an iABx or iAsBx instruction, as determined by op's
// format. It panics if op's format is neither.
func ABxInstruction(op OpCode, a uint8, bx int32) Instruction {
	switch op.OpMode() {
	case OpModeABx:
		if bx < 0 || bx > maxArgBx {
			panic("bytecode: Bx argument out of range")
		}
		return Instruction(op) | Instruction(a)<<posA | Instruction(bx)<<posBx
	case OpModeAsBx:
		if bx < -offsetBx || bx > maxArgBx-offsetBx {
			panic("bytecode: sBx argument out of range")
		}
		return Instruction(op) | Instruction(a)<<posA | Instruction(bx+offsetBx)<<posBx
	default:
		panic("bytecode: ABxInstruction with incompatible opcode")
	}
}

// AxInstruction builds an EXTRAARG instruction carrying ax.
func AxInstruction(ax uint32) Instruction {
	if ax > maxArgAx {
		panic("bytecode: Ax argument out of range")
	}
	return Instruction(OpExtraArg) | Instruction(ax)<<posAx
}

// JInstruction builds an isJ instruction with the given relative offset. It
// panics if op's format is not [OpModeJ].
func JInstruction(op OpCode, j int32) Instruction {
	if op.OpMode() != OpModeJ {
		panic("bytecode: JInstruction with non-jump opcode")
	}
	return Instruction(op) | Instruction(j+offsetJ)<<posJ
}

// String renders the instruction in a luac-listing style: mnemonic followed
// by its decoded operands.
func (i Instruction) String() string {
	switch op := i.OpCode(); op.OpMode() {
	case OpModeABC:
		k := 0
		if i.K() {
			k = 1
		}
		return fmt.Sprintf("%-10s %d %d %d %d", op, i.ArgA(), i.ArgB(), i.ArgC(), k)
	case OpModeABx:
		return fmt.Sprintf("%-10s %d %d", op, i.ArgA(), i.ArgBx())
	case OpModeAsBx:
		return fmt.Sprintf("%-10s %d %d", op, i.ArgA(), i.ArgBx())
	case OpModeAx:
		return fmt.Sprintf("%-10s %d", op, i.ArgAx())
	case OpModeJ:
		return fmt.Sprintf("%-10s %+d", op, i.J())
	default:
		return fmt.Sprintf("Instruction(%#08x)", uint32(i))
	}
}

// OpCode enumerates the instruction opcodes understood by the decoder.
type OpCode uint8

// IsValid reports whether op names one of the known opcodes.
func (op OpCode) IsValid() bool {
	return op <= maxOpCode
}

func (op OpCode) props() byte {
	if !op.IsValid() {
		return 0
	}
	return opProps[op]
}

// OpMode returns the operand format an instruction with this opcode uses.
func (op OpCode) OpMode() OpMode {
	return OpMode(op.props() & 7)
}

// SetsA reports whether an instruction with this opcode writes its A
// operand.
func (op OpCode) SetsA() bool {
	return op.props()&(1<<3) != 0
}

// IsTest reports whether the instruction is a conditional test, which in a
// well-formed chunk is always followed by a jump.
func (op OpCode) IsTest() bool {
	return op.props()&(1<<4) != 0
}

// IsInTop reports whether the instruction consumes the stack top left by the
// previous instruction when its B operand is zero.
func (op OpCode) IsInTop() bool {
	return op.props()&(1<<5) != 0
}

// IsOutTop reports whether the instruction sets the stack top for whichever
// instruction follows, when its C operand is zero.
func (op OpCode) IsOutTop() bool {
	return op.props()&(1<<6) != 0
}

// IsMetamethod reports whether the instruction is a metamethod dispatch
// site. The interpreter in this module always rejects these with
// UnsupportedOperation, since the metamethod protocol is out of scope.
func (op OpCode) IsMetamethod() bool {
	return op.props()&(1<<7) != 0
}

// Opcodes, in the fixed index order the loader and the interpreter both
// depend on.
const (
	OpMove OpCode = iota
	OpLoadI
	OpLoadF
	OpLoadK
	OpLoadKX
	OpLoadFalse
	OpLFalseSkip
	OpLoadTrue
	OpLoadNil
	OpGetUpval
	OpSetUpval
	OpGetTabUp
	OpGetTable
	OpGetI
	OpGetField
	OpSetTabUp
	OpSetTable
	OpSetI
	OpSetField
	OpNewTable
	OpSelf
	OpAddI
	OpAddK
	OpSubK
	OpMulK
	OpModK
	OpPowK
	OpDivK
	OpIDivK
	OpBAndK
	OpBOrK
	OpBXORK
	OpSHRI
	OpSHLI
	OpAdd
	OpSub
	OpMul
	OpMod
	OpPow
	OpDiv
	OpIDiv
	OpBAnd
	OpBOr
	OpBXOR
	OpSHL
	OpSHR
	OpMMBin
	OpMMBinI
	OpMMBinK
	OpUNM
	OpBNot
	OpNot
	OpLen
	OpConcat
	OpClose
	OpTBC
	OpJMP
	OpEQ
	OpLT
	OpLE
	OpEQK
	OpEQI
	OpLTI
	OpLEI
	OpGTI
	OpGEI
	OpTest
	OpTestSet
	OpCall
	OpTailCall
	OpReturn
	OpReturn0
	OpReturn1
	OpForLoop
	OpForPrep
	OpTForPrep
	OpTForCall
	OpTForLoop
	OpSetList
	OpClosure
	OpVararg
	OpVarargPrep
	OpExtraArg

	maxOpCode = OpExtraArg
)

var opProps = [...]byte{
	OpMove:       0b00001000 | byte(OpModeABC),
	OpLoadI:      0b00001000 | byte(OpModeAsBx),
	OpLoadF:      0b00001000 | byte(OpModeAsBx),
	OpLoadK:      0b00001000 | byte(OpModeABx),
	OpLoadKX:     0b00001000 | byte(OpModeABC),
	OpLoadFalse:  0b00001000 | byte(OpModeABC),
	OpLFalseSkip: 0b00001000 | byte(OpModeABC),
	OpLoadTrue:   0b00001000 | byte(OpModeABC),
	OpLoadNil:    0b00001000 | byte(OpModeABC),
	OpGetUpval:   0b00001000 | byte(OpModeABC),
	OpSetUpval:   0b00000000 | byte(OpModeABC),
	OpGetTabUp:   0b00001000 | byte(OpModeABC),
	OpGetTable:   0b00001000 | byte(OpModeABC),
	OpGetI:       0b00001000 | byte(OpModeABC),
	OpGetField:   0b00001000 | byte(OpModeABC),
	OpSetTabUp:   0b00000000 | byte(OpModeABC),
	OpSetTable:   0b00000000 | byte(OpModeABC),
	OpSetI:       0b00000000 | byte(OpModeABC),
	OpSetField:   0b00000000 | byte(OpModeABC),
	OpNewTable:   0b00001000 | byte(OpModeABC),
	OpSelf:       0b00001000 | byte(OpModeABC),
	OpAddI:       0b00001000 | byte(OpModeABC),
	OpAddK:       0b00001000 | byte(OpModeABC),
	OpSubK:       0b00001000 | byte(OpModeABC),
	OpMulK:       0b00001000 | byte(OpModeABC),
	OpModK:       0b00001000 | byte(OpModeABC),
	OpPowK:       0b00001000 | byte(OpModeABC),
	OpDivK:       0b00001000 | byte(OpModeABC),
	OpIDivK:      0b00001000 | byte(OpModeABC),
	OpBAndK:      0b00001000 | byte(OpModeABC),
	OpBOrK:       0b00001000 | byte(OpModeABC),
	OpBXORK:      0b00001000 | byte(OpModeABC),
	OpSHRI:       0b00001000 | byte(OpModeABC),
	OpSHLI:       0b00001000 | byte(OpModeABC),
	OpAdd:        0b00001000 | byte(OpModeABC),
	OpSub:        0b00001000 | byte(OpModeABC),
	OpMul:        0b00001000 | byte(OpModeABC),
	OpMod:        0b00001000 | byte(OpModeABC),
	OpPow:        0b00001000 | byte(OpModeABC),
	OpDiv:        0b00001000 | byte(OpModeABC),
	OpIDiv:       0b00001000 | byte(OpModeABC),
	OpBAnd:       0b00001000 | byte(OpModeABC),
	OpBOr:        0b00001000 | byte(OpModeABC),
	OpBXOR:       0b00001000 | byte(OpModeABC),
	OpSHL:        0b00001000 | byte(OpModeABC),
	OpSHR:        0b00001000 | byte(OpModeABC),
	OpMMBin:      0b10000000 | byte(OpModeABC),
	OpMMBinI:     0b10000000 | byte(OpModeABC),
	OpMMBinK:     0b10000000 | byte(OpModeABC),
	OpUNM:        0b00001000 | byte(OpModeABC),
	OpBNot:       0b00001000 | byte(OpModeABC),
	OpNot:        0b00001000 | byte(OpModeABC),
	OpLen:        0b00001000 | byte(OpModeABC),
	OpConcat:     0b00001000 | byte(OpModeABC),
	OpClose:      0b00000000 | byte(OpModeABC),
	OpTBC:        0b00000000 | byte(OpModeABC),
	OpJMP:        0b00000000 | byte(OpModeJ),
	OpEQ:         0b00010000 | byte(OpModeABC),
	OpLT:         0b00010000 | byte(OpModeABC),
	OpLE:         0b00010000 | byte(OpModeABC),
	OpEQK:        0b00010000 | byte(OpModeABC),
	OpEQI:        0b00010000 | byte(OpModeABC),
	OpLTI:        0b00010000 | byte(OpModeABC),
	OpLEI:        0b00010000 | byte(OpModeABC),
	OpGTI:        0b00010000 | byte(OpModeABC),
	OpGEI:        0b00010000 | byte(OpModeABC),
	OpTest:       0b00010000 | byte(OpModeABC),
	OpTestSet:    0b00011000 | byte(OpModeABC),
	OpCall:       0b01101000 | byte(OpModeABC),
	OpTailCall:   0b01101000 | byte(OpModeABC),
	OpReturn:     0b00100000 | byte(OpModeABC),
	OpReturn0:    0b00000000 | byte(OpModeABC),
	OpReturn1:    0b00000000 | byte(OpModeABC),
	OpForLoop:    0b00001000 | byte(OpModeABx),
	OpForPrep:    0b00001000 | byte(OpModeABx),
	OpTForPrep:   0b00000000 | byte(OpModeABx),
	OpTForCall:   0b00000000 | byte(OpModeABC),
	OpTForLoop:   0b00001000 | byte(OpModeABx),
	OpSetList:    0b00100000 | byte(OpModeABC),
	OpClosure:    0b00001000 | byte(OpModeABx),
	OpVararg:     0b01001000 | byte(OpModeABC),
	OpVarargPrep: 0b00101000 | byte(OpModeABC),
	OpExtraArg:   0b00000000 | byte(OpModeAx),
}

// OpMode enumerates the five instruction operand formats.
type OpMode uint8

// Instruction operand formats.
const (
	OpModeABC OpMode = 1 + iota
	OpModeABx
	OpModeAsBx
	OpModeAx
	OpModeJ
)
