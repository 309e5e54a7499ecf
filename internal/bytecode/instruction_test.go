// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"errors"
	"testing"
)

func TestDecodeMove(t *testing.T) {
	// Low byte first: opcode MOVE (0) in bits 0-6, A=0 in bits 7-14, B=3 in bits 16-23.
	instr, err := Decode(0x00030000 | uint32(OpMove))
	if err != nil {
		t.Fatal(err)
	}
	if got := instr.OpCode(); got != OpMove {
		t.Errorf("OpCode() = %v, want %v", got, OpMove)
	}
	if got := instr.ArgA(); got != 0 {
		t.Errorf("ArgA() = %d, want 0", got)
	}
	if got := instr.ArgB(); got != 3 {
		t.Errorf("ArgB() = %d, want 3", got)
	}
}

func TestDecodeInvalidOpcode(t *testing.T) {
	const badIndex = 0x7f // all 7 opcode bits set: out of the 0..82 range.
	_, err := Decode(badIndex)
	var invalid *InvalidOpcode
	if err == nil {
		t.Fatal("Decode did not return an error for an out-of-range opcode")
	}
	if !errors.As(err, &invalid) {
		t.Fatalf("Decode error = %v, want *InvalidOpcode", err)
	}
	if invalid.Index != badIndex {
		t.Errorf("InvalidOpcode.Index = %d, want %d", invalid.Index, badIndex)
	}
}

func TestABxRoundTrip(t *testing.T) {
	for _, sBx := range []int32{-offsetBx, maxArgBx - offsetBx, 0, 5, -5} {
		instr := ABxInstruction(OpLoadI, 7, sBx)
		if got := instr.ArgA(); got != 7 {
			t.Errorf("sBx=%d: ArgA() = %d, want 7", sBx, got)
		}
		if got := instr.ArgBx(); got != sBx {
			t.Errorf("sBx=%d: ArgBx() = %d, want %d", sBx, got, sBx)
		}
	}
}

func TestJInstructionRoundTrip(t *testing.T) {
	for _, j := range []int32{-offsetJ, maxArgJ - offsetJ, 0, 2, -2} {
		instr := JInstruction(OpJMP, j)
		if got := instr.J(); got != j {
			t.Errorf("j=%d: J() = %d, want %d", j, got, j)
		}
	}
}

func TestABCInstructionRoundTrip(t *testing.T) {
	instr := ABCInstruction(OpAdd, 1, 2, 3, true)
	if instr.ArgA() != 1 || instr.ArgB() != 2 || instr.ArgC() != 3 || !instr.K() {
		t.Errorf("ABCInstruction round trip failed: %#v", instr)
	}
	word := uint32(instr)
	decoded, err := Decode(word)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != instr {
		t.Errorf("Decode(%#08x) = %#08x, want %#08x", word, decoded, instr)
	}
}

func TestSignedImmediates(t *testing.T) {
	instr := ABCInstruction(OpAddI, 0, 1, 0, false)
	instr, _ = setArgC(instr, uint8(int16(-3)+offsetC))
	if got := instr.SignedC(); got != -3 {
		t.Errorf("SignedC() = %d, want -3", got)
	}
}

func setArgC(i Instruction, c uint8) (Instruction, bool) {
	if i.OpCode().OpMode() != OpModeABC {
		return i, false
	}
	const mask = maxArgC << posC
	return i&^mask | Instruction(c)<<posC, true
}
