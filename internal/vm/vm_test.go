// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package vm

import (
	"context"
	"errors"
	"testing"

	"github.com/devDesu/RustyMoon/internal/bytecode"
)

func runProto(t *testing.T, proto *bytecode.Proto, args ...Value) []Value {
	t.Helper()
	th := NewThread(DefaultLimits())
	results, err := Run(context.Background(), th, proto, args)
	if err != nil {
		t.Fatal(err)
	}
	return results
}

// TestAddRegisters exercises OpAdd between two registers loaded by OpLoadI,
// then returns the sum with OpReturn1.
func TestAddRegisters(t *testing.T) {
	proto := &bytecode.Proto{
		Source:       "=test",
		MaxStackSize: 3,
		Code: []bytecode.Instruction{
			bytecode.ABxInstruction(bytecode.OpLoadI, 0, 5),
			bytecode.ABxInstruction(bytecode.OpLoadI, 1, 2),
			bytecode.ABCInstruction(bytecode.OpAdd, 2, 0, 1, false),
			bytecode.ABCInstruction(bytecode.OpReturn1, 2, 0, 0, false),
		},
	}
	results := runProto(t, proto)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if got, ok := results[0].(integerValue); !ok || got != 7 {
		t.Errorf("results[0] = %v, want integer 7", results[0])
	}
}

// TestAddImmediate exercises OpAddI, which folds a small signed immediate
// directly into the instruction instead of loading it into a register. The
// C operand is biased by 127 (maxArgC/2), matching [Instruction.SignedC]'s
// excess-K decoding.
func TestAddImmediate(t *testing.T) {
	const signedCBias = 127
	proto := &bytecode.Proto{
		Source:       "=test",
		MaxStackSize: 2,
		Code: []bytecode.Instruction{
			bytecode.ABxInstruction(bytecode.OpLoadI, 0, 5),
			bytecode.ABCInstruction(bytecode.OpAddI, 1, 0, signedCBias+3, false),
			bytecode.ABCInstruction(bytecode.OpReturn1, 1, 0, 0, false),
		},
	}
	results := runProto(t, proto)
	if got, ok := results[0].(integerValue); !ok || got != 8 {
		t.Errorf("results[0] = %v, want integer 8", results[0])
	}
}

// TestIntegerDivisionByZero confirms both // and % fail explicitly instead
// of panicking, the documented fix over the division-only check the
// interpreter this package is modeled on applies.
func TestIntegerDivisionByZero(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   bytecode.OpCode
	}{
		{"IDiv", bytecode.OpIDiv},
		{"Mod", bytecode.OpMod},
	} {
		t.Run(tc.name, func(t *testing.T) {
			proto := &bytecode.Proto{
				Source:       "=test",
				MaxStackSize: 3,
				Code: []bytecode.Instruction{
					bytecode.ABxInstruction(bytecode.OpLoadI, 0, 10),
					bytecode.ABxInstruction(bytecode.OpLoadI, 1, 0),
					bytecode.ABCInstruction(tc.op, 2, 0, 1, false),
					bytecode.ABCInstruction(bytecode.OpReturn1, 2, 0, 0, false),
				},
			}
			th := NewThread(DefaultLimits())
			_, err := Run(context.Background(), th, proto, nil)
			var divErr *DivisionByZero
			if !errors.As(err, &divErr) {
				t.Fatalf("err = %v, want *DivisionByZero", err)
			}
		})
	}
}

// TestNumericForLoop sums 1..5 with a FORPREP/FORLOOP pair, the same
// register layout (index, limit, step, control) the interpreter's loop
// helpers assume.
func TestNumericForLoop(t *testing.T) {
	// Registers: 0=idx 1=limit 2=step 3=control(loop var) 4=accumulator
	proto := &bytecode.Proto{
		Source:       "=test",
		MaxStackSize: 5,
		Code: []bytecode.Instruction{
			bytecode.ABxInstruction(bytecode.OpLoadI, 0, 1),   // idx = 1
			bytecode.ABxInstruction(bytecode.OpLoadI, 1, 5),   // limit = 5
			bytecode.ABxInstruction(bytecode.OpLoadI, 2, 1),   // step = 1
			bytecode.ABxInstruction(bytecode.OpLoadI, 4, 0),   // acc = 0
			bytecode.ABxInstruction(bytecode.OpForPrep, 0, 2),
			bytecode.ABCInstruction(bytecode.OpAdd, 4, 4, 3, false),
			bytecode.ABxInstruction(bytecode.OpForLoop, 0, 2),
			bytecode.ABCInstruction(bytecode.OpReturn1, 4, 0, 0, false),
		},
	}
	results := runProto(t, proto)
	if got, ok := results[0].(integerValue); !ok || got != 15 {
		t.Errorf("results[0] = %v, want integer 15 (1+2+3+4+5)", results[0])
	}
}

// TestCallGoFunction exercises OpCall against a host-provided function
// value, confirming arguments and results cross the Lua/Go calling
// convention correctly.
func TestCallGoFunction(t *testing.T) {
	double := NewGoFunction("double", func(th *Thread) (int, error) {
		n := th.Arg(0).(integerValue)
		if err := th.Push(n * 2); err != nil {
			return 0, err
		}
		return 1, nil
	})

	proto := &bytecode.Proto{
		Source:       "=test",
		NumParams:    1,
		MaxStackSize: 3,
		Code: []bytecode.Instruction{
			// R0 holds the argument, R1 the callee (loaded from an upvalue), R2 the call's argument.
			bytecode.ABCInstruction(bytecode.OpGetUpval, 1, 0, 0, false),
			bytecode.ABCInstruction(bytecode.OpMove, 2, 0, 0, false),
			bytecode.ABCInstruction(bytecode.OpCall, 1, 2, 2, false),
			bytecode.ABCInstruction(bytecode.OpReturn1, 1, 0, 0, false),
		},
		Upvalues: []bytecode.UpvalueDescriptor{
			{InStack: false, Index: 0, Kind: bytecode.RegularVariable},
		},
	}
	th := NewThread(DefaultLimits())
	cl := &closure{proto: proto, upvalues: []*upvalue{closedUpvalue(double)}}
	results, err := th.Call(context.Background(), cl, []Value{IntegerValue(21)}, MultipleReturns)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := results[0].(integerValue); !ok || got != 42 {
		t.Errorf("results[0] = %v, want integer 42", results[0])
	}
}

// TestTableRoundTrip exercises the exported table helpers: a string key is
// set, read back, then removed by assigning nil.
func TestTableRoundTrip(t *testing.T) {
	tbl := NewTable(0)
	if err := TableSet(tbl, StringValue("x"), IntegerValue(9)); err != nil {
		t.Fatal(err)
	}
	if got := TableGet(tbl, StringValue("x")); got.(integerValue) != 9 {
		t.Errorf("TableGet = %v, want 9", got)
	}
	if err := TableSet(tbl, StringValue("x"), NilValue()); err != nil {
		t.Fatal(err)
	}
	if got := TableGet(tbl, StringValue("x")); typeOf(got) != TypeNil {
		t.Errorf("TableGet after delete = %v, want nil", got)
	}
}

// TestStackOverflow confirms a call depth past the configured limit fails
// with the typed StackOverflow error rather than a Go stack overflow.
func TestStackOverflow(t *testing.T) {
	th := NewThread(Limits{MaxCallDepth: 4, MaxStackSize: 1 << 10})
	var recurse Function
	recurse = func(th *Thread) (int, error) {
		fn := NewGoFunction("recurse", recurse)
		return 0, errorOnly(th.Call(context.Background(), fn, nil, 0))
	}
	fn := NewGoFunction("recurse", recurse)
	_, err := th.Call(context.Background(), fn, nil, 0)
	var overflow *StackOverflow
	if !errors.As(err, &overflow) {
		t.Fatalf("err = %v, want *StackOverflow", err)
	}
}

// TestTailCallConstantStackDepth exercises OpTailCall in a self-recursive
// loop: a function that, given a non-zero counter, tail-calls itself with
// the counter decremented, and otherwise returns it. TAILCALL is required
// to relocate the callee to the current call's function slot (not one past
// it), so repeated tail calls reuse the same stack window instead of
// growing it by one slot per call; a thread with a stack limit far smaller
// than the iteration count must still complete without a StackOverflow.
func TestTailCallConstantStackDepth(t *testing.T) {
	const signedCBias = 127
	const maxStackSize = 16
	proto := &bytecode.Proto{
		Source:       "=test",
		NumParams:    1,
		MaxStackSize: 3,
		Code: []bytecode.Instruction{
			// R0 == 0 ?
			bytecode.ABCInstruction(bytecode.OpEQI, 0, signedCBias, 0, true),
			bytecode.JInstruction(bytecode.OpJMP, 3), // -> RETURN1 when R0 == 0
			bytecode.ABCInstruction(bytecode.OpGetUpval, 1, 0, 0, false),
			bytecode.ABCInstruction(bytecode.OpAddI, 2, 0, signedCBias-1, false), // R2 = R0 - 1
			bytecode.ABCInstruction(bytecode.OpTailCall, 1, 2, 0, false),
			bytecode.ABCInstruction(bytecode.OpReturn1, 0, 0, 0, false),
		},
		Upvalues: []bytecode.UpvalueDescriptor{
			{InStack: false, Index: 0, Kind: bytecode.RegularVariable},
		},
	}
	cl := &closure{proto: proto}
	cl.upvalues = []*upvalue{closedUpvalue(cl)}

	th := NewThread(Limits{MaxCallDepth: 4, MaxStackSize: maxStackSize})
	maxLen := 0
	th.SetTrace(func(*bytecode.Proto, int, bytecode.Instruction) {
		if n := len(th.stack); n > maxLen {
			maxLen = n
		}
	})

	const iterations = 1000
	results, err := th.Call(context.Background(), cl, []Value{IntegerValue(iterations)}, MultipleReturns)
	if err != nil {
		t.Fatalf("Call: %v (stack grew to %d slots; OpTailCall is not reusing the caller's frame)", err, maxLen)
	}
	if got, ok := results[0].(integerValue); !ok || got != 0 {
		t.Errorf("results[0] = %v, want integer 0", results[0])
	}
	if maxLen > maxStackSize {
		t.Errorf("stack grew to %d slots across %d tail calls, want <= %d", maxLen, iterations, maxStackSize)
	}
}

func errorOnly(_ []Value, err error) error { return err }
