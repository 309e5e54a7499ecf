// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package vm

import (
	"context"
	"fmt"

	"github.com/devDesu/RustyMoon/internal/bytecode"
	"github.com/devDesu/RustyMoon/sets"
)

// MultipleReturns is used in place of a fixed result count to request every
// result a call produces, mirroring the bytecode's own -1 encoding for
// "however many there are".
const MultipleReturns = -1

// Limits bounds the resources a single [Thread] may consume, so that a
// runaway or malicious chunk cannot exhaust host memory.
type Limits struct {
	// MaxCallDepth caps the number of nested call frames.
	MaxCallDepth int
	// MaxStackSize caps the number of value-stack slots.
	MaxStackSize int
}

// DefaultLimits returns the limits a CLI invocation uses absent explicit
// configuration.
func DefaultLimits() Limits {
	return Limits{
		MaxCallDepth: 200,
		MaxStackSize: 1 << 20,
	}
}

// Thread is one independent execution context: a value stack and a call
// stack of activation records. A Thread is not safe for concurrent use.
type Thread struct {
	stack     []value
	callStack []callInfo
	// openUpvalueSlots tracks, in ascending order, the stack slots with a
	// live open upvalue cell, so closeUpvalues can binary-search the
	// boundary of the suffix to close in a single pass rather than
	// scanning every open cell.
	openUpvalueSlots sets.Sorted[int]
	openUpvalues     map[int]*upvalue
	tbc              sets.Bit
	limits           Limits
	// ctx is consulted cooperatively between instructions while exec is
	// driving this thread; it is nil outside of a Call.
	ctx context.Context
	// trace, if non-nil, is called with each decoded instruction
	// immediately before it executes.
	trace func(proto *bytecode.Proto, pc int, instr bytecode.Instruction)
}

// SetTrace installs a hook called with each decoded instruction
// immediately before it executes, or clears it if fn is nil. It is meant
// for diagnostic use (e.g. the driver's --trace flag); it has no effect on
// interpreter semantics.
func (th *Thread) SetTrace(fn func(proto *bytecode.Proto, pc int, instr bytecode.Instruction)) {
	th.trace = fn
}

// NewThread returns a new, empty Thread governed by the given limits.
func NewThread(limits Limits) *Thread {
	return &Thread{
		stack:  make([]value, 0, 256),
		limits: limits,
	}
}

// callInfo is the activation record for one call, Lua or Go.
//
// The calling convention places a called value followed by its arguments on
// the stack. Registers are the MaxStackSize slots after the function value;
// register 0 is therefore the first stack slot after functionIndex. When a
// vararg function's first instruction is OpVarargPrep, the extra arguments
// have already been rotated below the function slot by prepareCall.
type callInfo struct {
	functionIndex     int
	numExtraArguments int
	numResults        int
	pc                int
	isTailCall        bool
}

func (ci callInfo) framePointer() int   { return ci.functionIndex - ci.numExtraArguments }
func (ci callInfo) registerStart() int  { return ci.functionIndex + 1 }
func (ci callInfo) extraArgumentsRange() (start, end int) {
	return ci.framePointer(), ci.functionIndex
}

func (th *Thread) frame() *callInfo {
	return &th.callStack[len(th.callStack)-1]
}

func (th *Thread) depth() int { return len(th.callStack) }

// Top returns the number of values from the current frame's first register
// up to the stack top, the Lua-visible stack top used by variadic Go
// functions.
func (th *Thread) Top() int {
	if len(th.callStack) == 0 {
		return len(th.stack)
	}
	return len(th.stack) - th.frame().registerStart()
}

// Push appends a value to the stack, growing it if the configured limit
// allows.
func (th *Thread) Push(v value) error {
	if !th.grow(len(th.stack) + 1) {
		return &StackOverflow{Limit: th.limits.MaxStackSize}
	}
	th.stack = append(th.stack, v)
	return nil
}

// grow reports whether the stack can be resized to hold n slots, and if so
// ensures its capacity does.
func (th *Thread) grow(n int) bool {
	if n > th.limits.MaxStackSize {
		return false
	}
	if n <= cap(th.stack) {
		return true
	}
	newStack := make([]value, len(th.stack), max(n, 2*cap(th.stack)))
	copy(newStack, th.stack)
	th.stack = newStack
	return true
}

// setTop resizes the stack to exactly n slots, clearing any slots beyond
// the previous length and ignoring limits since n is always derived from an
// already-validated index.
func (th *Thread) setTop(n int) {
	if n <= len(th.stack) {
		clear(th.stack[n:])
		th.stack = th.stack[:n]
		return
	}
	if cap(th.stack) < n {
		th.grow(n)
	}
	th.stack = th.stack[:n]
}

// Call invokes fn with the given arguments and returns its results. It is
// the entry point for host code (the CLI driver, tests) to start execution
// on an otherwise idle thread. ctx is polled cooperatively between
// instructions; a nil ctx disables cancellation.
func (th *Thread) Call(ctx context.Context, fn value, args []value, numResults int) ([]value, error) {
	if ctx != nil {
		prev := th.ctx
		th.ctx = ctx
		defer func() { th.ctx = prev }()
	}
	functionIndex := len(th.stack)
	if err := th.Push(fn); err != nil {
		return nil, err
	}
	for _, a := range args {
		if err := th.Push(a); err != nil {
			return nil, err
		}
	}
	isLua, err := th.prepareCall(functionIndex, numResults, false)
	if err != nil {
		return nil, err
	}
	if isLua {
		if err := th.exec(); err != nil {
			return nil, err
		}
	}
	n := numResults
	if n == MultipleReturns {
		n = len(th.stack) - functionIndex
	}
	results := make([]value, n)
	copy(results, th.stack[functionIndex:])
	th.setTop(functionIndex)
	return results, nil
}

// prepareCall sets up a new activation record for the callable value at
// th.stack[functionIndex]. It reports whether the callee is a loaded
// closure requiring the caller to drive th.exec, as opposed to a Go
// function, which prepareCall runs to completion itself.
func (th *Thread) prepareCall(functionIndex, numResults int, isTailCall bool) (isLua bool, err error) {
	if !isTailCall && th.depth() >= th.limits.MaxCallDepth {
		return false, &StackOverflow{Limit: th.limits.MaxCallDepth}
	}
	fn, ok := th.stack[functionIndex].(function)
	if !ok {
		return false, &InternalInvariant{What: fmt.Sprintf("attempt to call a %s value", typeOf(th.stack[functionIndex]))}
	}

	switch fn := fn.(type) {
	case *goFunction:
		ci := callInfo{functionIndex: functionIndex, numResults: numResults, isTailCall: isTailCall}
		if isTailCall {
			th.callStack[len(th.callStack)-1] = ci
		} else {
			th.callStack = append(th.callStack, ci)
		}
		n, err := fn.cb(th)
		if err != nil {
			return false, err
		}
		th.finishCall(n)
		return false, nil
	case *closure:
		numParams := int(fn.proto.NumParams)
		numArgs := len(th.stack) - functionIndex - 1
		numExtra := 0
		if fn.proto.IsVararg && numArgs > numParams {
			numExtra = numArgs - numParams
			// Rotate the extra arguments below the function slot so that
			// extraArgumentsRange can address them without copying on
			// every OpVararg.
			fnAndParams := append([]value(nil), th.stack[functionIndex:functionIndex+1+numParams]...)
			extra := append([]value(nil), th.stack[functionIndex+1+numParams:]...)
			copy(th.stack[functionIndex:], extra)
			copy(th.stack[functionIndex+numExtra:], fnAndParams)
			functionIndex += numExtra
		}
		if !th.grow(functionIndex + 1 + int(fn.proto.MaxStackSize)) {
			return false, &StackOverflow{Limit: th.limits.MaxStackSize}
		}
		th.setTop(functionIndex + 1 + int(fn.proto.MaxStackSize))
		ci := callInfo{
			functionIndex:     functionIndex,
			numExtraArguments: numExtra,
			numResults:        numResults,
			isTailCall:        isTailCall,
		}
		if isTailCall {
			th.callStack[len(th.callStack)-1] = ci
		} else {
			th.callStack = append(th.callStack, ci)
		}
		return true, nil
	default:
		return false, &InternalInvariant{What: "unrecognized function implementation"}
	}
}

// finishCall moves the top numResults stack values down to where the
// caller expects them and pops the call stack.
func (th *Thread) finishCall(numResults int) {
	frame := *th.frame()
	results := th.stack[len(th.stack)-numResults:]
	dest := th.stack[frame.framePointer():]

	wanted := frame.numResults
	if wanted == MultipleReturns {
		wanted = numResults
	}

	n := copy(dest, results)
	if wanted > n {
		clear(dest[n:wanted])
	}
	clear(dest[max(n, wanted):])
	th.setTop(frame.framePointer() + wanted)

	th.callStack = th.callStack[:len(th.callStack)-1]
}

// markTBC registers the value at stack index i as to-be-closed. This
// runtime has no "__close" metamethod dispatch, so it accepts any truthy
// value and simply tracks it for the ordering invariant; closeTBCSlots is a
// bookkeeping no-op beyond clearing the bitset.
func (th *Thread) markTBC(i int) error {
	if !toBoolean(th.stack[i]) {
		return nil
	}
	th.tbc.Add(uint(i))
	return nil
}

// closeTBCSlots forgets every to-be-closed slot at or above bottom, in
// last-in-first-out order, matching the scope-exit ordering a full
// "__close" implementation would observe.
func (th *Thread) closeTBCSlots(bottom int) {
	for tbc := range th.tbc.Reversed() {
		if tbc < uint(bottom) {
			break
		}
		th.tbc.Delete(tbc)
	}
}

func sourceLocation(p *bytecode.Proto, pc int) string {
	line := 0
	if pc >= 0 && pc < len(p.LineInfo) {
		line = int(p.LineInfo[pc])
	}
	source := p.Source
	if source == "" {
		source = "?"
	}
	return fmt.Sprintf("%s:%d", source, line)
}

func functionLocation(p *bytecode.Proto) string {
	source := p.Source
	if source == "" {
		source = "?"
	}
	return fmt.Sprintf("%s:%d", source, p.LineDefined)
}
