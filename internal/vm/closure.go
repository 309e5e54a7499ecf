// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package vm

import (
	"sort"

	"github.com/devDesu/RustyMoon/internal/bytecode"
)

// Function is a callback for a function implemented in Go and exposed to
// loaded code as a callable value. It follows the same calling convention
// as a loaded closure: arguments and results are passed through the
// [Thread]'s value stack.
type Function func(*Thread) (int, error)

// function is the common interface of every callable value.
type function interface {
	value
	upvaluesSlice() []*upvalue
}

var (
	_ function = (*goFunction)(nil)
	_ function = (*closure)(nil)
)

type goFunction struct {
	name     string
	cb       Function
	upvalues []*upvalue
}

func (*goFunction) Type() Type                 { return TypeFunction }
func (f *goFunction) upvaluesSlice() []*upvalue { return f.upvalues }

// closure pairs a loaded prototype with the concrete upvalue cells it
// closed over when it was created by an OpClosure instruction.
type closure struct {
	proto    *bytecode.Proto
	upvalues []*upvalue
}

func (*closure) Type() Type                 { return TypeFunction }
func (f *closure) upvaluesSlice() []*upvalue { return f.upvalues }

// upvalue is a variable captured from an enclosing scope. It is open while
// stackIndex addresses a live slot in the owning [Thread]'s value stack and
// closed once that slot has gone out of scope, at which point its value is
// copied into storage. At most one open upvalue cell exists per stack slot
// at any time, guaranteed by [Thread.stackUpvalue].
type upvalue struct {
	stackIndex int
	storage    value
}

func closedUpvalue(v value) *upvalue {
	return &upvalue{stackIndex: -1, storage: v}
}

func (uv *upvalue) isOpen() bool { return uv.stackIndex >= 0 }

// stackUpvalue returns the open upvalue cell for stack index i, creating
// one if none exists yet. The slot is recorded in openUpvalueSlots so the
// set stays ordered by stack index.
func (th *Thread) stackUpvalue(i int) *upvalue {
	if uv, ok := th.openUpvalues[i]; ok {
		return uv
	}
	uv := &upvalue{stackIndex: i}
	if th.openUpvalues == nil {
		th.openUpvalues = make(map[int]*upvalue)
	}
	th.openUpvalues[i] = uv
	th.openUpvalueSlots.Add(i)
	return uv
}

// resolveUpvalue returns a pointer to the variable an upvalue cell
// currently denotes. The pointer is only valid until the next time the
// stack is resized.
func (th *Thread) resolveUpvalue(uv *upvalue) *value {
	if uv.isOpen() {
		return &th.stack[uv.stackIndex]
	}
	return &uv.storage
}

// closeUpvalues closes every open upvalue cell addressing a stack slot at
// or above bottom, lifting its value off the stack. openUpvalueSlots is
// kept in ascending order, so the slots to close are exactly its suffix
// starting at the first index ≥ bottom, found with one binary search and
// closed in a single pass with no need to revisit slots below bottom.
func (th *Thread) closeUpvalues(bottom int) {
	n := th.openUpvalueSlots.Len()
	lo := sort.Search(n, func(i int) bool { return th.openUpvalueSlots.At(i) >= bottom })
	for i := n - 1; i >= lo; i-- {
		slot := th.openUpvalueSlots.At(i)
		uv := th.openUpvalues[slot]
		uv.storage = th.stack[slot]
		uv.stackIndex = -1
		delete(th.openUpvalues, slot)
		th.openUpvalueSlots.Delete(slot)
	}
}
