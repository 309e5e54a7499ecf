// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package vm

import (
	"context"
	"fmt"

	"github.com/devDesu/RustyMoon/internal/bytecode"
)

// yieldInterval bounds how many instructions execute between checks of the
// caller's context, so cancellation is observed promptly without paying a
// context.Err call on every single instruction.
const yieldInterval = 1 << 14

// Run drives a loaded closure to completion and returns its results. ctx is
// checked cooperatively: cancellation only takes effect between
// instructions, never preempting one in flight.
func Run(ctx context.Context, th *Thread, proto *bytecode.Proto, args []value) ([]value, error) {
	cl := &closure{proto: proto}
	return th.Call(ctx, cl, args, MultipleReturns)
}

// luaClosure returns the closure at the top call frame, panicking if it
// isn't one; exec never calls this unless isLua was true for that frame.
func (th *Thread) luaClosure() *closure {
	return th.stack[th.frame().functionIndex].(*closure)
}

// exec runs Lua-style instructions until the call stack unwinds back to
// its depth when exec was entered, returning the error (if any) that ended
// execution.
func (th *Thread) exec() (err error) {
	callerDepth := len(th.callStack) - 1
	defer func() {
		for len(th.callStack) > callerDepth {
			base := th.frame().registerStart()
			th.closeUpvalues(base)
			th.closeTBCSlots(base)
			fp := th.frame().framePointer()
			th.setTop(fp)
			th.callStack = th.callStack[:len(th.callStack)-1]
		}
	}()

	cl := th.luaClosure()
	instructionCount := 0

	registers := func() []value {
		start := th.frame().registerStart()
		return th.stack[start : start+int(cl.proto.MaxStackSize)]
	}
	register := func(r []value, i uint8) (*value, error) {
		if int(i) >= len(r) {
			return nil, &InternalInvariant{What: fmt.Sprintf("register %d out-of-bounds (stack is %d slots)", i, len(r))}
		}
		return &r[i], nil
	}
	constant := func(i uint32) bytecode.Value {
		return cl.proto.Constants[i]
	}
	upvalueAt := func(i uint8) *value {
		return th.resolveUpvalue(cl.upvalues[i])
	}
	rkC := func(r []value, instr bytecode.Instruction) (value, error) {
		c := instr.ArgC()
		if instr.K() {
			return exportConstant(constant(uint32(c))), nil
		}
		rc, err := register(r, c)
		if err != nil {
			return nil, err
		}
		return *rc, nil
	}
	wrapErr := func(e error) error {
		return &RuntimeError{Source: cl.proto.Source, Line: lineAt(cl.proto, th.frame().pc-1), Err: e}
	}

	for {
		instructionCount++
		if th.ctx != nil && instructionCount%yieldInterval == 0 {
			if err := th.ctx.Err(); err != nil {
				return err
			}
		}

		frame := th.frame()
		if frame.pc < 0 || frame.pc >= len(cl.proto.Code) {
			return wrapErr(&InternalInvariant{What: "jumped out of bounds"})
		}
		instr := cl.proto.Code[frame.pc]
		if th.trace != nil {
			th.trace(cl.proto, frame.pc, instr)
		}
		frame.pc++
		if !instr.OpCode().IsInTop() {
			th.setTop(frame.registerStart() + int(cl.proto.MaxStackSize))
		}

		switch op := instr.OpCode(); op {
		case bytecode.OpMove:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			*ra = *rb

		case bytecode.OpLoadI:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = integerValue(instr.ArgBx())

		case bytecode.OpLoadF:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = floatValue(instr.ArgBx())

		case bytecode.OpLoadK:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = exportConstant(constant(uint32(instr.ArgBx())))

		case bytecode.OpLoadKX:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			if frame.pc >= len(cl.proto.Code) || cl.proto.Code[frame.pc].OpCode() != bytecode.OpExtraArg {
				return wrapErr(&InternalInvariant{What: "LOADKX must be followed by EXTRAARG"})
			}
			arg := cl.proto.Code[frame.pc].ArgAx()
			frame.pc++
			*ra = exportConstant(constant(arg))

		case bytecode.OpLoadFalse:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = booleanValue(false)

		case bytecode.OpLFalseSkip:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = booleanValue(false)
			frame.pc++

		case bytecode.OpLoadTrue:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = booleanValue(true)

		case bytecode.OpLoadNil:
			// R[A] through R[A+B] inclusive.
			start := int(instr.ArgA())
			end := start + int(instr.ArgB()) + 1
			r := registers()
			if end > len(r) {
				return wrapErr(&InternalInvariant{What: fmt.Sprintf("register %d out-of-bounds (stack is %d slots)", end-1, len(r))})
			}
			clear(r[start:end])
			for i := start; i < end; i++ {
				r[i] = nilValue{}
			}

		case bytecode.OpGetUpval:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = *upvalueAt(instr.ArgB())

		case bytecode.OpSetUpval:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*upvalueAt(instr.ArgB()) = *ra

		case bytecode.OpGetTabUp:
			kc := exportConstant(constant(uint32(instr.ArgC())))
			t, ok := (*upvalueAt(instr.ArgB())).(*table)
			if !ok {
				return wrapErr(&InternalInvariant{What: "index of non-table"})
			}
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = t.get(kc)

		case bytecode.OpGetTable, bytecode.OpGetI, bytecode.OpGetField:
			r := registers()
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			t, ok := (*rb).(*table)
			if !ok {
				return wrapErr(&InternalInvariant{What: fmt.Sprintf("attempt to index a %s value", typeOf(*rb))})
			}
			var key value
			switch op {
			case bytecode.OpGetTable:
				rc, err := register(r, instr.ArgC())
				if err != nil {
					return wrapErr(err)
				}
				key = *rc
			case bytecode.OpGetI:
				key = integerValue(instr.ArgC())
			case bytecode.OpGetField:
				key = exportConstant(constant(uint32(instr.ArgC())))
			}
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = t.get(key)

		case bytecode.OpSetTabUp:
			t, ok := (*upvalueAt(instr.ArgA())).(*table)
			if !ok {
				return wrapErr(&InternalInvariant{What: "index of non-table"})
			}
			kb := exportConstant(constant(uint32(instr.ArgB())))
			c, err := rkC(registers(), instr)
			if err != nil {
				return wrapErr(err)
			}
			if err := t.set(kb, c); err != nil {
				return wrapErr(err)
			}

		case bytecode.OpSetTable, bytecode.OpSetI, bytecode.OpSetField:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			t, ok := (*ra).(*table)
			if !ok {
				return wrapErr(&InternalInvariant{What: fmt.Sprintf("attempt to index a %s value", typeOf(*ra))})
			}
			c, err := rkC(r, instr)
			if err != nil {
				return wrapErr(err)
			}
			var key value
			switch op {
			case bytecode.OpSetTable:
				rb, err := register(r, instr.ArgB())
				if err != nil {
					return wrapErr(err)
				}
				key = *rb
			case bytecode.OpSetI:
				key = integerValue(instr.ArgB())
			case bytecode.OpSetField:
				key = exportConstant(constant(uint32(instr.ArgB())))
			}
			if err := t.set(key, c); err != nil {
				return wrapErr(err)
			}

		case bytecode.OpNewTable:
			hashSizeLog2 := instr.ArgB()
			hashSize := 0
			if hashSizeLog2 != 0 {
				hashSize = 1 << (hashSizeLog2 - 1)
			}
			arraySize := int(instr.ArgC())
			if instr.K() {
				if frame.pc >= len(cl.proto.Code) {
					return wrapErr(&InternalInvariant{What: "NEWTABLE must be followed by EXTRAARG"})
				}
				arraySize += int(cl.proto.Code[frame.pc].ArgAx()) * (1 << 8)
			}
			frame.pc++
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = newTable(hashSize + arraySize)

		case bytecode.OpSelf:
			r := registers()
			a := instr.ArgA()
			ra1, err := register(r, a+1)
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			c, err := rkC(r, instr)
			if err != nil {
				return wrapErr(err)
			}
			*ra1 = *rb
			t, ok := (*rb).(*table)
			if !ok {
				return wrapErr(&InternalInvariant{What: fmt.Sprintf("attempt to index a %s value", typeOf(*rb))})
			}
			ra, err := register(registers(), a)
			if err != nil {
				return wrapErr(err)
			}
			*ra = t.get(c)

		case bytecode.OpAddI:
			if err := th.immediateArithmetic(opAdd, registers(), instr, wrapErr); err != nil {
				return err
			}
		case bytecode.OpSHRI:
			if err := th.immediateArithmetic(opSHR, registers(), instr, wrapErr); err != nil {
				return err
			}
		case bytecode.OpSHLI:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			c := integerValue(instr.SignedC())
			result, err := arithmetic(opSHL, c, *rb)
			if err != nil {
				return wrapErr(err)
			}
			*ra = result

		case bytecode.OpAddK, bytecode.OpSubK, bytecode.OpMulK, bytecode.OpModK,
			bytecode.OpPowK, bytecode.OpDivK, bytecode.OpIDivK,
			bytecode.OpBAndK, bytecode.OpBOrK, bytecode.OpBXORK:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			kc := exportConstant(constant(uint32(instr.ArgC())))
			result, err := arithmetic(arithOpFor(op), *rb, kc)
			if err != nil {
				return wrapErr(err)
			}
			*ra = result

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpMod,
			bytecode.OpPow, bytecode.OpDiv, bytecode.OpIDiv,
			bytecode.OpBAnd, bytecode.OpBOr, bytecode.OpBXOR,
			bytecode.OpSHL, bytecode.OpSHR:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			rc, err := register(r, instr.ArgC())
			if err != nil {
				return wrapErr(err)
			}
			result, err := arithmetic(arithOpFor(op), *rb, *rc)
			if err != nil {
				return wrapErr(err)
			}
			*ra = result

		case bytecode.OpMMBin, bytecode.OpMMBinI, bytecode.OpMMBinK:
			return wrapErr(&UnsupportedOperation{Op: "metamethod"})

		case bytecode.OpUNM:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			result, err := arithmetic(opUNM, *rb, *rb)
			if err != nil {
				return wrapErr(err)
			}
			*ra = result

		case bytecode.OpBNot:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			result, err := arithmetic(opBNot, *rb, *rb)
			if err != nil {
				return wrapErr(err)
			}
			*ra = result

		case bytecode.OpNot:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			*ra = booleanValue(!toBoolean(*rb))

		case bytecode.OpLen:
			r := registers()
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			var result value
			switch v := (*rb).(type) {
			case stringValue:
				result = integerValue(len(v))
			case *table:
				result = v.length()
			default:
				return wrapErr(&UnsupportedOperation{Op: "length", OperandTypes: []Type{typeOf(*rb)}})
			}
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			*ra = result

		case bytecode.OpConcat:
			a, n := instr.ArgA(), instr.ArgB()
			r := registers()
			if _, err := register(r, a+n-1); err != nil {
				return wrapErr(err)
			}
			s := ""
			for k := uint8(0); k < n; k++ {
				v := r[a+k]
				str, ok := concatString(v)
				if !ok {
					return wrapErr(&UnsupportedOperation{Op: "concatenate", OperandTypes: []Type{typeOf(v)}})
				}
				s += str
			}
			r[a] = stringValue(s)

		case bytecode.OpClose:
			a := instr.ArgA()
			bottom := th.frame().registerStart() + int(a)
			th.closeUpvalues(bottom)
			th.closeTBCSlots(bottom)

		case bytecode.OpTBC:
			a := instr.ArgA()
			if err := th.markTBC(th.frame().registerStart() + int(a)); err != nil {
				return wrapErr(err)
			}

		case bytecode.OpJMP:
			th.frame().pc += int(instr.J())

		case bytecode.OpEQ:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			if equal(*ra, *rb) != instr.K() {
				th.frame().pc++
			}

		case bytecode.OpEQK:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			kb := exportConstant(constant(uint32(instr.ArgB())))
			if equal(*ra, kb) != instr.K() {
				th.frame().pc++
			}

		case bytecode.OpEQI:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			if equal(*ra, integerValue(instr.SignedB())) != instr.K() {
				th.frame().pc++
			}

		case bytecode.OpLT, bytecode.OpLE:
			r := registers()
			ra, err := register(r, instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			cop := compareLess
			if op == bytecode.OpLE {
				cop = compareLessOrEqual
			}
			result, err := compare(cop, *ra, *rb)
			if err != nil {
				return wrapErr(err)
			}
			if result != instr.K() {
				th.frame().pc++
			}

		case bytecode.OpLTI, bytecode.OpLEI:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			cop := compareLess
			if op == bytecode.OpLEI {
				cop = compareLessOrEqual
			}
			result, err := compare(cop, *ra, integerValue(instr.SignedB()))
			if err != nil {
				return wrapErr(err)
			}
			if result != instr.K() {
				th.frame().pc++
			}

		case bytecode.OpGTI, bytecode.OpGEI:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			cop := compareLess
			if op == bytecode.OpGEI {
				cop = compareLessOrEqual
			}
			result, err := compare(cop, integerValue(instr.SignedB()), *ra)
			if err != nil {
				return wrapErr(err)
			}
			if result != instr.K() {
				th.frame().pc++
			}

		case bytecode.OpTest:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			if toBoolean(*ra) != instr.K() {
				th.frame().pc++
			}

		case bytecode.OpTestSet:
			r := registers()
			rb, err := register(r, instr.ArgB())
			if err != nil {
				return wrapErr(err)
			}
			if toBoolean(*rb) != instr.K() {
				th.frame().pc++
			} else {
				ra, err := register(r, instr.ArgA())
				if err != nil {
					return wrapErr(err)
				}
				*ra = *rb
			}

		case bytecode.OpCall:
			numArguments := int(instr.ArgB()) - 1
			numResults := int(instr.ArgC()) - 1
			functionIndex := th.frame().registerStart() + int(instr.ArgA())
			if numArguments >= 0 {
				th.setTop(functionIndex + 1 + numArguments)
			}
			isLua, err := th.prepareCall(functionIndex, numResults, false)
			if err != nil {
				return wrapErr(err)
			}
			if isLua {
				cl = th.luaClosure()
			}

		case bytecode.OpTailCall:
			numArguments := int(instr.ArgB()) - 1
			registerStart := th.frame().registerStart()
			calleeIndex := registerStart + int(instr.ArgA())
			if numArguments >= 0 {
				th.setTop(calleeIndex + 1 + numArguments)
			}
			fi := th.frame().functionIndex
			th.closeUpvalues(registerStart)
			copy(th.stack[fi:], th.stack[calleeIndex:])
			th.setTop(fi + (len(th.stack) - calleeIndex))
			functionIndex := fi
			numResults := th.frame().numResults
			isLua, err := th.prepareCall(functionIndex, numResults, true)
			if err != nil {
				return wrapErr(err)
			}
			if isLua {
				cl = th.luaClosure()
			} else if len(th.callStack) <= callerDepth {
				return nil
			}

		case bytecode.OpReturn, bytecode.OpReturn0, bytecode.OpReturn1:
			registerStart := th.frame().registerStart()
			var resultStackStart, numResults int
			switch op {
			case bytecode.OpReturn:
				resultStackStart = registerStart + int(instr.ArgA())
				numResults = int(instr.ArgB()) - 1
				if numResults < 0 {
					numResults = len(th.stack) - resultStackStart
				}
			case bytecode.OpReturn1:
				resultStackStart = registerStart + int(instr.ArgA())
				numResults = 1
			case bytecode.OpReturn0:
				resultStackStart = registerStart
				numResults = 0
			}
			th.closeUpvalues(registerStart)
			th.closeTBCSlots(registerStart)
			th.setTop(resultStackStart + numResults)
			th.finishCall(numResults)
			if len(th.callStack) <= callerDepth {
				return nil
			}
			cl = th.luaClosure()

		case bytecode.OpForPrep:
			r := registers()
			a := instr.ArgA()
			if int(a)+4 > len(r) {
				return wrapErr(&InternalInvariant{What: "'for' loop registers out-of-bounds"})
			}
			idx, limit, step, control := &r[a], &r[a+1], &r[a+2], &r[a+3]
			skip, err := th.forPrep(idx, limit, step, control)
			if err != nil {
				return wrapErr(err)
			}
			if skip {
				th.frame().pc += int(instr.ArgBx()) + 1
			}

		case bytecode.OpForLoop:
			r := registers()
			a := instr.ArgA()
			if int(a)+4 > len(r) {
				return wrapErr(&InternalInvariant{What: "'for' loop registers out-of-bounds"})
			}
			idx, limit, step, control := &r[a], &r[a+1], &r[a+2], &r[a+3]
			cont, err := forContinue(idx, limit, step, control)
			if err != nil {
				return wrapErr(err)
			}
			if cont {
				th.frame().pc -= int(instr.ArgBx())
			}

		case bytecode.OpTForPrep:
			a := instr.ArgA()
			if err := th.markTBC(th.frame().registerStart() + int(a) + 3); err != nil {
				return wrapErr(err)
			}
			th.frame().pc += int(instr.ArgBx())

		case bytecode.OpTForCall:
			a := instr.ArgA()
			c := int(instr.ArgC())
			registerStart := th.frame().registerStart()
			stateStart := registerStart + int(a)
			const stateSize = 4
			stateEnd := stateStart + stateSize
			// Iterator call convention: function, state, control — 3 slots
			// copied past the loop's own state so the call doesn't clobber it.
			newTop := stateEnd + 3
			if !th.grow(newTop) {
				return wrapErr(&StackOverflow{Limit: th.limits.MaxStackSize})
			}
			th.setTop(newTop)
			copy(th.stack[stateEnd:], th.stack[stateStart:stateStart+3])
			isLua, err := th.prepareCall(stateEnd, c, false)
			if err != nil {
				return wrapErr(err)
			}
			if isLua {
				if err := th.exec(); err != nil {
					return err
				}
			}

		case bytecode.OpTForLoop:
			a := instr.ArgA()
			registerStart := th.frame().registerStart()
			const stateSize = 4
			newControlIndex := registerStart + int(a) + stateSize
			if newControlIndex >= len(th.stack) {
				return wrapErr(&InternalInvariant{What: "'for' loop call results out-of-bounds"})
			}
			newControl := th.stack[newControlIndex]
			if typeOf(newControl) != TypeNil {
				th.stack[registerStart+int(a)+2] = newControl
				th.frame().pc -= int(instr.ArgBx())
			}

		case bytecode.OpSetList:
			a := instr.ArgA()
			r := registers()
			ra, err := register(r, a)
			if err != nil {
				return wrapErr(err)
			}
			t, ok := (*ra).(*table)
			if !ok {
				return wrapErr(&InternalInvariant{What: "SETLIST target is not a table"})
			}
			n := int(instr.ArgB())
			stackBase := th.frame().registerStart() + int(a) + 1
			if n == 0 {
				n = len(th.stack) - stackBase
			}
			indexBase := int64(instr.ArgC()) + 1
			for k := 0; k < n; k++ {
				if err := t.set(integerValue(indexBase+int64(k)), th.stack[stackBase+k]); err != nil {
					return wrapErr(err)
				}
			}

		case bytecode.OpClosure:
			ra, err := register(registers(), instr.ArgA())
			if err != nil {
				return wrapErr(err)
			}
			bx := int(instr.ArgBx())
			if bx >= len(cl.proto.Protos) {
				return wrapErr(&InternalInvariant{What: "closure index out of range"})
			}
			p := cl.proto.Protos[bx]
			upvalues := make([]*upvalue, len(p.Upvalues))
			registerStart := th.frame().registerStart()
			for i, uv := range p.Upvalues {
				if uv.InStack {
					upvalues[i] = th.stackUpvalue(registerStart + int(uv.Index))
				} else {
					upvalues[i] = cl.upvalues[uv.Index]
				}
			}
			*ra = &closure{proto: p, upvalues: upvalues}

		case bytecode.OpVararg:
			frame := th.frame()
			numWanted := int(instr.ArgC()) - 1
			if numWanted == MultipleReturns {
				numWanted = frame.numExtraArguments
			}
			a := frame.registerStart() + int(instr.ArgA())
			if !th.grow(a + numWanted) {
				return wrapErr(&StackOverflow{Limit: th.limits.MaxStackSize})
			}
			th.setTop(a + numWanted)
			varargStart, varargEnd := frame.extraArgumentsRange()
			n := copy(th.stack[a:], th.stack[varargStart:varargEnd])
			clear(th.stack[a+n:])

		case bytecode.OpVarargPrep:
			// Extra arguments were already rotated into place by prepareCall.

		default:
			return wrapErr(&InternalInvariant{What: fmt.Sprintf("unhandled instruction %v", op)})
		}
	}
}

// immediateArithmetic evaluates an *I instruction, whose C operand is a
// signed immediate rather than a register or constant index.
func (th *Thread) immediateArithmetic(op arithmeticOp, r []value, instr bytecode.Instruction, wrapErr func(error) error) error {
	a, b := instr.ArgA(), instr.ArgB()
	if int(a) >= len(r) || int(b) >= len(r) {
		return wrapErr(&InternalInvariant{What: "register out-of-bounds"})
	}
	c := integerValue(instr.SignedC())
	result, err := arithmetic(op, r[b], c)
	if err != nil {
		return wrapErr(err)
	}
	r[a] = result
	return nil
}

func arithOpFor(op bytecode.OpCode) arithmeticOp {
	switch op {
	case bytecode.OpAdd, bytecode.OpAddK:
		return opAdd
	case bytecode.OpSub, bytecode.OpSubK:
		return opSub
	case bytecode.OpMul, bytecode.OpMulK:
		return opMul
	case bytecode.OpMod, bytecode.OpModK:
		return opMod
	case bytecode.OpPow, bytecode.OpPowK:
		return opPow
	case bytecode.OpDiv, bytecode.OpDivK:
		return opDiv
	case bytecode.OpIDiv, bytecode.OpIDivK:
		return opIDiv
	case bytecode.OpBAnd, bytecode.OpBAndK:
		return opBAnd
	case bytecode.OpBOr, bytecode.OpBOrK:
		return opBOr
	case bytecode.OpBXOR, bytecode.OpBXORK:
		return opBXor
	case bytecode.OpSHL:
		return opSHL
	case bytecode.OpSHR:
		return opSHR
	default:
		return opAdd
	}
}

func concatString(v value) (string, bool) {
	switch v := v.(type) {
	case stringValue:
		return string(v), true
	case integerValue:
		return valueString(v), true
	case floatValue:
		return valueString(v), true
	default:
		return "", false
	}
}

func lineAt(p *bytecode.Proto, pc int) int {
	if pc >= 0 && pc < len(p.LineInfo) {
		return int(p.LineInfo[pc])
	}
	return 0
}
