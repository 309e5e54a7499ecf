// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package driver

import (
	"fmt"
	"io"

	"github.com/devDesu/RustyMoon/internal/bytecode"
)

// printProto writes a luac-style disassembly listing of proto to w. When all
// is true, nested prototypes are listed recursively. When rawPC is true, PC
// values are printed zero-based as stored rather than one-based as the
// reference disassembler shows them.
func printProto(w io.Writer, proto *bytecode.Proto, all, rawPC bool) {
	kind := "function"
	if proto.IsMainChunk() {
		kind = "main"
	}
	fmt.Fprintf(w, "\n%s <%s:%d,%d> (%d instructions)\n",
		kind, sourceName(proto), proto.LineDefined, proto.LastLineDefined, len(proto.Code))
	fmt.Fprintf(w, "%d%s params, %d slots, %d upvalues, %d locals, %d constants, %d functions\n",
		proto.NumParams, varargMarker(proto.IsVararg),
		proto.MaxStackSize, len(proto.Upvalues), len(proto.LocalVariables),
		len(proto.Constants), len(proto.Protos))

	pcBase := 1
	if rawPC {
		pcBase = 0
	}
	for pc, instr := range proto.Code {
		line := "-"
		if pc < len(proto.LineInfo) {
			line = fmt.Sprint(proto.LineInfo[pc])
		}
		fmt.Fprintf(w, "\t%d\t[%s]\t%s", pcBase+pc, line, instr.String())
		if c, ok := constantOperand(instr); ok && c < len(proto.Constants) {
			fmt.Fprintf(w, "\t; %s", proto.Constants[c].String())
		}
		fmt.Fprintln(w)
	}

	if !all {
		return
	}
	for _, p := range proto.Protos {
		printProto(w, p, all, rawPC)
	}
}

func sourceName(proto *bytecode.Proto) string {
	if proto.Source == "" {
		return "?"
	}
	return proto.Source
}

func varargMarker(isVararg bool) string {
	if isVararg {
		return "+"
	}
	return ""
}

// constantOperand reports the constant-table index an instruction's comment
// should reference, if any, mirroring the handful of opcodes that carry a
// constant index in their decoder-exposed arguments.
func constantOperand(instr bytecode.Instruction) (int, bool) {
	switch instr.OpCode() {
	case bytecode.OpLoadK:
		return int(instr.ArgBx()), true
	case bytecode.OpEQK:
		return int(instr.ArgB()), true
	default:
		return 0, false
	}
}
