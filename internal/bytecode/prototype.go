// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Signature is the magic 4-byte header every chunk must begin with.
const Signature = "\x1bLua"

const (
	chunkVersion byte    = 5*16 + 4
	chunkFormat  byte    = 0
	chunkData            = "\x19\x93\x0d\x0a\x1a\x0a"
	calibrationInt       = 0x5678
	calibrationNum       = 370.5
)

// VariableKind classifies how a local variable or upvalue was declared.
// This runtime does not give the kind any operational meaning beyond
// carrying it through for disassembly; it is never inspected by the
// interpreter.
type VariableKind uint8

// Recognized variable kinds.
const (
	RegularVariable VariableKind = iota
	ConstVariable
	CloseVariable
	CompileTimeConstant
)

// UpvalueDescriptor describes how a closure should populate one upvalue cell
// when it is created by a CLOSURE instruction.
type UpvalueDescriptor struct {
	// InStack is true when Index addresses a register in the enclosing
	// frame; otherwise Index addresses an upvalue of the enclosing closure.
	InStack bool
	Index   uint8
	Kind    VariableKind
	// Name is debug-only and is always empty immediately after loading.
	Name string
}

// LocalVariable names a register's occupant over a range of instructions,
// for disassembly and error messages only.
type LocalVariable struct {
	Name    string
	StartPC int
	EndPC   int
}

// Proto is an immutable, loaded function prototype: everything the
// interpreter needs to execute one Lua-style function, plus whatever debug
// information the artifact happened to carry.
type Proto struct {
	Source          string
	LineDefined     int
	LastLineDefined int
	NumParams       uint8
	IsVararg        bool
	MaxStackSize    uint8

	Code      []Instruction
	Constants []Value
	Upvalues  []UpvalueDescriptor
	Protos    []*Proto

	// Debug information. Load fills it from the artifact's debug trailer
	// when one is present and leaves it empty otherwise; it is never
	// required for correct execution.
	LineInfo       []int32
	LocalVariables []LocalVariable
}

// IsMainChunk reports whether this prototype is the root of a loaded chunk
// rather than a nested function.
func (p *Proto) IsMainChunk() bool {
	return p.LineDefined == 0
}

// LocalName returns the name of the local variable occupying the given
// register at the given instruction, or "" if unknown (including when the
// artifact carries no debug information).
func (p *Proto) LocalName(register uint8, pc int) string {
	for _, v := range p.LocalVariables {
		if v.StartPC > pc {
			break
		}
		if pc < v.EndPC {
			if register == 0 {
				return v.Name
			}
			register--
		}
	}
	return ""
}

// StripDebug returns a copy of p with all debug-only information removed,
// recursively.
func (p *Proto) StripDebug() *Proto {
	p2 := new(Proto)
	*p2 = *p
	p2.Source = ""
	p2.LineInfo = nil
	p2.LocalVariables = nil
	if len(p.Upvalues) > 0 {
		p2.Upvalues = append([]UpvalueDescriptor(nil), p.Upvalues...)
		for i := range p2.Upvalues {
			p2.Upvalues[i].Name = ""
		}
	}
	if len(p.Protos) > 0 {
		p2.Protos = make([]*Proto, len(p.Protos))
		for i, child := range p.Protos {
			p2.Protos[i] = child.StripDebug()
		}
	}
	return p2
}

// MarshalBinary serializes p as a precompiled chunk in the format documented
// by the loader, suitable for round-tripping through [Proto.UnmarshalBinary].
func (p *Proto) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, Signature...)
	buf = append(buf, chunkVersion, chunkFormat)
	buf = append(buf, chunkData...)
	buf = append(buf, 4, 8, 8) // instruction, integer, number sizes
	buf = binary.LittleEndian.AppendUint64(buf, calibrationInt)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(calibrationNum))
	if len(p.Upvalues) > 0xff {
		return nil, fmt.Errorf("bytecode: too many root upvalues (%d)", len(p.Upvalues))
	}
	buf = append(buf, byte(len(p.Upvalues)))
	return dumpProto(buf, p)
}

func dumpProto(buf []byte, p *Proto) ([]byte, error) {
	buf = dumpString(buf, p.Source)
	buf = dumpVarint(buf, uint64(p.LineDefined))
	buf = dumpVarint(buf, uint64(p.LastLineDefined))
	buf = append(buf, p.NumParams)
	buf = dumpBool(buf, p.IsVararg)
	buf = append(buf, p.MaxStackSize)

	buf = dumpVarint(buf, uint64(len(p.Code)))
	for _, instr := range p.Code {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(instr))
	}

	buf = dumpVarint(buf, uint64(len(p.Constants)))
	for i, k := range p.Constants {
		var err error
		buf, err = dumpConstant(buf, k)
		if err != nil {
			return nil, fmt.Errorf("bytecode: constant [%d]: %w", i, err)
		}
	}

	buf = dumpVarint(buf, uint64(len(p.Upvalues)))
	for _, uv := range p.Upvalues {
		buf = dumpBool(buf, uv.InStack)
		buf = append(buf, uv.Index, byte(uv.Kind))
	}

	buf = dumpVarint(buf, uint64(len(p.Protos)))
	for _, child := range p.Protos {
		var err error
		buf, err = dumpProto(buf, child)
		if err != nil {
			return nil, err
		}
	}

	buf = dumpVarint(buf, uint64(len(p.LineInfo)))
	for _, line := range p.LineInfo {
		buf = dumpVarint(buf, uint64(uint32(line)))
	}
	buf = dumpVarint(buf, uint64(len(p.LocalVariables)))
	for _, v := range p.LocalVariables {
		buf = dumpString(buf, v.Name)
		buf = dumpVarint(buf, uint64(v.StartPC))
		buf = dumpVarint(buf, uint64(v.EndPC))
	}
	hasNames := false
	for _, uv := range p.Upvalues {
		if uv.Name != "" {
			hasNames = true
			break
		}
	}
	if !hasNames {
		buf = dumpVarint(buf, 0)
	} else {
		buf = dumpVarint(buf, uint64(len(p.Upvalues)))
		for _, uv := range p.Upvalues {
			buf = dumpString(buf, uv.Name)
		}
	}

	return buf, nil
}

func dumpConstant(buf []byte, k Value) ([]byte, error) {
	switch {
	case k.IsNil():
		return append(buf, 0x00), nil
	case k.IsBoolean():
		if k.Boolean() {
			return append(buf, 0x01), nil
		}
		return append(buf, 0x11), nil
	case k.IsInteger():
		buf = append(buf, 0x03)
		return binary.LittleEndian.AppendUint64(buf, uint64(k.Integer())), nil
	case k.IsFloat():
		buf = append(buf, 0x13)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(k.Float())), nil
	case k.IsString():
		buf = append(buf, 0x04)
		return dumpString(buf, k.StringValue()), nil
	default:
		return nil, fmt.Errorf("unrepresentable constant %v", k)
	}
}

func dumpString(buf []byte, s string) []byte {
	buf = dumpVarint(buf, uint64(len(s))+1)
	return append(buf, s...)
}

func dumpVarint(buf []byte, n uint64) []byte {
	start := len(buf)
	for {
		buf = append(buf, byte(n&0x7f))
		n >>= 7
		if n == 0 {
			break
		}
	}
	for l, r := start, len(buf)-1; l < r; l, r = l+1, r-1 {
		buf[l], buf[r] = buf[r], buf[l]
	}
	buf[len(buf)-1] |= 0x80
	return buf
}

func dumpBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// UnmarshalBinary loads a precompiled chunk, in the format documented for the
// loader, replacing p's contents.
func (p *Proto) UnmarshalBinary(data []byte) error {
	root, err := Load(data)
	if err != nil {
		return err
	}
	*p = *root
	return nil
}
