// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// varintLimit bounds the accumulator [reader.readVarint] will accept before
// failing with [*IntegerOverflow]. It is generous enough for any artifact
// this runtime is expected to load while still catching corrupted streams
// before they cause a huge allocation.
const varintLimit = 1 << 32

// Load parses a full precompiled chunk and returns its root [Proto].
//
// Load reads the entire argument before parsing; callers with a streaming
// source should buffer it themselves (e.g. via [io.ReadAll]) and pass the
// resulting bytes.
func Load(data []byte) (*Proto, error) {
	r := &reader{buf: data}
	if err := r.readHeader(); err != nil {
		return nil, err
	}
	rootUpvalueCount, ok := r.readByte()
	if !ok {
		return nil, &IoError{Err: io.ErrUnexpectedEOF}
	}
	root := new(Proto)
	if err := r.readProto(root); err != nil {
		return nil, err
	}
	if len(r.buf) != 0 {
		return nil, &HeaderMismatch{Field: "trailing data after root prototype"}
	}
	if int(rootUpvalueCount) != len(root.Upvalues) {
		return nil, &HeaderMismatch{Field: "root upvalue count"}
	}
	return root, nil
}

// LoadReader is a convenience wrapper around [Load] for callers that hold an
// [io.Reader] rather than a byte slice, such as a CLI reading from stdin.
func LoadReader(r io.Reader) (*Proto, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &IoError{Err: err}
	}
	return Load(data)
}

type reader struct {
	buf         []byte
	byteOrder   binary.ByteOrder
	integerSize int
	numberSize  int
}

func (r *reader) readHeader() error {
	if !r.consumeLiteral(Signature) {
		return &HeaderMismatch{Field: "signature"}
	}
	version, ok := r.readByte()
	if !ok {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}
	if version != chunkVersion {
		return &HeaderMismatch{Field: "version"}
	}
	format, ok := r.readByte()
	if !ok {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}
	if format != chunkFormat {
		return &HeaderMismatch{Field: "format"}
	}
	if !r.consumeLiteral(chunkData) {
		return &HeaderMismatch{Field: "data integrity chunk"}
	}

	instructionSize, ok := r.readByte()
	if !ok {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}
	if instructionSize != 4 {
		return &HeaderMismatch{Field: "instruction size"}
	}

	integerSize, ok := r.readByte()
	if !ok {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}
	if integerSize != 4 && integerSize != 8 {
		return &HeaderMismatch{Field: "integer size"}
	}
	r.integerSize = int(integerSize)

	numberSize, ok := r.readByte()
	if !ok {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}
	if numberSize != 4 && numberSize != 8 {
		return &HeaderMismatch{Field: "number size"}
	}
	r.numberSize = int(numberSize)

	if len(r.buf) < r.integerSize {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}
	switch r.integerSize {
	case 4:
		switch {
		case binary.LittleEndian.Uint32(r.buf) == calibrationInt:
			r.byteOrder = binary.LittleEndian
		case binary.BigEndian.Uint32(r.buf) == calibrationInt:
			r.byteOrder = binary.BigEndian
		default:
			return &HeaderMismatch{Field: "integer calibration"}
		}
	case 8:
		switch {
		case binary.LittleEndian.Uint64(r.buf) == calibrationInt:
			r.byteOrder = binary.LittleEndian
		case binary.BigEndian.Uint64(r.buf) == calibrationInt:
			r.byteOrder = binary.BigEndian
		default:
			return &HeaderMismatch{Field: "integer calibration"}
		}
	}
	r.buf = r.buf[r.integerSize:]

	n, ok := r.readNumber()
	if !ok {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}
	if n != calibrationNum {
		return &HeaderMismatch{Field: "float calibration"}
	}
	return nil
}

func (r *reader) readProto(p *Proto) error {
	source, _, err := r.readString()
	if err != nil {
		return fmt.Errorf("bytecode: source name: %w", err)
	}
	p.Source = source

	p.LineDefined, err = r.readVarint()
	if err != nil {
		return fmt.Errorf("bytecode: line defined: %w", err)
	}
	p.LastLineDefined, err = r.readVarint()
	if err != nil {
		return fmt.Errorf("bytecode: last line defined: %w", err)
	}

	var ok bool
	p.NumParams, ok = r.readByte()
	if !ok {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}
	isVararg, ok := r.readByte()
	if !ok {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}
	p.IsVararg = isVararg != 0
	p.MaxStackSize, ok = r.readByte()
	if !ok {
		return &IoError{Err: io.ErrUnexpectedEOF}
	}

	n, err := r.readVarint()
	if err != nil {
		return fmt.Errorf("bytecode: code length: %w", err)
	}
	p.Code = make([]Instruction, n)
	for i := range p.Code {
		word, ok := r.readUint32()
		if !ok {
			return &IoError{Err: io.ErrUnexpectedEOF}
		}
		instr, err := Decode(word)
		if err != nil {
			return err
		}
		p.Code[i] = instr
	}

	n, err = r.readVarint()
	if err != nil {
		return fmt.Errorf("bytecode: constant count: %w", err)
	}
	p.Constants = make([]Value, n)
	for i := range p.Constants {
		tag, ok := r.readByte()
		if !ok {
			return &IoError{Err: io.ErrUnexpectedEOF}
		}
		switch tag {
		case 0x00:
			p.Constants[i] = NilValue
		case 0x01:
			p.Constants[i] = BooleanValue(true)
		case 0x11:
			p.Constants[i] = BooleanValue(false)
		case 0x03:
			v, ok := r.readInteger()
			if !ok {
				return &IoError{Err: io.ErrUnexpectedEOF}
			}
			p.Constants[i] = IntegerValue(v)
		case 0x13:
			v, ok := r.readNumber()
			if !ok {
				return &IoError{Err: io.ErrUnexpectedEOF}
			}
			p.Constants[i] = FloatValue(v)
		case 0x04, 0x14:
			s, _, err := r.readString()
			if err != nil {
				return fmt.Errorf("bytecode: constant [%d]: %w", i, err)
			}
			p.Constants[i] = StringValue(s)
		default:
			return &UnknownConstantTag{Tag: tag}
		}
	}

	n, err = r.readVarint()
	if err != nil {
		return fmt.Errorf("bytecode: upvalue count: %w", err)
	}
	p.Upvalues = make([]UpvalueDescriptor, n)
	for i := range p.Upvalues {
		inStack, ok := r.readByte()
		if !ok {
			return &IoError{Err: io.ErrUnexpectedEOF}
		}
		p.Upvalues[i].InStack = inStack != 0
		p.Upvalues[i].Index, ok = r.readByte()
		if !ok {
			return &IoError{Err: io.ErrUnexpectedEOF}
		}
		kind, ok := r.readByte()
		if !ok {
			return &IoError{Err: io.ErrUnexpectedEOF}
		}
		p.Upvalues[i].Kind = VariableKind(kind)
	}

	n, err = r.readVarint()
	if err != nil {
		return fmt.Errorf("bytecode: nested prototype count: %w", err)
	}
	p.Protos = make([]*Proto, n)
	for i := range p.Protos {
		child := new(Proto)
		if err := r.readProto(child); err != nil {
			return err
		}
		p.Protos[i] = child
	}

	r.readDebugTrailer(p)
	return nil
}

// readDebugTrailer reads the optional line-number, local-variable, and
// upvalue-name information that follows a prototype's required fields. A
// stripped artifact omits it entirely, so any read failure here simply
// leaves the debug fields empty rather than failing the load.
func (r *reader) readDebugTrailer(p *Proto) {
	n, err := r.readVarint()
	if err != nil {
		return
	}
	lineInfo := make([]int32, n)
	for i := range lineInfo {
		line, err := r.readVarint()
		if err != nil {
			return
		}
		lineInfo[i] = int32(line)
	}

	n, err = r.readVarint()
	if err != nil {
		return
	}
	locals := make([]LocalVariable, n)
	for i := range locals {
		name, _, err := r.readString()
		if err != nil {
			return
		}
		startPC, err := r.readVarint()
		if err != nil {
			return
		}
		endPC, err := r.readVarint()
		if err != nil {
			return
		}
		locals[i] = LocalVariable{Name: name, StartPC: startPC, EndPC: endPC}
	}

	n, err = r.readVarint()
	if err != nil || (n != 0 && n != len(p.Upvalues)) {
		p.LineInfo = lineInfo
		p.LocalVariables = locals
		return
	}
	for i := 0; i < n; i++ {
		name, _, err := r.readString()
		if err != nil {
			break
		}
		p.Upvalues[i].Name = name
	}
	p.LineInfo = lineInfo
	p.LocalVariables = locals
}

func (r *reader) readByte() (byte, bool) {
	if len(r.buf) == 0 {
		return 0, false
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, true
}

func (r *reader) readUint32() (uint32, bool) {
	if len(r.buf) < 4 {
		return 0, false
	}
	v := r.byteOrder.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v, true
}

func (r *reader) readInteger() (int64, bool) {
	if len(r.buf) < r.integerSize {
		return 0, false
	}
	var v int64
	switch r.integerSize {
	case 4:
		v = int64(int32(r.byteOrder.Uint32(r.buf)))
	case 8:
		v = int64(r.byteOrder.Uint64(r.buf))
	}
	r.buf = r.buf[r.integerSize:]
	return v, true
}

func (r *reader) readNumber() (float64, bool) {
	if len(r.buf) < r.numberSize {
		return 0, false
	}
	var v float64
	switch r.numberSize {
	case 4:
		v = float64(math.Float32frombits(r.byteOrder.Uint32(r.buf)))
	case 8:
		v = math.Float64frombits(r.byteOrder.Uint64(r.buf))
	}
	r.buf = r.buf[r.numberSize:]
	return v, true
}

// readVarint reads a big-endian base-128 integer terminated by a byte with
// its high bit set, failing with [*IntegerOverflow] if the accumulator would
// cross varintLimit before a shift.
func (r *reader) readVarint() (int, error) {
	var x uint64
	for {
		b, ok := r.readByte()
		if !ok {
			return 0, &IoError{Err: io.ErrUnexpectedEOF}
		}
		if x >= varintLimit>>7 {
			return 0, &IntegerOverflow{}
		}
		x = x<<7 | uint64(b&0x7f)
		if b&0x80 != 0 {
			return int(x), nil
		}
	}
}

// readString reads a varint-prefixed string. A prefix of 0 means absence
// (a nil name, not an empty string); ok reports whether a string was
// present.
func (r *reader) readString() (s string, ok bool, err error) {
	n, err := r.readVarint()
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	n--
	if len(r.buf) < n {
		return "", false, &IoError{Err: io.ErrUnexpectedEOF}
	}
	s = string(r.buf[:n])
	r.buf = r.buf[n:]
	return s, true, nil
}

func (r *reader) consumeLiteral(lit string) bool {
	if len(r.buf) < len(lit) || string(r.buf[:len(lit)]) != lit {
		return false
	}
	r.buf = r.buf[len(lit):]
	return true
}
