// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var protoDiffOptions = cmp.Options{
	cmp.AllowUnexported(Value{}),
	cmpopts.EquateEmpty(),
}

func exampleProto() *Proto {
	return &Proto{
		Source:       "=test",
		NumParams:    1,
		IsVararg:     false,
		MaxStackSize: 3,
		Code: []Instruction{
			ABxInstruction(OpLoadI, 1, 42),
			ABCInstruction(OpReturn1, 1, 0, 0, false),
		},
		Constants: []Value{
			StringValue("hi"),
			IntegerValue(7),
			FloatValue(1.5),
			NilValue,
			BooleanValue(true),
		},
		Upvalues: []UpvalueDescriptor{
			{InStack: true, Index: 0, Kind: RegularVariable},
		},
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	want := exampleProto()
	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got, protoDiffOptions); diff != "" {
		t.Errorf("-want +got:\n%s", diff)
	}
}

func TestLoadRejectsBadSignature(t *testing.T) {
	_, err := Load([]byte("not a chunk"))
	var mismatch *HeaderMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("Load error = %v, want *HeaderMismatch", err)
	}
}

func TestLoadRejectsUnknownConstantTag(t *testing.T) {
	// An empty-code prototype with a single string constant: the constant
	// tag byte is then the only 0x04 in the stream, so it can be located
	// unambiguously and corrupted.
	p := &Proto{
		Source:    "=test",
		Constants: []Value{StringValue("hi")},
	}
	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	const headerLen = 32 // 31-byte signature/version/format/sizes/calibration block plus the root upvalue-count byte
	idx := -1
	for i := headerLen; i < len(data); i++ {
		if data[i] == 0x04 {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatal("fixture has no string constant to corrupt")
	}
	data[idx] = 0xEE
	_, err = Load(data)
	var unknown *UnknownConstantTag
	if !errors.As(err, &unknown) {
		t.Fatalf("Load error = %v, want *UnknownConstantTag", err)
	}
	if unknown.Tag != 0xEE {
		t.Errorf("UnknownConstantTag.Tag = %#02x, want 0xee", unknown.Tag)
	}
}

func TestLocalName(t *testing.T) {
	p := &Proto{
		LocalVariables: []LocalVariable{
			{Name: "a", StartPC: 0, EndPC: 5},
			{Name: "b", StartPC: 2, EndPC: 5},
		},
	}
	tests := []struct {
		register uint8
		pc       int
		want     string
	}{
		{register: 0, pc: 0, want: "a"},
		{register: 1, pc: 0, want: ""},
		{register: 0, pc: 3, want: "a"},
		{register: 1, pc: 3, want: "b"},
		{register: 0, pc: 6, want: ""},
	}
	for _, test := range tests {
		if got := p.LocalName(test.register, test.pc); got != test.want {
			t.Errorf("LocalName(%d, %d) = %q, want %q", test.register, test.pc, got, test.want)
		}
	}
}

func TestStripDebug(t *testing.T) {
	p := exampleProto()
	p.LineInfo = []int32{1, 1, 2}
	p.LocalVariables = []LocalVariable{{Name: "x", StartPC: 0, EndPC: 1}}
	p.Upvalues[0].Name = "env"

	stripped := p.StripDebug()
	if stripped.Source != "" {
		t.Errorf("StripDebug().Source = %q, want \"\"", stripped.Source)
	}
	if len(stripped.LineInfo) != 0 {
		t.Errorf("StripDebug().LineInfo = %v, want empty", stripped.LineInfo)
	}
	if len(stripped.LocalVariables) != 0 {
		t.Errorf("StripDebug().LocalVariables = %v, want empty", stripped.LocalVariables)
	}
	if stripped.Upvalues[0].Name != "" {
		t.Errorf("StripDebug().Upvalues[0].Name = %q, want \"\"", stripped.Upvalues[0].Name)
	}
}
