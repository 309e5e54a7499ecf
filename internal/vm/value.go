// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

// Package vm implements a register-based interpreter for chunks loaded by
// [github.com/devDesu/RustyMoon/internal/bytecode].
package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/devDesu/RustyMoon/internal/bytecode"
)

// value is the interface satisfied by every runtime datum that can occupy a
// register, an upvalue cell, or a table slot. Unlike [bytecode.Value], which
// only represents what a constant table can hold, value also covers the
// reference types produced at run time: closures and tables.
type value interface {
	// Type reports the value's dynamic type for diagnostics and the Lua-style
	// "type" builtin.
	Type() Type
}

// Type enumerates the dynamic type tags a [value] can carry.
type Type uint8

// Recognized dynamic types.
const (
	TypeNil Type = iota
	TypeBoolean
	TypeInteger
	TypeFloat
	TypeString
	TypeTable
	TypeFunction
)

func (t Type) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeBoolean:
		return "boolean"
	case TypeInteger, TypeFloat:
		return "number"
	case TypeString:
		return "string"
	case TypeTable:
		return "table"
	case TypeFunction:
		return "function"
	default:
		return "?"
	}
}

// nilValue is the sole value of TypeNil. A nil Go interface value (i.e. an
// unset register) is treated identically to nilValue throughout this
// package; typeOf handles both.
type nilValue struct{}

func (nilValue) Type() Type { return TypeNil }

type booleanValue bool

func (booleanValue) Type() Type { return TypeBoolean }

type integerValue int64

func (integerValue) Type() Type { return TypeInteger }

type floatValue float64

func (floatValue) Type() Type { return TypeFloat }

type stringValue string

func (stringValue) Type() Type { return TypeString }

// typeOf reports v's dynamic type, treating a Go nil interface the same as
// an explicit nilValue.
func typeOf(v value) Type {
	if v == nil {
		return TypeNil
	}
	return v.Type()
}

// toBoolean implements Lua truthiness: every value is true except nil and
// false.
func toBoolean(v value) bool {
	if v == nil {
		return false
	}
	b, isBool := v.(booleanValue)
	return !isBool || bool(b)
}

// toNumber coerces v to a numeric value, following strings that parse as
// numbers, per the reference manual's "string coercion" rules for
// arithmetic contexts.
func toNumber(v value) (value, bool) {
	switch v := v.(type) {
	case integerValue, floatValue:
		return v, true
	case stringValue:
		return stringToNumber(string(v))
	default:
		return nil, false
	}
}

func stringToNumber(s string) (value, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return integerValue(i), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return floatValue(f), true
	}
	return nil, false
}

// toInteger attempts an exact conversion of v to an integer, failing for
// floats with a fractional part.
func toInteger(v value) (integerValue, bool) {
	switch v := v.(type) {
	case integerValue:
		return v, true
	case floatValue:
		return floatToInteger(float64(v))
	case stringValue:
		n, ok := stringToNumber(string(v))
		if !ok {
			return 0, false
		}
		return toInteger(n)
	default:
		return 0, false
	}
}

func floatToInteger(f float64) (integerValue, bool) {
	if math.IsNaN(f) || math.Trunc(f) != f || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return integerValue(f), true
}

// exportConstant converts a loaded [bytecode.Value] into a runtime value.
func exportConstant(k bytecode.Value) value {
	switch {
	case k.IsNil():
		return nilValue{}
	case k.IsBoolean():
		return booleanValue(k.Boolean())
	case k.IsInteger():
		return integerValue(k.Integer())
	case k.IsFloat():
		return floatValue(k.Float())
	case k.IsString():
		return stringValue(k.StringValue())
	default:
		panic("unreachable constant tag")
	}
}

// valueString renders v as text, as used by string concatenation and
// [ValueString]. Floats use Go's %g format.
func valueString(v value) string {
	switch v := v.(type) {
	case nil, nilValue:
		return "nil"
	case booleanValue:
		return fmt.Sprintf("%t", bool(v))
	case integerValue:
		return fmt.Sprintf("%d", int64(v))
	case floatValue:
		return fmt.Sprintf("%g", float64(v))
	case stringValue:
		return string(v)
	case *table:
		return fmt.Sprintf("table: %p", v)
	case function:
		return fmt.Sprintf("function: %p", v)
	default:
		return "?"
	}
}
