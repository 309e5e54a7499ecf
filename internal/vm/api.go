// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package vm

// Value is the dynamic value type that interpreter registers, upvalues, and
// host code exchange. It is an alias for the package's internal value
// representation so host packages such as the CLI driver can construct and
// inspect values without reaching into unexported machinery.
type Value = value

// NilValue returns the Lua nil value.
func NilValue() Value { return nilValue{} }

// BooleanValue returns a boolean value.
func BooleanValue(b bool) Value { return booleanValue(b) }

// IntegerValue returns an integer value.
func IntegerValue(n int64) Value { return integerValue(n) }

// FloatValue returns a floating-point value.
func FloatValue(f float64) Value { return floatValue(f) }

// StringValue returns a string value.
func StringValue(s string) Value { return stringValue(s) }

// ValueString renders v the way the interpreter would coerce it to a string
// for concatenation or printing.
func ValueString(v Value) string { return valueString(v) }

// NewTable returns an empty table, optionally pre-sizing its array part for
// sizeHint contiguous integer keys.
func NewTable(sizeHint int) Value { return newTable(sizeHint) }

// TableGet reads a key from a table value. It panics if v is not a table,
// since a host constructing values itself is expected to know their shape.
func TableGet(v Value, key Value) Value {
	return v.(*table).get(key)
}

// TableSet writes key/value into a table value, following the same
// nil-removes-the-key and NaN-key-rejection rules as SETTABLE.
func TableSet(v Value, key, val Value) error {
	return v.(*table).set(key, val)
}

// NewGoFunction wraps cb as a callable value under the given diagnostic
// name, usable anywhere a loaded closure can be: pushed as an argument,
// stored in a table, or called directly through [Thread.Call].
func NewGoFunction(name string, cb Function) Value {
	return &goFunction{name: name, cb: cb}
}

// Arg returns the i-th argument (0-based) passed to the Go function
// currently executing on th, or nil if i is out of range. It is meant to be
// called only from within a [Function] callback.
func (th *Thread) Arg(i int) Value {
	start := th.frame().registerStart()
	if i < 0 || start+i >= len(th.stack) {
		return nilValue{}
	}
	return th.stack[start+i]
}

// Reserve ensures the thread's stack backing array has capacity for at
// least n slots without changing the stack's current length, letting a host
// that knows its expected working set up front amortize growth up front
// rather than geometrically during execution. It reports whether n is
// within the thread's configured limits.
func (th *Thread) Reserve(n int) bool {
	return th.grow(n)
}
