// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package sets

import (
	"fmt"
	"iter"
	"strings"
)

// format implements the shared [fmt.Formatter] rendering used by the set
// types: elements surrounded by braces, space-separated, formatted
// according to the printer state and verb.
func format[T any](f fmt.State, verb rune, seq iter.Seq[T]) {
	var buf [1]byte
	buf[0] = '{'
	f.Write(buf[:])

	fmtString := new(strings.Builder)
	fmtString.WriteByte('%')
	for _, flag := range "+-# 0" {
		if f.Flag(int(flag)) {
			fmtString.WriteRune(flag)
		}
	}
	width, hasWidth := f.Width()
	if hasWidth {
		fmtString.WriteByte('*')
	}
	precision, hasPrecision := f.Precision()
	if hasPrecision {
		fmtString.WriteString(".*")
	}
	fmtString.WriteRune(verb)
	args := make([]any, 0, 3)
	if hasWidth {
		args = append(args, width)
	}
	if hasPrecision {
		args = append(args, precision)
	}
	args = append(args, nil)

	first := true
	buf[0] = ' '
	for x := range seq {
		if first {
			first = false
		} else {
			f.Write(buf[:])
		}
		args[len(args)-1] = x
		fmt.Fprintf(f, fmtString.String(), args...)
	}

	buf[0] = '}'
	f.Write(buf[:])
}
