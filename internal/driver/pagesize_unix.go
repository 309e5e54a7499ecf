// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

//go:build unix

package driver

import "golang.org/x/sys/unix"

func pageSize() int {
	return unix.Getpagesize()
}
