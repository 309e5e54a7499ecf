// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/devDesu/RustyMoon/internal/driver"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCommand := driver.New()
	err := rootCommand.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "luavm:", err)
	var execErr *driver.ExecError
	if errors.As(err, &execErr) && execErr.DuringRun {
		return 2
	}
	return 1
}
