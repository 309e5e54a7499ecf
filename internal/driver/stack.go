// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package driver

import "github.com/devDesu/RustyMoon/internal/vm"

// growInitialStack pre-sizes th's backing array to one host page of value
// slots (or the thread's limit, if smaller), so a typical script's first
// few calls don't pay for incremental geometric growth.
func growInitialStack(th *vm.Thread, limits vm.Limits) {
	const wordSize = 16 // approximate size of the value interface's two words
	n := pageSize() / wordSize
	if limits.MaxStackSize > 0 && n > limits.MaxStackSize {
		n = limits.MaxStackSize
	}
	th.Reserve(n)
}
