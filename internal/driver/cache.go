// Copyright 2024 The RustyMoon Authors
// SPDX-License-Identifier: MIT

package driver

import (
	"golang.org/x/sync/singleflight"

	"github.com/devDesu/RustyMoon/internal/bytecode"
)

// artifactCache coalesces concurrent loads of the same path into a single
// read and decode shared by every waiting caller. It keeps no result once
// that load finishes: a later load of the same path reads and decodes the
// chunk again.
type artifactCache struct {
	group singleflight.Group
}

func newArtifactCache() *artifactCache {
	return &artifactCache{}
}

func (c *artifactCache) load(path string, read func(string) ([]byte, error)) (*bytecode.Proto, error) {
	v, err, _ := c.group.Do(path, func() (any, error) {
		data, err := read(path)
		if err != nil {
			return nil, err
		}
		return bytecode.Load(data)
	})
	if err != nil {
		return nil, err
	}
	return v.(*bytecode.Proto), nil
}
