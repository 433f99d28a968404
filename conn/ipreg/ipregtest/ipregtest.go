// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ipregtest provides helpers to test code using ipreg.
package ipregtest

import (
	"github.com/zynq-go/zynq/conn/ipreg/internal"
)

// Reset removes all registered IP blocks.
//
// This is meant to be used in unit tests. Blocks that own a mapping are not
// closed.
func Reset() {
	internal.Mu.Lock()
	defer internal.Mu.Unlock()
	internal.ByName = map[string]internal.Typed{}
	internal.ByBase = map[uint32]string{}
}
