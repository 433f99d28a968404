// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package internal

import (
	"sync"
)

// Typed is the part of ipreg.Block the registry state needs.
type Typed interface {
	Type() string
}

var (
	// Mu synchronizes access.
	Mu sync.Mutex
	// ByName is every registered IP block.
	ByName = map[string]Typed{}
	// ByBase is the physical base address to IP block name.
	ByBase = map[uint32]string{}
)
