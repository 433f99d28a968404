// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ipreg

import (
	"fmt"

	"github.com/zynq-go/zynq/host/mmio"
)

// DefaultBlock is a Block with no driver, accessing its registers directly.
type DefaultBlock struct {
	r    mmio.Registers
	w    *mmio.Window
	base uint32
}

// NewDefaultBlock returns a DefaultBlock over r, located at base.
func NewDefaultBlock(r mmio.Registers, base uint32) *DefaultBlock {
	return &DefaultBlock{r: r, base: base}
}

// MapDefaultBlock maps size bytes at base and returns a DefaultBlock owning
// the mapping.
func MapDefaultBlock(base uint32, size int) (*DefaultBlock, error) {
	w, err := mmioMap(base, size)
	if err != nil {
		return nil, err
	}
	return &DefaultBlock{r: w, w: w, base: base}, nil
}

func (d *DefaultBlock) String() string {
	return fmt.Sprintf("DefaultBlock{0x%08x}", d.base)
}

// Write implements Block.
func (d *DefaultBlock) Write(off int, v []uint32) {
	for i, x := range v {
		d.r.WriteUint32(off+i, x)
	}
}

// Read implements Block.
func (d *DefaultBlock) Read(off int) uint32 {
	return d.r.ReadUint32(off)
}

// Type implements Block.
func (d *DefaultBlock) Type() string {
	return "DefaultBlock"
}

// Base implements Located.
func (d *DefaultBlock) Base() uint32 {
	return d.base
}

// Registers returns the underlying registers.
func (d *DefaultBlock) Registers() mmio.Registers {
	return d.r
}

// Close unmaps the block when it was mapped by MapDefaultBlock.
func (d *DefaultBlock) Close() error {
	if d.w == nil {
		return nil
	}
	return d.w.Close()
}

//

var mmioMap = mmio.Map

var _ Block = &DefaultBlock{}
var _ Located = &DefaultBlock{}
