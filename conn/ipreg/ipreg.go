// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ipreg is a registry of the IP blocks of the loaded overlay.
//
// An IP block is a range of registers in the programmable logic, looked up by
// the name given to it in the hardware design.
package ipreg

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/zynq-go/zynq/conn/ipreg/internal"
)

// Block is an IP block exposing 32-bit registers.
type Block interface {
	// Write writes v to the consecutive words starting at word offset off.
	Write(off int, v []uint32)
	// Read reads the word at word offset off.
	Read(off int) uint32
	// Type returns the kind of driver behind the block.
	Type() string
}

// Located is implemented by blocks that know their physical base address.
type Located interface {
	Base() uint32
}

// Register registers an IP block.
//
// Registering two blocks with the same name, or two Located blocks at the same
// base address, fails.
func Register(name string, b Block) error {
	if len(name) == 0 {
		return errors.New("ipreg: can't register a block with no name")
	}
	if b == nil {
		return errors.Errorf("ipreg: can't register nil block %q", name)
	}
	internal.Mu.Lock()
	defer internal.Mu.Unlock()
	if _, ok := internal.ByName[name]; ok {
		return errors.Errorf("ipreg: block %q was already registered", name)
	}
	if l, ok := b.(Located); ok {
		if other, ok := internal.ByBase[l.Base()]; ok {
			return errors.Errorf("ipreg: block %q overlaps %q", name, other)
		}
		internal.ByBase[l.Base()] = name
	}
	internal.ByName[name] = b
	return nil
}

// Unregister removes a previously registered block.
func Unregister(name string) error {
	internal.Mu.Lock()
	defer internal.Mu.Unlock()
	b, ok := internal.ByName[name]
	if !ok {
		return errors.Errorf("ipreg: can't unregister unknown block %q", name)
	}
	delete(internal.ByName, name)
	if l, ok := b.(Located); ok {
		delete(internal.ByBase, l.Base())
	}
	return nil
}

// ByName returns the block registered under name, or nil.
func ByName(name string) Block {
	internal.Mu.Lock()
	defer internal.Mu.Unlock()
	if b, ok := internal.ByName[name]; ok {
		return b.(Block)
	}
	return nil
}

// ByBase returns the name of the block mapped at base, or "".
func ByBase(base uint32) string {
	internal.Mu.Lock()
	defer internal.Mu.Unlock()
	return internal.ByBase[base]
}

// All returns a copy of all the registered blocks.
func All() map[string]Block {
	internal.Mu.Lock()
	defer internal.Mu.Unlock()
	out := make(map[string]Block, len(internal.ByName))
	for k, v := range internal.ByName {
		out[k] = v.(Block)
	}
	return out
}

// Names returns the sorted names of the registered blocks.
func Names() []string {
	internal.Mu.Lock()
	defer internal.Mu.Unlock()
	out := make([]string, 0, len(internal.ByName))
	for k := range internal.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
