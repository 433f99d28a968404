// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package overlay ties a bitstream to the IP blocks of its hardware design.
//
// An Overlay downloads its bitstream then maps each of its IP blocks and
// registers them in ipreg under their design name.
package overlay

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/zynq-go/zynq/conn/ipreg"
	"github.com/zynq-go/zynq/host/bitstream"
)

// Address is a physical address. In JSON it is either a number or a string
// using Go integer literal syntax, e.g. "0x43c00000".
type Address uint32

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n uint32
		if err := json.Unmarshal(b, &n); err != nil {
			return errors.Errorf("overlay: invalid address %s", b)
		}
		*a = Address(n)
		return nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return errors.Wrap(err, "overlay: invalid address")
	}
	*a = Address(n)
	return nil
}

// BlockSpec describes one IP block of a design.
type BlockSpec struct {
	Name string  `json:"name"`
	Base Address `json:"base"`
	// Size is the size of the register range in bytes.
	Size int `json:"size"`
}

// Config is the JSON description of an overlay.
type Config struct {
	Bitstream string            `json:"bitstream"`
	Clocks    []bitstream.Clock `json:"clocks"`
	Blocks    []BlockSpec       `json:"blocks"`
}

// Overlay is a bitstream and its IP blocks.
type Overlay struct {
	Bitstream string
	Clocks    []bitstream.Clock
	Blocks    []BlockSpec

	mapped []*ipreg.DefaultBlock
}

// New returns an Overlay for the bitstream at bitPath.
func New(bitPath string, blocks []BlockSpec) (*Overlay, error) {
	if err := validate(blocks); err != nil {
		return nil, err
	}
	return &Overlay{Bitstream: bitPath, Blocks: blocks}, nil
}

// ReadConfig returns the Overlay described by the JSON config read from r.
func ReadConfig(r io.Reader) (*Overlay, error) {
	c := Config{}
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(&c); err != nil {
		return nil, errors.Wrap(err, "overlay: decoding config")
	}
	if len(c.Bitstream) == 0 {
		return nil, errors.New("overlay: config has no bitstream")
	}
	o, err := New(c.Bitstream, c.Blocks)
	if err != nil {
		return nil, err
	}
	o.Clocks = c.Clocks
	return o, nil
}

func (o *Overlay) String() string {
	return "overlay{" + o.Bitstream + "}"
}

// Download loads the bitstream into the programmable logic.
//
// When clocks is empty, the clocks of the config are used.
func (o *Overlay) Download(clocks []bitstream.Clock) (int, error) {
	if len(clocks) == 0 {
		clocks = o.Clocks
	}
	return loadFile(o.Bitstream, clocks)
}

// Map maps every IP block and registers it in ipreg.
//
// On failure, the blocks already mapped are released.
func (o *Overlay) Map() error {
	if o.mapped != nil {
		return errors.New("overlay: already mapped")
	}
	mapped := make([]*ipreg.DefaultBlock, 0, len(o.Blocks))
	for _, s := range o.Blocks {
		b, err := mapBlock(uint32(s.Base), s.Size)
		if err == nil {
			if err = ipreg.Register(s.Name, b); err != nil {
				_ = b.Close()
			}
		}
		if err != nil {
			_ = release(o.Blocks, mapped)
			return errors.Wrapf(err, "overlay: mapping %s at %s", s.Name, s.Base)
		}
		mapped = append(mapped, b)
	}
	o.mapped = mapped
	return nil
}

// Block returns the IP block name of the overlay.
func (o *Overlay) Block(name string) (ipreg.Block, error) {
	found := false
	for _, s := range o.Blocks {
		if s.Name == name {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.Errorf("overlay: no block %q in %s", name, o.Bitstream)
	}
	if o.mapped == nil {
		return nil, errors.New("overlay: not mapped")
	}
	b := ipreg.ByName(name)
	if b == nil {
		return nil, errors.Errorf("overlay: block %q was unregistered", name)
	}
	return b, nil
}

// Close unregisters and unmaps the blocks.
func (o *Overlay) Close() error {
	if o.mapped == nil {
		return nil
	}
	err := release(o.Blocks, o.mapped)
	o.mapped = nil
	return err
}

//

var (
	loadFile = bitstream.LoadFile
	mapBlock = ipreg.MapDefaultBlock
)

func validate(blocks []BlockSpec) error {
	seen := make(map[string]struct{}, len(blocks))
	for i, s := range blocks {
		if len(s.Name) == 0 {
			return errors.Errorf("overlay: block #%d has no name", i)
		}
		if _, ok := seen[s.Name]; ok {
			return errors.Errorf("overlay: duplicate block %q", s.Name)
		}
		if s.Size <= 0 {
			return errors.Errorf("overlay: block %q has invalid size %d", s.Name, s.Size)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// release unregisters and closes the first len(mapped) blocks.
func release(specs []BlockSpec, mapped []*ipreg.DefaultBlock) error {
	var err error
	for i, b := range mapped {
		if err1 := ipreg.Unregister(specs[i].Name); err == nil {
			err = err1
		}
		if err1 := b.Close(); err == nil {
			err = err1
		}
	}
	return err
}
