// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mmio maps physical device registers into the process.
//
// A Window is a page aligned range of physical memory mapped from /dev/mem
// and exposed as a sequence of 32-bit words. It requires root access.
//
// A Window is not safe for concurrent use. Callers sharing one across
// goroutines must serialize every access themselves. Mapping overlapping
// physical ranges twice is not detected.
package mmio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/zynq-go/zynq/conn/fault"
	"github.com/zynq-go/zynq/host/fs"
)

// Registers is a window of 32-bit registers addressed by word index.
//
// *Window implements it; mmiotest.Window is a fake for unit tests.
type Registers interface {
	// ReadUint32 reads the word at index i.
	ReadUint32(i int) uint32
	// WriteUint32 writes the word at index i.
	WriteUint32(i int, v uint32)
	// Words returns the number of mapped words.
	Words() int
}

// Window is a mapped range of physical registers.
type Window struct {
	noCopy noCopy
	base   uint32
	raw    []byte
	words  []uint32
}

// Map maps size bytes of physical memory starting at base.
//
// base must be a multiple of the page size. The mapping is rounded up to a
// whole number of 32-bit words. The /dev/mem handle is closed before
// returning; the mapping stays valid until Close.
func Map(base uint32, size int) (*Window, error) {
	const op = "mmio.Map"
	res := fmt.Sprintf("0x%08x", base)
	if size <= 0 {
		return nil, fault.New(fault.Usage, op, res, errors.Errorf("invalid size %d", size))
	}
	if base%uint32(pageSize) != 0 {
		return nil, fault.New(fault.Alignment, op, res, errors.Errorf("not aligned on %d bytes pages", pageSize))
	}
	f, err := openFile(devMem, os.O_RDWR|os.O_SYNC)
	if err != nil {
		return nil, fault.New(fault.Map, op, devMem, errors.Wrap(err, "are we root?"))
	}
	n := (size + 3) / 4
	raw, err := f.Mmap(int64(base), 4*n, false)
	if err != nil {
		_ = f.Close()
		return nil, fault.New(fault.Map, op, res, err)
	}
	if err := f.Close(); err != nil {
		_ = munmap(raw)
		return nil, fault.New(fault.Map, op, devMem, errors.Wrap(err, "close"))
	}
	return &Window{base: base, raw: raw, words: toWords(raw)}, nil
}

// String implements fmt.Stringer.
func (w *Window) String() string {
	return fmt.Sprintf("mmio{0x%08x, %d words}", w.base, len(w.words))
}

// Base returns the physical address of the first word.
func (w *Window) Base() uint32 {
	return w.base
}

// Words implements Registers.
func (w *Window) Words() int {
	return len(w.words)
}

// ReadUint32 implements Registers.
//
// It doesn't check i against the window size beyond the slice bounds check.
// Use Read for a checked access.
func (w *Window) ReadUint32(i int) uint32 {
	return atomic.LoadUint32(&w.words[i])
}

// WriteUint32 implements Registers.
func (w *Window) WriteUint32(i int, v uint32) {
	atomic.StoreUint32(&w.words[i], v)
}

// Read reads the word at index i, returning a fault.Bounds error when i is
// outside the window.
func (w *Window) Read(i int) (uint32, error) {
	if err := w.check("mmio.Read", i, 1); err != nil {
		return 0, err
	}
	return w.ReadUint32(i), nil
}

// Write writes the word at index i, returning a fault.Bounds error when i is
// outside the window.
func (w *Window) Write(i int, v uint32) error {
	if err := w.check("mmio.Write", i, 1); err != nil {
		return err
	}
	w.WriteUint32(i, v)
	return nil
}

// CopyFrom writes b as little endian words starting at word index off.
//
// len(b) must be a multiple of 4.
func (w *Window) CopyFrom(off int, b []byte) error {
	if len(b)%4 != 0 {
		return fault.New(fault.Usage, "mmio.CopyFrom", w.resource(), errors.Errorf("length %d is not a multiple of 4", len(b)))
	}
	if err := w.check("mmio.CopyFrom", off, len(b)/4); err != nil {
		return err
	}
	for i := 0; i < len(b); i += 4 {
		w.WriteUint32(off+i/4, binary.LittleEndian.Uint32(b[i:]))
	}
	return nil
}

// CopyTo reads little endian words starting at word index off into b.
//
// len(b) must be a multiple of 4.
func (w *Window) CopyTo(off int, b []byte) error {
	if len(b)%4 != 0 {
		return fault.New(fault.Usage, "mmio.CopyTo", w.resource(), errors.Errorf("length %d is not a multiple of 4", len(b)))
	}
	if err := w.check("mmio.CopyTo", off, len(b)/4); err != nil {
		return err
	}
	for i := 0; i < len(b); i += 4 {
		binary.LittleEndian.PutUint32(b[i:], w.ReadUint32(off+i/4))
	}
	return nil
}

// Close unmaps the window.
//
// It must be called exactly once. The window must not be used afterward.
func (w *Window) Close() error {
	if w.raw == nil {
		return fault.New(fault.Usage, "mmio.Close", w.resource(), errors.New("already closed"))
	}
	raw := w.raw
	w.raw = nil
	w.words = nil
	if err := munmap(raw); err != nil {
		return fault.New(fault.Map, "mmio.Close", w.resource(), err)
	}
	return nil
}

//

// mapper is the subset of *fs.File used to create a mapping.
type mapper interface {
	Mmap(offset int64, length int, locked bool) ([]byte, error)
	Close() error
}

var (
	devMem   = "/dev/mem"
	pageSize = fs.PageSize()
	openFile = func(path string, flag int) (mapper, error) {
		f, err := fs.Open(path, flag)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	munmap = fs.Munmap
)

func (w *Window) resource() string {
	return fmt.Sprintf("0x%08x", w.base)
}

func (w *Window) check(op string, i, n int) error {
	if i < 0 || n < 0 || i+n > len(w.words) {
		return fault.New(fault.Bounds, op, w.resource(), errors.Errorf("words [%d, %d) outside of %d", i, i+n, len(w.words)))
	}
	return nil
}

func toWords(b []byte) []uint32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// noCopy may be embedded into structs which must not be copied after the
// first use. See go vet -copylocks.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

var _ Registers = &Window{}
