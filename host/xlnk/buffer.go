// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xlnk

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zynq-go/zynq/conn/dma"
	"github.com/zynq-go/zynq/conn/fault"
)

// Buffer is a physically contiguous buffer mapped in the process.
//
// It is owned by exactly one holder at a time: the application, or a DMA
// engine channel while a transfer is in flight. It is not safe for concurrent
// use.
//
// Close unmaps the buffer then frees the allocation. Always defer it right
// after Allocate.
type Buffer struct {
	noCopy noCopy
	id     uint32
	phys   uint32
	size   int
	buf    []byte
	// freed is set once the kernel released the allocation.
	freed bool
}

// Allocate allocates and maps size bytes of non cacheable physically
// contiguous memory.
//
// If the mapping fails, the allocation is freed before returning.
func Allocate(size int) (*Buffer, error) {
	return allocate(size, false)
}

// AllocateCacheable is like Allocate with CPU caching enabled. The caller is
// responsible for cache maintenance around DMA transfers.
func AllocateCacheable(size int) (*Buffer, error) {
	return allocate(size, true)
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	return fmt.Sprintf("xlnk.Buffer{id:%d, phys:0x%08x, size:%d}", b.id, b.phys, b.size)
}

// Buf implements dma.Mem.
//
// It returns a view of exactly the allocated size. Writes are plain memory
// accesses; no barrier is issued. It returns nil once the buffer is closed.
func (b *Buffer) Buf() []byte {
	return b.buf
}

// PhysAddr implements dma.Mem.
func (b *Buffer) PhysAddr() uint64 {
	return uint64(b.phys)
}

// ID returns the kernel allocation id.
func (b *Buffer) ID() uint32 {
	return b.id
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() int {
	return b.size
}

// Close implements dma.Mem.
//
// It unmaps the buffer then frees the allocation on a new session. When a
// step fails, calling Close again retries the remaining steps; the mapping is
// released once and the allocation is freed once.
//
// Never call Close while a DMA engine still owns the buffer: the engine would
// keep writing to memory the kernel may hand to someone else. Reset the
// engine first, or leak the buffer.
func (b *Buffer) Close() error {
	if b.freed {
		return fault.New(fault.Usage, "xlnk.Buffer.Close", b.String(), errors.New("already closed"))
	}
	if b.buf != nil {
		if err := Unmap(b.buf); err != nil {
			// Freeing memory that is still mapped would leave a dangling mapping.
			return err
		}
		b.buf = nil
	}
	s, err := Open()
	if err != nil {
		return err
	}
	err = s.Free(b.id)
	if err == nil {
		b.freed = true
	}
	if err2 := s.Close(); err == nil {
		err = err2
	}
	return err
}

//

func allocate(size int, cacheable bool) (*Buffer, error) {
	if size <= 0 {
		return nil, fault.New(fault.Usage, "xlnk.Allocate", devXlnk, errors.Errorf("invalid size %d", size))
	}
	s, err := Open()
	if err != nil {
		return nil, err
	}
	b, err := allocateOn(s, size, cacheable)
	if err2 := s.Close(); err2 != nil {
		if err != nil {
			return nil, err
		}
		_ = b.Close()
		return nil, err2
	}
	return b, err
}

func allocateOn(s *Session, size int, cacheable bool) (*Buffer, error) {
	id, phys, err := s.Alloc(size, cacheable)
	if err != nil {
		return nil, err
	}
	buf, err := s.MapBuffer(id, size)
	if err != nil {
		if err2 := s.Free(id); err2 != nil {
			return nil, errors.Wrap(err, err2.Error())
		}
		return nil, err
	}
	return &Buffer{id: id, phys: phys, size: size, buf: buf}, nil
}

var _ dma.Mem = &Buffer{}
