// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dma defines the memory and channel abstractions shared by the
// physically contiguous buffer allocator and DMA engine drivers.
package dma

import (
	"io"
	"strconv"
)

// Mem represents a section of memory that is usable by the DMA controller.
//
// Since this is physically allocated memory, that could potentially have been
// allocated in spite of OS consent, it is important to call Close() before
// process exit. Close must never be called while the memory is handed to an
// Engine: an aborted transfer can still write to it. Reset the engine first,
// or leak the memory when the engine can't be reset.
type Mem interface {
	io.Closer
	// Buf returns the CPU view of the memory. Its length is the size of the
	// allocation.
	Buf() []byte
	// PhysAddr is the physical address. It can be either 32 bits or 64 bits,
	// depending on the OS, not on the user mode build.
	PhysAddr() uint64
}

// Channel is one direction of data movement of an engine.
type Channel int

// Engine channels.
const (
	// Send moves memory to the programmable logic (MM2S).
	Send Channel = 0
	// Receive moves data from the programmable logic to memory (S2MM).
	Receive Channel = 1
)

func (c Channel) String() string {
	switch c {
	case Send:
		return "send"
	case Receive:
		return "receive"
	default:
		return "Channel(" + strconv.Itoa(int(c)) + ")"
	}
}

// Engine defines the interface a concrete DMA driver must implement.
//
// An Engine owns the Mem passed to Start until it is returned by Finish.
type Engine interface {
	// Start arms a transfer of the whole buffer on the channel.
	Start(c Channel, m Mem) error
	// Done returns true when the channel owns no buffer or is idle.
	Done(c Channel) bool
	// Finish returns the buffer of a completed transfer.
	Finish(c Channel) (Mem, error)
}
