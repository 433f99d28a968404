// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mmiotest is meant to be used to test drivers using fake register
// windows.
package mmiotest

import (
	"fmt"
	"log"
	"sync"

	"github.com/zynq-go/zynq/host/mmio"
)

// Write is one recorded register write.
type Write struct {
	Index int
	Value uint32
}

// Window implements mmio.Registers over plain memory.
//
// Modify its members to simulate hardware events.
type Window struct {
	// Grab the Mutex before accessing the following members.
	sync.Mutex
	Regs []uint32
	// Writes is every write done through WriteUint32, in order.
	Writes []Write
	// OnRead is called with the lock held before a word is read. It can
	// mutate Regs to simulate hardware progress.
	OnRead func(w *Window, i int)
	// OnWrite is called with the lock held after a word is written.
	OnWrite func(w *Window, i int, v uint32)
}

// New returns a Window of n zeroed words.
func New(n int) *Window {
	return &Window{Regs: make([]uint32, n)}
}

// ReadUint32 implements mmio.Registers.
func (w *Window) ReadUint32(i int) uint32 {
	w.Lock()
	defer w.Unlock()
	if w.OnRead != nil {
		w.OnRead(w, i)
	}
	return w.Regs[i]
}

// WriteUint32 implements mmio.Registers.
func (w *Window) WriteUint32(i int, v uint32) {
	w.Lock()
	defer w.Unlock()
	w.Regs[i] = v
	w.Writes = append(w.Writes, Write{i, v})
	if w.OnWrite != nil {
		w.OnWrite(w, i, v)
	}
}

// Words implements mmio.Registers.
func (w *Window) Words() int {
	w.Lock()
	defer w.Unlock()
	return len(w.Regs)
}

// Set changes a word without recording it as a write.
func (w *Window) Set(i int, v uint32) {
	w.Lock()
	defer w.Unlock()
	w.Regs[i] = v
}

// Get returns a word without triggering OnRead.
func (w *Window) Get(i int) uint32 {
	w.Lock()
	defer w.Unlock()
	return w.Regs[i]
}

// Reset forgets the recorded writes.
func (w *Window) Reset() {
	w.Lock()
	defer w.Unlock()
	w.Writes = nil
}

// LogWindow logs every access to the underlying registers.
type LogWindow struct {
	mmio.Registers
}

// String implements fmt.Stringer.
func (l *LogWindow) String() string {
	if s, ok := l.Registers.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", l.Registers)
}

// ReadUint32 implements mmio.Registers.
func (l *LogWindow) ReadUint32(i int) uint32 {
	v := l.Registers.ReadUint32(i)
	log.Printf("%s.ReadUint32(%d) 0x%08x", l, i, v)
	return v
}

// WriteUint32 implements mmio.Registers.
func (l *LogWindow) WriteUint32(i int, v uint32) {
	log.Printf("%s.WriteUint32(%d, 0x%08x)", l, i, v)
	l.Registers.WriteUint32(i, v)
}

var _ mmio.Registers = &Window{}
var _ mmio.Registers = &LogWindow{}
