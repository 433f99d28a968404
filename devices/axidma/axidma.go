// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package axidma drives a Xilinx AXI DMA engine in direct register mode.
//
// The engine has two independent channels: Send (memory to stream, MM2S) and
// Receive (stream to memory, S2MM). Each channel carries at most one buffer
// at a time. A transfer is armed with Start, observed with Done and
// completed with Finish. Completion is polled; interrupts are not used.
//
// A Dev is not safe for concurrent use. Both channels may be interleaved
// freely, but all calls into one Dev must come from one goroutine or be
// serialized by the caller.
//
// Datasheet
//
// https://docs.xilinx.com/r/en-US/pg021_axi_dma
package axidma

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/zynq-go/zynq/conn/dma"
	"github.com/zynq-go/zynq/conn/fault"
	"github.com/zynq-go/zynq/host/mmio"
)

// DefaultBase is the physical address of the engine registers on the base
// PYNQ overlay.
const DefaultBase = 0x40000000

// Register word offsets, relative to a channel.
const (
	regControl = 0
	regStatus  = 1
	regAddress = 6
	regLength  = 10

	// channelStride is the offset between the Send and Receive register
	// blocks.
	channelStride = 12
)

// WindowSize is the size in bytes of the register window of both channels.
const WindowSize = 2 * 0x30

// Register bits.
const (
	controlRun   = 1 << 0
	controlReset = 1 << 2
	statusHalted = 1 << 0
	statusIdle   = 1 << 1
)

// Opts holds the configuration options.
type Opts struct {
	// Base is the physical address of the register window, used by Open.
	Base uint32
	// StartTimeout bounds the wait for both channels to leave the halted
	// state. 0 means to wait forever.
	StartTimeout time.Duration
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Base: DefaultBase,
}

// Dev is a handle to an initialized AXI DMA engine.
type Dev struct {
	noCopy noCopy
	// Immutable.
	r mmio.Registers
	// w is set when the window was mapped by Open and must be unmapped by
	// Close.
	w            *mmio.Window
	startTimeout time.Duration
	started      bool

	// Mutable.
	ch [2]channel
}

type channel struct {
	// buf is nil when the channel is idle.
	buf dma.Mem
}

// Get maps the engine at DefaultBase and starts it.
func Get() (*Dev, error) {
	return Open(&DefaultOpts)
}

// Open maps the engine at opts.Base and starts it.
func Open(opts *Opts) (*Dev, error) {
	w, err := mmioMap(opts.Base, WindowSize)
	if err != nil {
		return nil, err
	}
	d, err := New(w, opts)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	d.w = w
	return d, nil
}

// New starts the engine behind r.
//
// It sets the run bit of both channels then busy waits until both report
// they left the halted state. opts.Base is ignored.
func New(r mmio.Registers, opts *Opts) (*Dev, error) {
	if n := r.Words(); n < 2*channelStride {
		return nil, fault.New(fault.Usage, "axidma.New", "", errors.Errorf("register window is %d words, need %d", n, 2*channelStride))
	}
	d := &Dev{r: r, startTimeout: opts.StartTimeout}
	if err := d.start(); err != nil {
		return nil, err
	}
	return d, nil
}

// String implements fmt.Stringer.
func (d *Dev) String() string {
	if d.w != nil {
		return fmt.Sprintf("axidma{0x%08x}", d.w.Base())
	}
	return "axidma"
}

// Start implements dma.Engine.
//
// It writes the buffer address then its length, which arms the transfer,
// and takes ownership of m until Finish returns it. It fails with a
// fault.Usage error without touching any register when a transfer is already
// in flight on the channel.
func (d *Dev) Start(c dma.Channel, m dma.Mem) error {
	const op = "axidma.Start"
	ch, err := d.channel(op, c)
	if err != nil {
		return err
	}
	if ch.buf != nil {
		return fault.New(fault.Usage, op, c.String(), errors.New("transfer in progress"))
	}
	if m == nil {
		return fault.New(fault.Usage, op, c.String(), errors.New("nil buffer"))
	}
	addr := m.PhysAddr()
	n := len(m.Buf())
	if addr > math.MaxUint32 {
		return fault.New(fault.Usage, op, c.String(), errors.Errorf("physical address 0x%x doesn't fit 32 bits", addr))
	}
	if n == 0 || uint64(n) > math.MaxUint32 {
		return fault.New(fault.Usage, op, c.String(), errors.Errorf("invalid length %d", n))
	}
	base := int(c) * channelStride
	d.r.WriteUint32(base+regAddress, uint32(addr))
	d.r.WriteUint32(base+regLength, uint32(n))
	ch.buf = m
	return nil
}

// Done implements dma.Engine.
//
// It returns true when no buffer is owned by the channel, which is the case
// on a freshly started engine. Otherwise it returns true once the channel
// reports idle. The hardware idle bit stays clear until the first transfer
// completes so it can't be trusted on its own.
func (d *Dev) Done(c dma.Channel) bool {
	if c != dma.Send && c != dma.Receive {
		return false
	}
	if d.ch[c].buf == nil {
		return true
	}
	return d.r.ReadUint32(int(c)*channelStride+regStatus)&statusIdle != 0
}

// Finish implements dma.Engine.
//
// It returns the buffer passed to Start once the channel is idle.
func (d *Dev) Finish(c dma.Channel) (dma.Mem, error) {
	const op = "axidma.Finish"
	ch, err := d.channel(op, c)
	if err != nil {
		return nil, err
	}
	if !d.Done(c) {
		return nil, fault.New(fault.Usage, op, c.String(), errors.New("transfer hasn't finished"))
	}
	if ch.buf == nil {
		return nil, fault.New(fault.Usage, op, c.String(), errors.New("no transfer was started"))
	}
	m := ch.buf
	ch.buf = nil
	return m, nil
}

// StartSend starts a transfer from m to the programmable logic.
func (d *Dev) StartSend(m dma.Mem) error {
	return d.Start(dma.Send, m)
}

// IsSendDone returns true when the Send channel is idle.
func (d *Dev) IsSendDone() bool {
	return d.Done(dma.Send)
}

// FinishSend returns the buffer of a completed Send transfer.
func (d *Dev) FinishSend() (dma.Mem, error) {
	return d.Finish(dma.Send)
}

// StartReceive starts a transfer from the programmable logic into m.
func (d *Dev) StartReceive(m dma.Mem) error {
	return d.Start(dma.Receive, m)
}

// IsReceiveDone returns true when the Receive channel is idle.
func (d *Dev) IsReceiveDone() bool {
	return d.Done(dma.Receive)
}

// FinishReceive returns the buffer of a completed Receive transfer.
//
// The data written by the programmable logic is visible in the buffer only
// after this call.
func (d *Dev) FinishReceive() (dma.Mem, error) {
	return d.Finish(dma.Receive)
}

// Close unmaps the register window when it was mapped by Get or Open.
//
// It fails while a buffer is still owned by a channel. Use Reset to abort the
// transfers first.
func (d *Dev) Close() error {
	for i := range d.ch {
		if d.ch[i].buf != nil {
			return fault.New(fault.Usage, "axidma.Close", dma.Channel(i).String(), errors.New("transfer in progress"))
		}
	}
	if d.w == nil {
		return nil
	}
	return d.w.Close()
}

//

var (
	mmioMap = mmio.Map
	now     = time.Now
)

func (d *Dev) start() error {
	timeout := d.startTimeout
	d.r.WriteUint32(regControl, controlRun)
	d.r.WriteUint32(channelStride+regControl, controlRun)
	var deadline time.Time
	if timeout > 0 {
		deadline = now().Add(timeout)
	}
	for d.halted() {
		if !deadline.IsZero() && now().After(deadline) {
			return fault.New(fault.Timeout, "axidma.New", "", errors.Errorf("engine still halted after %s", timeout))
		}
	}
	d.started = true
	return nil
}

func (d *Dev) halted() bool {
	return d.r.ReadUint32(regStatus)&statusHalted != 0 || d.r.ReadUint32(channelStride+regStatus)&statusHalted != 0
}

func (d *Dev) channel(op string, c dma.Channel) (*channel, error) {
	if !d.started {
		return nil, fault.New(fault.Usage, op, c.String(), errors.New("engine not started"))
	}
	if c != dma.Send && c != dma.Receive {
		return nil, fault.New(fault.Usage, op, c.String(), errors.New("invalid channel"))
	}
	return &d.ch[c], nil
}

// noCopy may be embedded into structs which must not be copied after the
// first use. See go vet -copylocks.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

var _ dma.Engine = &Dev{}
