// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bitstream programs the programmable logic of a Zynq-7000.
//
// Loading a full bitstream first sets up the PL fabric clocks FCLK0 to FCLK3,
// clears the partial reconfiguration flag of the devcfg driver then streams
// the image to /dev/xdevcfg. It requires root access.
package bitstream

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"

	"github.com/zynq-go/zynq/conn/fault"
	"github.com/zynq-go/zynq/host/fs"
	"github.com/zynq-go/zynq/host/mmio"
)

// MaxClocks is the number of PL fabric clocks.
const MaxClocks = 4

// IOPLL is the usual FCLK source frequency on PYNQ boards.
const IOPLL = 1000 * physic.MegaHertz

// Clock is the pair of divisors of one PL fabric clock.
//
// The output frequency is the source PLL frequency divided by Div0*Div1. Both
// divisors are 6 bits wide; a zero divisor stops the clock.
type Clock struct {
	Div0 uint32 `json:"div0"`
	Div1 uint32 `json:"div1"`
}

func (c Clock) String() string {
	return fmt.Sprintf("Clock{div0:%d, div1:%d}", c.Div0, c.Div1)
}

// Frequency returns the output frequency given the source frequency.
func (c Clock) Frequency(src physic.Frequency) physic.Frequency {
	if c.Div0 == 0 || c.Div1 == 0 {
		return 0
	}
	return src / physic.Frequency(c.Div0*c.Div1)
}

// Divisors returns the Clock getting closest to want from src.
//
// Among equally close candidates the one with the smallest Div0 wins.
func Divisors(src, want physic.Frequency) (Clock, error) {
	if src <= 0 || want <= 0 {
		return Clock{}, errors.Errorf("bitstream: invalid frequencies %s from %s", want, src)
	}
	if want > src {
		return Clock{}, errors.Errorf("bitstream: %s is above source %s", want, src)
	}
	best := Clock{}
	bestDiff := physic.Frequency(-1)
	for d0 := uint32(1); d0 <= divMask; d0++ {
		for d1 := uint32(1); d1 <= divMask; d1++ {
			c := Clock{d0, d1}
			diff := c.Frequency(src) - want
			if diff < 0 {
				diff = -diff
			}
			if bestDiff < 0 || diff < bestDiff {
				best, bestDiff = c, diff
			}
		}
	}
	return best, nil
}

// ConfigureClocks programs the divisors of FCLK0 onward with clocks.
//
// Between 1 and MaxClocks clocks must be given; the remaining ones are
// disabled.
func ConfigureClocks(clocks []Clock) error {
	const op = "bitstream.ConfigureClocks"
	if len(clocks) == 0 || len(clocks) > MaxClocks {
		return fault.New(fault.Usage, op, "", errors.Errorf("need 1 to %d clocks, got %d", MaxClocks, len(clocks)))
	}
	w, err := mmioMap(slcrBase, slcrSize)
	if err != nil {
		return err
	}
	setClocks(w, clocks)
	return w.Close()
}

// SetPartial sets the partial reconfiguration flag of the devcfg driver.
func SetPartial(partial bool) error {
	f, err := openFile(partialFlag, os.O_WRONLY)
	if err != nil {
		return errors.Wrap(err, "bitstream: opening partial flag")
	}
	v := []byte("0")
	if partial {
		v = []byte("1")
	}
	_, err = f.Write(v)
	if err1 := f.Close(); err == nil {
		err = err1
	}
	return errors.Wrap(err, "bitstream: writing partial flag")
}

// Load configures the clocks and writes a full bitstream image.
//
// It returns the number of bytes written.
func Load(data []byte, clocks []Clock) (int, error) {
	if len(data) == 0 {
		return 0, fault.New(fault.Usage, "bitstream.Load", devcfg, errors.New("empty bitstream"))
	}
	if err := ConfigureClocks(clocks); err != nil {
		return 0, err
	}
	if err := SetPartial(false); err != nil {
		return 0, err
	}
	f, err := openFile(devcfg, os.O_WRONLY)
	if err != nil {
		return 0, errors.Wrap(err, "bitstream: opening "+devcfg)
	}
	n, err := f.Write(data)
	if err1 := f.Close(); err == nil {
		err = err1
	}
	if err != nil {
		return n, errors.Wrap(err, "bitstream: writing "+devcfg)
	}
	return n, nil
}

// LoadFile reads a bitstream file and loads it.
func LoadFile(path string, clocks []Clock) (int, error) {
	data, err := readFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "bitstream: reading bitstream")
	}
	return Load(data, clocks)
}

//

const (
	slcrBase = 0xf8000000
	// fclkOffset is the word offset of FPGA0_CLK_CTRL.
	fclkOffset = 0x170 / 4
	fclkStride = 0x10 / 4
	slcrSize   = 0x170 + 0x10*MaxClocks

	divMask   = 0x3f
	div0Shift = 8
	div1Shift = 20
)

// window is what ConfigureClocks needs from a mapping.
type window interface {
	mmio.Registers
	io.Closer
}

var (
	devcfg      = "/dev/xdevcfg"
	partialFlag = "/sys/devices/soc0/amba/f8007000.devcfg/is_partial_bitstream"

	mmioMap = func(base uint32, size int) (window, error) {
		w, err := mmio.Map(base, size)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	openFile = func(path string, flag int) (io.WriteCloser, error) {
		f, err := fs.Open(path, flag)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	readFile = os.ReadFile
)

func setClocks(r mmio.Registers, clocks []Clock) {
	for i := 0; i < MaxClocks; i++ {
		c := Clock{}
		if i < len(clocks) {
			c = clocks[i]
		}
		off := fclkOffset + i*fclkStride
		r.WriteUint32(off, divisors(c, r.ReadUint32(off)))
	}
}

// divisors replaces the divisor fields of an FPGAn_CLK_CTRL value.
func divisors(c Clock, old uint32) uint32 {
	old &^= divMask<<div1Shift | divMask<<div0Shift
	return old | (c.Div1&divMask)<<div1Shift | (c.Div0&divMask)<<div0Shift
}
