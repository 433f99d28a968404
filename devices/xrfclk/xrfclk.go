// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xrfclk programs the reference clock chips of RFSoC boards.
//
// The LMK04208, LMK04832 and LMX2594 chips are described in the device tree
// as SPI devices. FindDevices binds them to the spidev driver so they can be
// programmed from userspace with register tables exported by TICS Pro.
//
// Datasheets
//
// https://www.ti.com/lit/ds/symlink/lmx2594.pdf
//
// https://www.ti.com/lit/ds/symlink/lmk04832.pdf
//
// https://www.ti.com/lit/ds/symlink/lmk04208.pdf
package xrfclk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3/sysfs"

	"github.com/zynq-go/zynq/host/fs"
)

// Chip is a supported clock chip.
type Chip int

// Supported chips.
const (
	LMX2594 Chip = iota
	LMK04832
	LMK04208
)

const chipName = "lmx2594lmk04832lmk04208"

var chipIndex = [...]uint8{0, 7, 15, 23}

func (c Chip) String() string {
	if c < 0 || c >= Chip(len(chipIndex)-1) {
		return fmt.Sprintf("Chip(%d)", c)
	}
	return chipName[chipIndex[c]:chipIndex[c+1]]
}

// IsLMK returns true for the LMK clock jitter cleaners.
func (c Chip) IsLMK() bool {
	return c == LMK04832 || c == LMK04208
}

// ParseChip returns the Chip named s, as found in a device tree compatible
// string after the vendor prefix.
func ParseChip(s string) (Chip, error) {
	for c := LMX2594; c <= LMK04208; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, errors.Errorf("xrfclk: unknown chip %q", s)
}

// Dev is a clock chip bound to spidev.
type Dev struct {
	Chip Chip
	// Name is the SPI device name, e.g. "spi1.0".
	Name string
	// Bytes is the number of bytes per register write, 3 or 4.
	Bytes int

	bus, cs int
}

func (d *Dev) String() string {
	return d.Chip.String() + "(" + d.Name + ")"
}

// WriteRegisters writes the register values to the chip.
//
// The LMX2594 is reset first, and its R0 is written again last so the VCO
// calibration runs from a stable state.
func (d *Dev) WriteRegisters(words []uint32) error {
	p, err := openSPI(d.bus, d.cs)
	if err != nil {
		return errors.Wrapf(err, "xrfclk: %s", d)
	}
	c, err := p.Connect(spiSpeed, spi.Mode0, 8)
	if err == nil {
		err = d.write(c, words)
	}
	if err1 := p.Close(); err == nil {
		err = err1
	}
	return errors.Wrapf(err, "xrfclk: %s", d)
}

// SetFrequency programs the chip with the table of cfg for frequency f.
func (d *Dev) SetFrequency(cfg Config, f physic.Frequency) error {
	t, err := cfg.Table(d.Chip, f)
	if err != nil {
		return err
	}
	return d.WriteRegisters(t.Words())
}

// FindDevices returns the supported clock chips described in the device
// tree, after binding each of them to spidev.
func FindDevices() ([]*Dev, error) {
	entries, err := readDir(filepath.Join(spiBus, "devices"))
	if err != nil {
		return nil, errors.Wrap(err, "xrfclk: listing SPI devices")
	}
	var out []*Dev
	for _, e := range entries {
		name := e.Name()
		dir := filepath.Join(spiBus, "devices", name)
		b, err := readFile(filepath.Join(dir, "of_node", "compatible"))
		if err != nil {
			continue
		}
		chip, ok := compatibleChip(b)
		if !ok {
			continue
		}
		d := &Dev{Chip: chip, Name: name, Bytes: 3}
		if _, err := fmt.Sscanf(name, "spi%d.%d", &d.bus, &d.cs); err != nil {
			return nil, errors.Errorf("xrfclk: unexpected SPI device name %q", name)
		}
		if chip.IsLMK() {
			if d.Bytes, err = numBytes(dir); err != nil {
				return nil, err
			}
		}
		if err := bind(dir, name); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetRefClocks programs every LMK chip for lmk and every LMX chip for lmx.
func SetRefClocks(cfg Config, lmk, lmx physic.Frequency) error {
	devs, err := FindDevices()
	if err != nil {
		return err
	}
	return Program(devs, cfg, lmk, lmx)
}

// Program programs devs, the LMK chips for lmk and the LMX chips for lmx.
//
// The LMX chips take their reference from an LMK chip and calibrate their VCO
// against it when programmed, so all the LMK chips are programmed first. Each
// chip is on its own SPI device so chips of the same kind are programmed
// concurrently.
func Program(devs []*Dev, cfg Config, lmk, lmx physic.Frequency) error {
	if err := program(devs, cfg, true, lmk); err != nil {
		return err
	}
	return program(devs, cfg, false, lmx)
}

//

const (
	spiSpeed = physic.MegaHertz

	// lmxReset sets RESET in R0; lmxRun clears it.
	lmxReset = 0x020000
	lmxRun   = 0x000000
	// lmxCalibrate is R0 with FCAL_EN set.
	lmxCalibrate = 112
)

func program(devs []*Dev, cfg Config, isLMK bool, f physic.Frequency) error {
	var eg errgroup.Group
	for _, d := range devs {
		if d.Chip.IsLMK() != isLMK {
			continue
		}
		d := d
		eg.Go(func() error {
			return d.SetFrequency(cfg, f)
		})
	}
	return eg.Wait()
}

var (
	spiBus = "/sys/bus/spi"

	openSPI = func(bus, cs int) (spi.PortCloser, error) {
		return sysfs.NewSPI(bus, cs)
	}
	readDir  = os.ReadDir
	readFile = os.ReadFile
)

func (d *Dev) write(c spi.Conn, words []uint32) error {
	if d.Chip == LMX2594 {
		words = append(append([]uint32{lmxReset, lmxRun}, words...), lmxCalibrate)
	}
	var buf [4]byte
	for _, w := range words {
		binary.BigEndian.PutUint32(buf[:], w)
		if err := c.Tx(buf[4-d.Bytes:], nil); err != nil {
			return err
		}
	}
	return nil
}

// compatibleChip parses a device tree compatible string like
// "ti,lmx2594\x00".
func compatibleChip(b []byte) (Chip, bool) {
	i := bytes.IndexByte(b, ',')
	if i < 0 {
		return 0, false
	}
	s := strings.Map(func(r rune) rune {
		if r == 0 || r == ' ' || r == '\n' || r == '\t' {
			return -1
		}
		return r
	}, string(b[i+1:]))
	c, err := ParseChip(s)
	return c, err == nil
}

func numBytes(dir string) (int, error) {
	b, err := readFile(filepath.Join(dir, "of_node", "num_bytes"))
	if err != nil {
		return 0, errors.Wrap(err, "xrfclk: reading num_bytes")
	}
	if len(b) < 4 {
		return 0, errors.Errorf("xrfclk: invalid num_bytes %x", b)
	}
	if binary.BigEndian.Uint32(b) == 3 {
		return 3, nil
	}
	return 4, nil
}

// bind unbinds the device from its current driver and binds it to spidev.
func bind(dir, name string) error {
	if _, err := os.Stat(filepath.Join(dir, "driver")); err == nil {
		if err := writeFile(filepath.Join(dir, "driver", "unbind"), name); err != nil {
			return err
		}
	}
	if err := writeFile(filepath.Join(dir, "driver_override"), "spidev"); err != nil {
		return err
	}
	return writeFile(filepath.Join(spiBus, "drivers", "spidev", "bind"), name)
}

func writeFile(path, s string) error {
	f, err := fs.Open(path, os.O_WRONLY)
	if err != nil {
		return errors.Wrap(err, "xrfclk: binding spidev")
	}
	_, err = io.WriteString(f, s)
	if err1 := f.Close(); err == nil {
		err = err1
	}
	return errors.Wrap(err, "xrfclk: binding spidev")
}
