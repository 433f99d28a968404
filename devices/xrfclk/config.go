// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xrfclk

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

// Register is one named register value of a clock chip.
type Register struct {
	Name  string
	Value uint32
}

// Table is the register values programming a chip for one frequency, in
// programming order.
type Table []Register

// Words returns the register values.
func (t Table) Words() []uint32 {
	out := make([]uint32, len(t))
	for i, r := range t {
		out[i] = r.Value
	}
	return out
}

// Config is the register tables of every chip, per output frequency.
type Config map[Chip]map[physic.Frequency]Table

// LoadConfig decodes a JSON register config.
//
// The document maps a chip name to frequencies to register names to values:
//
//	{"lmk04208": {"122.88MHz": {"R0": "0x00160040", "R1": 1310737}}}
//
// Frequencies without a unit are integers in units of 10kHz, so "12288" is
// 122.88MHz, as in the tables shipped with the PYNQ xrfclk library. Values are numbers or strings using
// Go integer literal syntax. Tables are programmed from the highest register
// number to the lowest, as TICS Pro exports them.
func LoadConfig(r io.Reader) (Config, error) {
	raw := map[string]map[string]map[string]word{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "xrfclk: decoding config")
	}
	c := make(Config, len(raw))
	for chipName, freqs := range raw {
		chip, err := ParseChip(chipName)
		if err != nil {
			return nil, err
		}
		m := make(map[physic.Frequency]Table, len(freqs))
		for k, regs := range freqs {
			f, err := parseFrequency(k)
			if err != nil {
				return nil, errors.Wrapf(err, "xrfclk: %s", chipName)
			}
			if _, ok := m[f]; ok {
				return nil, errors.Errorf("xrfclk: %s: duplicate frequency %s", chipName, f)
			}
			m[f] = newTable(regs)
		}
		c[chip] = m
	}
	return c, nil
}

// LoadConfigFile decodes the JSON register config at path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "xrfclk: opening config")
	}
	defer f.Close()
	return LoadConfig(f)
}

// Table returns the register table programming chip for frequency f.
func (c Config) Table(chip Chip, f physic.Frequency) (Table, error) {
	t, ok := c[chip][f]
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownFrequency, "%s at %s", chip, f)
	}
	return t, nil
}

// Frequencies returns the frequencies known for chip, in increasing order.
func (c Config) Frequencies(chip Chip) []physic.Frequency {
	out := make([]physic.Frequency, 0, len(c[chip]))
	for f := range c[chip] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ErrUnknownFrequency is returned when a config has no table for a
// frequency.
var ErrUnknownFrequency = errors.New("xrfclk: unknown frequency")

//

// word is a register value as found in JSON.
type word uint32

func (w *word) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n uint32
		if err := json.Unmarshal(b, &n); err != nil {
			return errors.Errorf("xrfclk: invalid register value %s", b)
		}
		*w = word(n)
		return nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return errors.Wrap(err, "xrfclk: invalid register value")
	}
	*w = word(n)
	return nil
}

func parseFrequency(s string) (physic.Frequency, error) {
	s = strings.TrimSpace(s)
	if len(s) != 0 && !strings.ContainsFunc(s, unicode.IsLetter) {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil || n == 0 {
			return 0, errors.Errorf("invalid frequency %q", s)
		}
		return physic.Frequency(n) * 10 * physic.KiloHertz, nil
	}
	var f physic.Frequency
	if err := f.Set(s); err != nil {
		return 0, errors.Wrapf(err, "invalid frequency %q", s)
	}
	if f <= 0 {
		return 0, errors.Errorf("invalid frequency %q", s)
	}
	return f, nil
}

func newTable(regs map[string]word) Table {
	t := make(Table, 0, len(regs))
	for k, v := range regs {
		t = append(t, Register{Name: k, Value: uint32(v)})
	}
	sort.Slice(t, func(i, j int) bool {
		ni, nj := regNumber(t[i].Name), regNumber(t[j].Name)
		if ni != nj {
			return ni > nj
		}
		return t[i].Name < t[j].Name
	})
	return t
}

// regNumber returns the trailing number of a register name like "R112", or
// -1.
func regNumber(name string) int {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return -1
	}
	return n
}
