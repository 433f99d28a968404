// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xrfclk

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

const config = `{
	"lmk04208": {
		"12288": {"R0": "0x00160040", "R1": "0x00140041", "R16": "0x0100001F"}
	},
	"lmx2594": {
		"102.04MHz": {"R0": 9248, "R112": "0x700000", "R2": "0x020500"}
	}
}`

func TestChip(t *testing.T) {
	for c := LMX2594; c <= LMK04208; c++ {
		got, err := ParseChip(c.String())
		if err != nil || got != c {
			t.Fatal(c, got, err)
		}
	}
	if s := Chip(3).String(); s != "Chip(3)" {
		t.Fatal(s)
	}
	if _, err := ParseChip("lmk04828"); err == nil {
		t.Fatal("expected error")
	}
	if LMX2594.IsLMK() || !LMK04832.IsLMK() {
		t.Fatal("IsLMK")
	}
}

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig(strings.NewReader(config))
	if err != nil {
		t.Fatal(err)
	}
	f := 12288 * 10 * physic.KiloHertz
	tbl, err := c.Table(LMK04208, f)
	if err != nil {
		t.Fatal(err)
	}
	want := Table{{"R16", 0x0100001F}, {"R1", 0x00140041}, {"R0", 0x00160040}}
	if !reflect.DeepEqual(tbl, want) {
		t.Fatal(tbl)
	}
	if w := tbl.Words(); !reflect.DeepEqual(w, []uint32{0x0100001F, 0x00140041, 0x00160040}) {
		t.Fatal(w)
	}
	if _, err := c.Table(LMK04208, physic.MegaHertz); !errors.Is(err, ErrUnknownFrequency) {
		t.Fatal(err)
	}
	if _, err := c.Table(LMK04832, f); !errors.Is(err, ErrUnknownFrequency) {
		t.Fatal(err)
	}
	if fs := c.Frequencies(LMX2594); len(fs) != 1 || fs[0] != 10204*10*physic.KiloHertz {
		t.Fatal(fs)
	}
}

func TestLoadConfig_err(t *testing.T) {
	data := []string{
		`[`,
		`{"lmk04828": {}}`,
		`{"lmx2594": {"fast": {}}}`,
		`{"lmx2594": {"-1": {}}}`,
		`{"lmx2594": {"10000": {"R0": "zz"}}}`,
		`{"lmx2594": {"10000": {"R0": true}}}`,
		`{"lmx2594": {"10000": {}, "100MHz": {}}}`,
		`{"lmx2594": {"12288": {}, "122.88MHz": {}}}`,
		`{"lmx2594": {"122.88": {}}}`,
		`{"lmx2594": {"0": {}}}`,
	}
	for i, line := range data {
		if _, err := LoadConfig(strings.NewReader(line)); err == nil {
			t.Fatalf("#%d: expected error", i)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "clocks.json")
	if err := os.WriteFile(p, []byte(config), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfigFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(c) != 2 {
		t.Fatal(c)
	}
	if _, err := LoadConfigFile(p + ".missing"); !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
}

func TestRegNumber(t *testing.T) {
	data := []struct {
		name string
		want int
	}{
		{"R0", 0},
		{"R112", 112},
		{"reg", -1},
		{"", -1},
	}
	for _, line := range data {
		if n := regNumber(line.name); n != line.want {
			t.Fatalf("%q: %d != %d", line.name, n, line.want)
		}
	}
}

func TestFindDevices(t *testing.T) {
	defer reset()
	root := fakeSysfs(t)
	devs, err := FindDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 3 {
		t.Fatal(devs)
	}
	want := []Dev{
		{Chip: LMK04208, Name: "spi1.0", Bytes: 4, bus: 1, cs: 0},
		{Chip: LMK04832, Name: "spi1.1", Bytes: 3, bus: 1, cs: 1},
		{Chip: LMX2594, Name: "spi1.2", Bytes: 3, bus: 1, cs: 2},
	}
	for i := range want {
		if *devs[i] != want[i] {
			t.Fatalf("#%d: %#v", i, devs[i])
		}
	}
	if s := devs[2].String(); s != "lmx2594(spi1.2)" {
		t.Fatal(s)
	}
	for _, name := range []string{"spi1.0", "spi1.1", "spi1.2"} {
		b, err := os.ReadFile(filepath.Join(root, "devices", name, "driver_override"))
		if err != nil || string(b) != "spidev" {
			t.Fatal(name, string(b), err)
		}
	}
	// spi1.2 was bound to another driver.
	if b, _ := os.ReadFile(filepath.Join(root, "devices", "spi1.2", "driver", "unbind")); string(b) != "spi1.2" {
		t.Fatal(string(b))
	}
	// Each write to bind is a new open, the last one wins.
	if b, _ := os.ReadFile(filepath.Join(root, "drivers", "spidev", "bind")); string(b) != "spi1.2" {
		t.Fatal(string(b))
	}
}

func TestFindDevices_missing(t *testing.T) {
	defer reset()
	spiBus = filepath.Join(t.TempDir(), "missing")
	if _, err := FindDevices(); err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteRegisters_LMX(t *testing.T) {
	defer reset()
	p := &spitest.Playback{
		Playback: conntest.Playback{
			Ops: []conntest.IO{
				{W: []byte{0x02, 0x00, 0x00}},
				{W: []byte{0x00, 0x00, 0x00}},
				{W: []byte{0x70, 0x00, 0x00}},
				{W: []byte{0x02, 0x05, 0x00}},
				{W: []byte{0x00, 0x24, 0x20}},
				{W: []byte{0x00, 0x00, 0x70}},
			},
			DontPanic: true,
		},
	}
	fakeSPI(t, map[int]spi.PortCloser{2: p})
	c, err := LoadConfig(strings.NewReader(config))
	if err != nil {
		t.Fatal(err)
	}
	d := &Dev{Chip: LMX2594, Name: "spi1.2", Bytes: 3, bus: 1, cs: 2}
	if err := d.SetFrequency(c, 10204*10*physic.KiloHertz); err != nil {
		t.Fatal(err)
	}
	if err := d.SetFrequency(c, physic.MegaHertz); !errors.Is(err, ErrUnknownFrequency) {
		t.Fatal(err)
	}
}

func TestWriteRegisters_LMK(t *testing.T) {
	defer reset()
	p3 := &spitest.Playback{
		Playback: conntest.Playback{
			Ops:       []conntest.IO{{W: []byte{0x01, 0x02, 0x03}}},
			DontPanic: true,
		},
	}
	p4 := &spitest.Playback{
		Playback: conntest.Playback{
			Ops:       []conntest.IO{{W: []byte{0x00, 0x01, 0x02, 0x03}}},
			DontPanic: true,
		},
	}
	fakeSPI(t, map[int]spi.PortCloser{0: p3, 1: p4})
	d3 := &Dev{Chip: LMK04832, Name: "spi1.0", Bytes: 3, bus: 1, cs: 0}
	if err := d3.WriteRegisters([]uint32{0x010203}); err != nil {
		t.Fatal(err)
	}
	d4 := &Dev{Chip: LMK04208, Name: "spi1.1", Bytes: 4, bus: 1, cs: 1}
	if err := d4.WriteRegisters([]uint32{0x010203}); err != nil {
		t.Fatal(err)
	}
}

func TestWriteRegisters_mismatch(t *testing.T) {
	defer reset()
	p := &spitest.Playback{
		Playback: conntest.Playback{
			Ops:       []conntest.IO{{W: []byte{0x01, 0x02, 0x03}}},
			DontPanic: true,
		},
	}
	fakeSPI(t, map[int]spi.PortCloser{0: p})
	d := &Dev{Chip: LMK04832, Name: "spi1.0", Bytes: 3, bus: 1, cs: 0}
	if err := d.WriteRegisters([]uint32{0x010204}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteRegisters_openErr(t *testing.T) {
	defer reset()
	openSPI = func(bus, cs int) (spi.PortCloser, error) {
		return nil, os.ErrNotExist
	}
	d := &Dev{Chip: LMK04832, Name: "spi1.0", Bytes: 3, bus: 1, cs: 0}
	if err := d.WriteRegisters([]uint32{1}); !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
}

func TestSetRefClocks(t *testing.T) {
	defer reset()
	fakeSysfs(t)
	c, err := LoadConfig(strings.NewReader(`{
		"lmk04208": {"12288": {"R0": "0x00160040"}},
		"lmk04832": {"12288": {"R0": "0x000090"}},
		"lmx2594": {"10204": {"R0": "0x002420"}}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	ports := map[int]spi.PortCloser{
		0: &spitest.Playback{Playback: conntest.Playback{
			Ops:       []conntest.IO{{W: []byte{0x00, 0x16, 0x00, 0x40}}},
			DontPanic: true,
		}},
		1: &spitest.Playback{Playback: conntest.Playback{
			Ops:       []conntest.IO{{W: []byte{0x00, 0x00, 0x90}}},
			DontPanic: true,
		}},
		2: &spitest.Playback{Playback: conntest.Playback{
			Ops: []conntest.IO{
				{W: []byte{0x02, 0x00, 0x00}},
				{W: []byte{0x00, 0x00, 0x00}},
				{W: []byte{0x00, 0x24, 0x20}},
				{W: []byte{0x00, 0x00, 0x70}},
			},
			DontPanic: true,
		}},
	}
	fakeSPI(t, ports)
	if err := SetRefClocks(c, 12288*10*physic.KiloHertz, 10204*10*physic.KiloHertz); err != nil {
		t.Fatal(err)
	}
	for cs, p := range ports {
		if !p.(*spitest.Playback).Initialized {
			t.Fatalf("spi1.%d was not programmed", cs)
		}
	}
	// A frequency missing for one chip fails the whole run.
	fakeSPI(t, map[int]spi.PortCloser{})
	if err := SetRefClocks(c, physic.MegaHertz, physic.MegaHertz); !errors.Is(err, ErrUnknownFrequency) {
		t.Fatal(err)
	}
}

func TestProgram_LMKFirst(t *testing.T) {
	defer reset()
	c, err := LoadConfig(strings.NewReader(`{
		"lmk04832": {"12288": {"R0": "0x000090"}},
		"lmx2594": {"10204": {"R0": "0x002420"}}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var events []string
	logEvent := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, s)
	}
	lmk := &orderedPort{
		PortCloser: &spitest.Playback{Playback: conntest.Playback{
			Ops:       []conntest.IO{{W: []byte{0x00, 0x00, 0x90}}},
			DontPanic: true,
		}},
		name:  "lmk",
		delay: 50 * time.Millisecond,
		log:   logEvent,
	}
	lmx := &orderedPort{
		PortCloser: &spitest.Playback{Playback: conntest.Playback{
			Ops: []conntest.IO{
				{W: []byte{0x02, 0x00, 0x00}},
				{W: []byte{0x00, 0x00, 0x00}},
				{W: []byte{0x00, 0x24, 0x20}},
				{W: []byte{0x00, 0x00, 0x70}},
			},
			DontPanic: true,
		}},
		name: "lmx",
		log:  logEvent,
	}
	fakeSPI(t, map[int]spi.PortCloser{0: lmk, 1: lmx})
	devs := []*Dev{
		{Chip: LMX2594, Name: "spi1.1", Bytes: 3, bus: 1, cs: 1},
		{Chip: LMK04832, Name: "spi1.0", Bytes: 3, bus: 1, cs: 0},
	}
	if err := Program(devs, c, 12288*10*physic.KiloHertz, 10204*10*physic.KiloHertz); err != nil {
		t.Fatal(err)
	}
	want := []string{"connect lmk", "close lmk", "connect lmx", "close lmx"}
	if !reflect.DeepEqual(events, want) {
		t.Fatal(events)
	}
}

func TestProgram_LMKFails(t *testing.T) {
	defer reset()
	c, err := LoadConfig(strings.NewReader(`{"lmx2594": {"10204": {"R0": "0x002420"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	opened := 0
	openSPI = func(bus, cs int) (spi.PortCloser, error) {
		opened++
		return nil, os.ErrNotExist
	}
	devs := []*Dev{
		{Chip: LMK04832, Name: "spi1.0", Bytes: 3, bus: 1, cs: 0},
		{Chip: LMX2594, Name: "spi1.1", Bytes: 3, bus: 1, cs: 1},
	}
	if err := Program(devs, c, 12288*10*physic.KiloHertz, 10204*10*physic.KiloHertz); !errors.Is(err, ErrUnknownFrequency) {
		t.Fatal(err)
	}
	if opened != 0 {
		t.Fatal("the LMX chips must not be programmed after an LMK failure")
	}
}

//

// orderedPort logs when a chip starts and ends being programmed.
type orderedPort struct {
	spi.PortCloser
	name  string
	delay time.Duration
	log   func(string)
}

func (o *orderedPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	time.Sleep(o.delay)
	o.log("connect " + o.name)
	return o.PortCloser.Connect(f, mode, bits)
}

func (o *orderedPort) Close() error {
	o.log("close " + o.name)
	return o.PortCloser.Close()
}

// fakeSysfs creates a SPI bus with three clock chips and an unrelated
// device.
func fakeSysfs(t *testing.T) string {
	root := t.TempDir()
	spiBus = root
	mkfile := func(path string, data []byte) {
		p := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, data, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	mkfile("drivers/spidev/bind", nil)
	mkfile("devices/spi1.0/of_node/compatible", []byte("ti,lmk04208\x00"))
	mkfile("devices/spi1.0/of_node/num_bytes", []byte{0, 0, 0, 4})
	mkfile("devices/spi1.0/driver_override", nil)
	mkfile("devices/spi1.1/of_node/compatible", []byte("ti,lmk04832\x00"))
	mkfile("devices/spi1.1/of_node/num_bytes", []byte{0, 0, 0, 3})
	mkfile("devices/spi1.1/driver_override", nil)
	mkfile("devices/spi1.2/of_node/compatible", []byte("ti,lmx2594\x00"))
	mkfile("devices/spi1.2/driver_override", nil)
	mkfile("devices/spi1.2/driver/unbind", nil)
	mkfile("devices/spi0.0/of_node/compatible", []byte("jedec,spi-nor\x00"))
	mkfile("devices/spi0.1/modalias", []byte("spi:spidev"))
	return root
}

func fakeSPI(t *testing.T, ports map[int]spi.PortCloser) {
	var mu sync.Mutex
	openSPI = func(bus, cs int) (spi.PortCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		if bus != 1 {
			t.Errorf("unexpected bus %d", bus)
		}
		p, ok := ports[cs]
		if !ok {
			return nil, os.ErrNotExist
		}
		return p, nil
	}
}

func reset() {
	spiBus = "/sys/bus/spi"
	openSPI = origOpenSPI
}

var origOpenSPI = openSPI
