// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// flash-bitstream loads a full bitstream into the programmable logic.
//
// The fabric clocks are either given as frequencies with -fclk or taken from
// an overlay config with -overlay, in which case the IP blocks of the overlay
// are mapped and listed once the bitstream is loaded.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"periph.io/x/conn/v3/physic"

	"github.com/zynq-go/zynq/conn/ipreg"
	"github.com/zynq-go/zynq/host/bitstream"
	"github.com/zynq-go/zynq/host/overlay"
)

// frequencies implements flag.Value for a comma separated list of
// frequencies.
type frequencies []physic.Frequency

func (f *frequencies) String() string {
	s := make([]string, len(*f))
	for i, v := range *f {
		s[i] = v.String()
	}
	return strings.Join(s, ",")
}

func (f *frequencies) Set(s string) error {
	var out frequencies
	for _, p := range strings.Split(s, ",") {
		var v physic.Frequency
		if err := v.Set(p); err != nil {
			return err
		}
		out = append(out, v)
	}
	*f = out
	return nil
}

func clocksFor(src physic.Frequency, freqs []physic.Frequency) ([]bitstream.Clock, error) {
	clocks := make([]bitstream.Clock, len(freqs))
	for i, f := range freqs {
		c, err := bitstream.Divisors(src, f)
		if err != nil {
			return nil, err
		}
		log.Printf("FCLK%d: %s -> %s (%s)", i, f, c.Frequency(src), c)
		clocks[i] = c
	}
	return clocks, nil
}

func flashOverlay(path string, clocks []bitstream.Clock) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	o, err := overlay.ReadConfig(f)
	f.Close()
	if err != nil {
		return err
	}
	n, err := o.Download(clocks)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d bytes\n", o.Bitstream, n)
	if err := o.Map(); err != nil {
		return err
	}
	defer o.Close()
	for _, name := range ipreg.Names() {
		b := ipreg.ByName(name)
		fmt.Printf("  %-20s %s\n", name, b)
	}
	return nil
}

func mainImpl() error {
	fclk := frequencies{100 * physic.MegaHertz}
	flag.Var(&fclk, "fclk", "comma separated FCLK0..FCLK3 frequencies")
	src := bitstream.IOPLL
	flag.Var(&src, "src", "FCLK source PLL frequency")
	ovl := flag.String("overlay", "", "overlay JSON config; its clocks are used unless -fclk is set")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	fclkSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "fclk" {
			fclkSet = true
		}
	})
	var clocks []bitstream.Clock
	if *ovl == "" || fclkSet {
		var err error
		if clocks, err = clocksFor(src, fclk); err != nil {
			return err
		}
	}

	if *ovl != "" {
		if flag.NArg() != 0 {
			return errors.New("-overlay and a bitstream path are mutually exclusive")
		}
		return flashOverlay(*ovl, clocks)
	}
	if flag.NArg() != 1 {
		return errors.New("specify the bitstream to load, try -help")
	}
	n, err := bitstream.LoadFile(flag.Arg(0), clocks)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d bytes\n", flag.Arg(0), n)
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "flash-bitstream: %s.\n", err)
		os.Exit(1)
	}
}
