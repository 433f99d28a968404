// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// rgbled sets the colors of the PYNQ-Z1 RGB LEDs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/zynq-go/zynq/devices/rgbled"
	"github.com/zynq-go/zynq/host/mmio"
	"github.com/zynq-go/zynq/host/mmio/mmiotest"
)

func blink(p gpio.PinOut, n int, period time.Duration) error {
	l := gpio.Low
	for i := 0; i < 2*n; i++ {
		l = !l
		if err := p.Out(l); err != nil {
			return err
		}
		time.Sleep(period / 2)
	}
	return nil
}

func mainImpl() error {
	blinks := flag.Int("blink", 0, "blink LD4 red this many times before setting the colors")
	period := flag.Duration("period", 500*time.Millisecond, "blink period")
	halt := flag.Bool("halt", false, "turn the LED lines back into inputs on exit")
	verbose := flag.Bool("v", false, "verbose mode, logs every register access")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: rgbled [flags] <ld4 color> <ld5 color>\n\ncolors: ")
		for c := rgbled.Black; c <= rgbled.White; c++ {
			fmt.Fprintf(flag.CommandLine.Output(), "%s ", c)
		}
		fmt.Fprintf(flag.CommandLine.Output(), "\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Lmicroseconds)
	if flag.NArg() != 2 {
		return errors.New("specify the colors of LD4 and LD5, try -help")
	}
	ld4, err := rgbled.ParseColor(flag.Arg(0))
	if err != nil {
		return err
	}
	ld5, err := rgbled.ParseColor(flag.Arg(1))
	if err != nil {
		return err
	}

	w, err := mmio.Map(rgbled.Base, 8)
	if err != nil {
		return err
	}
	defer w.Close()
	var r mmio.Registers = w
	if *verbose {
		r = &mmiotest.LogWindow{Registers: w}
	}
	d, err := rgbled.NewRegisters(r)
	if err != nil {
		return err
	}
	if *halt {
		defer d.Halt()
	}
	if *blinks > 0 {
		p, err := d.Pin(rgbled.LD4, rgbled.Red)
		if err != nil {
			return err
		}
		if err := blink(p, *blinks, *period); err != nil {
			return err
		}
	}
	d.Set(ld4, ld5)
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "rgbled: %s.\n", err)
		os.Exit(1)
	}
}
