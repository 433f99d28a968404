// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// configure-clocks programs the LMK and LMX reference clock chips of an
// RFSoC board from a JSON register config.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"periph.io/x/conn/v3/physic"

	"github.com/zynq-go/zynq/devices/xrfclk"
)

func mainImpl() error {
	config := flag.String("config", "", "JSON register config")
	lmk := 122880 * physic.KiloHertz
	flag.Var(&lmk, "lmk", "LMK output frequency")
	lmx := 102040 * physic.KiloHertz
	flag.Var(&lmx, "lmx", "LMX output frequency")
	list := flag.Bool("list", false, "list the chips and known frequencies, without programming")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Lmicroseconds)
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}
	if *config == "" {
		return errors.New("-config is required")
	}

	cfg, err := xrfclk.LoadConfigFile(*config)
	if err != nil {
		return err
	}
	devs, err := xrfclk.FindDevices()
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		return errors.New("no clock chip found")
	}
	for _, d := range devs {
		log.Printf("found %s, %d bytes per write", d, d.Bytes)
		if *list {
			fmt.Printf("%s: %v\n", d, cfg.Frequencies(d.Chip))
		}
	}
	if *list {
		return nil
	}
	log.Printf("programming LMK at %s, LMX at %s", lmk, lmx)
	if err := xrfclk.Program(devs, cfg, lmk, lmx); err != nil {
		return err
	}
	fmt.Printf("configured %d clock chips\n", len(devs))
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "configure-clocks: %s.\n", err)
		os.Exit(1)
	}
}
