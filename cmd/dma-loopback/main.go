// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// dma-loopback sends a buffer through an AXI DMA engine whose stream
// interfaces are looped back in the programmable logic, and verifies the
// received copy.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/zynq-go/zynq/conn/dma"
	"github.com/zynq-go/zynq/devices/axidma"
	"github.com/zynq-go/zynq/host/mmio"
	"github.com/zynq-go/zynq/host/mmio/mmiotest"
	"github.com/zynq-go/zynq/host/xlnk"
)

func loopback(d *axidma.Dev, size int, cacheable bool, timeout, period time.Duration) error {
	alloc := xlnk.Allocate
	if cacheable {
		alloc = xlnk.AllocateCacheable
	}
	tx, err := alloc(size)
	if err != nil {
		return err
	}
	rx, err := alloc(size)
	if err != nil {
		_ = tx.Close()
		return err
	}
	// Buffers still owned by the engine are only freed after a reset.
	inFlight := false
	defer func() {
		if inFlight {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := d.Reset(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "dma-loopback: leaking %s and %s: %s.\n", tx, rx, err)
				return
			}
		}
		_ = rx.Close()
		_ = tx.Close()
	}()
	log.Printf("tx %s", tx)
	log.Printf("rx %s", rx)

	for i := range tx.Buf() {
		tx.Buf()[i] = byte(i * 7)
	}
	for i := range rx.Buf() {
		rx.Buf()[i] = 0
	}

	start := time.Now()
	if err := d.StartReceive(rx); err != nil {
		return err
	}
	inFlight = true
	if err := d.StartSend(tx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, c := range []dma.Channel{dma.Send, dma.Receive} {
		if err := d.Wait(ctx, c, period); err != nil {
			return err
		}
		if _, err := d.Finish(c); err != nil {
			return err
		}
		log.Printf("%s done after %s", c, time.Since(start))
	}
	inFlight = false
	if !bytes.Equal(tx.Buf(), rx.Buf()) {
		return errors.New("received data differs from sent data")
	}
	fmt.Printf("%d bytes looped back in %s\n", size, time.Since(start))
	return nil
}

func mainImpl() (err error) {
	base := flag.String("base", strconv.FormatUint(axidma.DefaultBase, 16), "physical address of the engine registers, in hex")
	size := flag.Int("size", 4096, "buffer size in bytes")
	cacheable := flag.Bool("cacheable", false, "allocate cacheable buffers")
	startTimeout := flag.Duration("start-timeout", time.Second, "maximum time for the engine to leave the halted state, 0 to wait forever")
	timeout := flag.Duration("timeout", time.Second, "maximum time for the transfer")
	period := flag.Duration("period", 0, "polling period, 0 to busy poll")
	verbose := flag.Bool("v", false, "verbose mode, logs every register access")
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Lmicroseconds)
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}
	b, err := strconv.ParseUint(*base, 16, 32)
	if err != nil {
		return fmt.Errorf("invalid -base: %v", err)
	}

	w, err := mmio.Map(uint32(b), axidma.WindowSize)
	if err != nil {
		return err
	}
	defer w.Close()
	var r mmio.Registers = w
	if *verbose {
		r = &mmiotest.LogWindow{Registers: w}
	}
	d, err := axidma.New(r, &axidma.Opts{StartTimeout: *startTimeout})
	if err != nil {
		return err
	}
	defer func() {
		if err2 := d.Close(); err == nil {
			err = err2
		}
	}()
	return loopback(d, *size, *cacheable, *timeout, *period)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "dma-loopback: %s.\n", err)
		os.Exit(1)
	}
}
