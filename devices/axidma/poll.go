// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package axidma

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/zynq-go/zynq/conn/dma"
	"github.com/zynq-go/zynq/conn/fault"
)

// Wait polls the channel until it is idle or ctx is done.
//
// period is the delay between each poll. 0 means a busy loop. It returns a
// fault.Timeout error wrapping ctx.Err() when ctx ends first. Wait doesn't
// finish the transfer; call Finish afterward.
func (d *Dev) Wait(ctx context.Context, c dma.Channel, period time.Duration) error {
	if _, err := d.channel("axidma.Wait", c); err != nil {
		return err
	}
	done := ctx.Done()
	if period <= 0 {
		for !d.Done(c) {
			select {
			case <-done:
				return errTimeout(ctx, c)
			default:
			}
		}
		return nil
	}
	if d.Done(c) {
		return nil
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if d.Done(c) {
				return nil
			}
		case <-done:
			return errTimeout(ctx, c)
		}
	}
}

// Reset aborts the transfers of both channels and starts the engine again.
//
// It sets the soft reset bit, which resets the whole engine, then polls until
// the hardware clears it or ctx is done. On success both channels release
// their buffer: the engine no longer accesses them and they can be closed.
// On failure the buffers stay owned by the engine and must be leaked.
func (d *Dev) Reset(ctx context.Context) error {
	const op = "axidma.Reset"
	if !d.started {
		return fault.New(fault.Usage, op, "", errors.New("engine not started"))
	}
	d.r.WriteUint32(regControl, controlReset)
	done := ctx.Done()
	for d.resetting() {
		select {
		case <-done:
			return fault.New(fault.Timeout, op, "", errors.Wrap(ctx.Err(), "engine still in reset"))
		default:
		}
	}
	for i := range d.ch {
		d.ch[i].buf = nil
	}
	d.started = false
	return d.start()
}

func (d *Dev) resetting() bool {
	return d.r.ReadUint32(regControl)&controlReset != 0 || d.r.ReadUint32(channelStride+regControl)&controlReset != 0
}

func errTimeout(ctx context.Context, c dma.Channel) error {
	return fault.New(fault.Timeout, "axidma.Wait", c.String(), errors.Wrap(ctx.Err(), "transfer still running"))
}
