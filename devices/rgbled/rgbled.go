// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rgbled controls the two RGB LEDs LD4 and LD5 of the PYNQ-Z1 board.
//
// The LEDs are wired to the six low lines of an AXI GPIO block in the base
// overlay: LD4 on bits 0..2 and LD5 on bits 3..5, in blue, green, red order.
package rgbled

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"

	"github.com/zynq-go/zynq/host/mmio"
)

// Base is the physical address of the AXI GPIO block.
const Base = 0x41210000

const (
	regData = 0
	regTri  = 1

	// ledMask covers both LEDs in the data and tri-state registers.
	ledMask = 7<<3 | 7
)

// Color is a combination of the blue, green and red lines of one LED.
type Color uint8

// Possible colors.
const (
	Black   Color = 0
	Blue    Color = 1
	Green   Color = 2
	Cyan    Color = 3
	Red     Color = 4
	Magenta Color = 5
	Yellow  Color = 6
	White   Color = 7
)

const colorName = "BlackBlueGreenCyanRedMagentaYellowWhite"

var colorIndex = [...]uint8{0, 5, 9, 14, 18, 21, 28, 34, 39}

func (c Color) String() string {
	if c >= Color(len(colorIndex)-1) {
		return fmt.Sprintf("Color(%d)", c)
	}
	return colorName[colorIndex[c]:colorIndex[c+1]]
}

// ParseColor returns the Color named s, ignoring case.
func ParseColor(s string) (Color, error) {
	for c := Black; c <= White; c++ {
		if strings.EqualFold(c.String(), s) {
			return c, nil
		}
	}
	return 0, errors.Errorf("rgbled: unknown color %q", s)
}

// LED selects one of the RGB LEDs.
type LED uint8

// Board LEDs.
const (
	LD4 LED = 0
	LD5 LED = 1
)

func (l LED) String() string {
	switch l {
	case LD4:
		return "LD4"
	case LD5:
		return "LD5"
	default:
		return fmt.Sprintf("LED(%d)", l)
	}
}

func (l LED) shift() uint {
	return 3 * uint(l)
}

// Dev is a handle to the RGB LEDs.
//
// It is not safe for concurrent use.
type Dev struct {
	r mmio.Registers
	w *mmio.Window
}

// New maps the GPIO block at Base and configures the LED lines as outputs.
func New() (*Dev, error) {
	w, err := mmioMap(Base, 8)
	if err != nil {
		return nil, err
	}
	d, err := NewRegisters(w)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	d.w = w
	return d, nil
}

// NewRegisters configures the LED lines of the GPIO block behind r as
// outputs.
func NewRegisters(r mmio.Registers) (*Dev, error) {
	if r.Words() < 2 {
		return nil, errors.New("rgbled: register window is too small")
	}
	r.WriteUint32(regTri, ^uint32(ledMask))
	return &Dev{r: r}, nil
}

// String implements conn.Resource.
func (d *Dev) String() string {
	return "rgbled"
}

// Set sets the colors of both LEDs.
func (d *Dev) Set(ld4, ld5 Color) {
	d.r.WriteUint32(regData, uint32(ld4&7)|uint32(ld5&7)<<3)
}

// SetLD4 sets the color of LD4, leaving LD5 unchanged.
func (d *Dev) SetLD4(c Color) {
	d.SetColor(LD4, c)
}

// SetLD5 sets the color of LD5, leaving LD4 unchanged.
func (d *Dev) SetLD5(c Color) {
	d.SetColor(LD5, c)
}

// SetColor sets the color of one LED, leaving the other unchanged.
func (d *Dev) SetColor(l LED, c Color) {
	s := l.shift()
	old := d.r.ReadUint32(regData)
	d.r.WriteUint32(regData, old&^(7<<s)|uint32(c&7)<<s)
}

// Color returns the current color of one LED.
func (d *Dev) Color(l LED) Color {
	return Color(d.r.ReadUint32(regData) >> l.shift() & 7)
}

// Pin returns one line of an LED as a gpio.PinOut.
//
// c must be Blue, Green or Red.
func (d *Dev) Pin(l LED, c Color) (gpio.PinOut, error) {
	if l != LD4 && l != LD5 {
		return nil, errors.New("rgbled: invalid LED")
	}
	switch c {
	case Blue, Green, Red:
	default:
		return nil, errors.New("rgbled: pin color must be Blue, Green or Red")
	}
	return &Pin{d: d, led: l, color: c}, nil
}

// Halt implements conn.Resource.
//
// It turns the LED lines back into inputs.
func (d *Dev) Halt() error {
	d.r.WriteUint32(regTri, ^uint32(0))
	return nil
}

// Close halts the LEDs and unmaps the GPIO block when it was mapped by New.
func (d *Dev) Close() error {
	_ = d.Halt()
	if d.w == nil {
		return nil
	}
	return d.w.Close()
}

// Pin is one colored line of an LED.
type Pin struct {
	d     *Dev
	led   LED
	color Color
}

// String implements conn.Resource.
func (p *Pin) String() string {
	return p.Name()
}

// Halt implements conn.Resource.
//
// It turns the line off.
func (p *Pin) Halt() error {
	return p.Out(gpio.Low)
}

// Name implements pin.Pin.
func (p *Pin) Name() string {
	return p.led.String() + "_" + p.color.String()
}

// Number implements pin.Pin.
func (p *Pin) Number() int {
	return int(p.led.shift()) + bitOf(p.color)
}

// Function implements pin.Pin.
func (p *Pin) Function() string {
	return string(p.Func())
}

// Func implements pin.PinFunc.
func (p *Pin) Func() pin.Func {
	if p.Read() {
		return gpio.OUT_HIGH
	}
	return gpio.OUT_LOW
}

// SupportedFuncs implements pin.PinFunc.
func (p *Pin) SupportedFuncs() []pin.Func {
	return []pin.Func{gpio.OUT}
}

// SetFunc implements pin.PinFunc.
func (p *Pin) SetFunc(f pin.Func) error {
	return errors.New("rgbled: not supported")
}

// Read returns the current level of the line.
func (p *Pin) Read() gpio.Level {
	return gpio.Level(p.d.Color(p.led)&p.color != 0)
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	c := p.d.Color(p.led)
	if l {
		c |= p.color
	} else {
		c &^= p.color
	}
	p.d.SetColor(p.led, c)
	return nil
}

// PWM implements gpio.PinOut.
//
// Only 0 and gpio.DutyMax are supported.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	switch duty {
	case 0:
		return p.Out(gpio.Low)
	case gpio.DutyMax:
		return p.Out(gpio.High)
	default:
		return errors.New("rgbled: PWM is not supported")
	}
}

//

var mmioMap = mmio.Map

func bitOf(c Color) int {
	switch c {
	case Green:
		return 1
	case Red:
		return 2
	default:
		return 0
	}
}

var _ gpio.PinOut = &Pin{}
