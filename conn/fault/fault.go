// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fault defines the error kinds reported by the hardware access
// layer.
//
// Every failure detected by host/mmio, host/xlnk and devices/axidma is
// returned as a *Error carrying one Kind. Conditions of kind Alignment, Map
// and Allocation denote a broken OS or hardware environment; Usage denotes a
// caller bug. None of them leave the device in a state where blindly
// continuing is safe, so applications that don't want to handle them should
// call Must, which panics, or exit the process like the commands in cmd/ do.
package fault

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a failure.
type Kind int

// Known kinds.
const (
	// Alignment means a physical address is not a multiple of the page size.
	Alignment Kind = iota + 1
	// Map means opening or memory mapping a device failed.
	Map
	// Allocation means the kernel buffer allocator refused a request.
	Allocation
	// Usage means an API precondition was violated.
	Usage
	// Timeout means a hardware poll exceeded its budget.
	Timeout
	// Bounds means a checked register access was out of the mapped window.
	Bounds
)

const kindName = "unknownalignmentmapallocationusagetimeoutbounds"

var kindIndex = [...]uint8{0, 7, 16, 19, 29, 34, 41, 47}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindIndex)-1 {
		k = 0
	}
	return kindName[kindIndex[k]:kindIndex[k+1]]
}

// Error implements error so a Kind can be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Error is the error returned by the hardware access packages.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "mmio.Map".
	Op string
	// Resource identifies the device, address or channel involved.
	Resource string
	// Err is the underlying cause, if any.
	Err error
}

// New returns a *Error.
func New(k Kind, op, resource string, err error) *Error {
	return &Error{Kind: k, Op: op, Resource: resource, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Resource != "" {
		b.WriteString(" ")
		b.WriteString(e.Resource)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Must panics with err if it is not nil.
//
// It restores the halt-on-failure contract for callers that have no use for
// a recoverable error.
func Must(err error) {
	if err != nil {
		panic(err)
	}
}
