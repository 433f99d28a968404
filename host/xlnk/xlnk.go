// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xlnk allocates physically contiguous memory through the Xilinx
// /dev/xlnk pseudo device.
//
// Session is a thin wrapper around the device. Buffer owns one allocation
// and its mapping and implements dma.Mem.
//
// Using the device requires root access.
package xlnk

import (
	"math"
	"os"
	"strconv"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/zynq-go/zynq/conn/fault"
	"github.com/zynq-go/zynq/host/fs"
)

// ioctl requests, from drivers/staging/apf/xlnk.h.
const (
	iocAllocBuf = 0xc0045802
	iocFreeBuf  = 0xc0045803
)

// mapShift converts an allocation id into the mmap offset understood by the
// driver as "map allocation id".
const mapShift = 24

type allocBufArg struct {
	len       uint32
	id        int32
	phyaddr   uint32
	cacheable uint8
	_         [3]uint8
}

type freeBufArg struct {
	id  uint32
	buf uint32
}

// Session is an open handle to /dev/xlnk.
//
// It is not safe for concurrent use.
type Session struct {
	noCopy noCopy
	f      device
}

// Open opens a session to the kernel buffer allocator.
func Open() (*Session, error) {
	f, err := openFile(devXlnk, os.O_RDWR)
	if err != nil {
		return nil, fault.New(fault.Map, "xlnk.Open", devXlnk, err)
	}
	return &Session{f: f}, nil
}

// Alloc allocates length bytes of physically contiguous memory.
//
// cacheable enables CPU caching for the mappings of the block. It returns the
// block id and its physical address.
func (s *Session) Alloc(length int, cacheable bool) (id, phys uint32, err error) {
	const op = "xlnk.Alloc"
	if s.f == nil {
		return 0, 0, errClosed(op)
	}
	if length <= 0 || int64(length) > math.MaxUint32 {
		return 0, 0, fault.New(fault.Usage, op, devXlnk, errors.Errorf("invalid length %d", length))
	}
	arg := &allocBufArg{len: uint32(length), id: -1}
	if cacheable {
		arg.cacheable = 1
	}
	if err := s.f.IoctlPtr(iocAllocBuf, unsafe.Pointer(arg)); err != nil {
		return 0, 0, fault.New(fault.Allocation, op, devXlnk, errors.Wrapf(err, "%d bytes", length))
	}
	if arg.id < 0 {
		return 0, 0, fault.New(fault.Allocation, op, devXlnk, errors.Errorf("driver returned id %d", arg.id))
	}
	return uint32(arg.id), arg.phyaddr, nil
}

// Free releases the block id.
func (s *Session) Free(id uint32) error {
	const op = "xlnk.Free"
	if s.f == nil {
		return errClosed(op)
	}
	arg := &freeBufArg{id: id}
	if err := s.f.IoctlPtr(iocFreeBuf, unsafe.Pointer(arg)); err != nil {
		return fault.New(fault.Allocation, op, "block "+strconv.FormatUint(uint64(id), 10), err)
	}
	return nil
}

// MapBuffer maps length bytes of block id in the process.
//
// The pages are locked in memory. The mapping survives Close and must be
// released with Unmap.
func (s *Session) MapBuffer(id uint32, length int) ([]byte, error) {
	const op = "xlnk.MapBuffer"
	if s.f == nil {
		return nil, errClosed(op)
	}
	b, err := s.f.Mmap(int64(id)<<mapShift, length, true)
	if err != nil {
		return nil, fault.New(fault.Map, op, "block "+strconv.FormatUint(uint64(id), 10), err)
	}
	return b, nil
}

// Close closes the session. Mappings returned by MapBuffer stay valid.
func (s *Session) Close() error {
	if s.f == nil {
		return errClosed("xlnk.Close")
	}
	f := s.f
	s.f = nil
	if err := f.Close(); err != nil {
		return fault.New(fault.Map, "xlnk.Close", devXlnk, err)
	}
	return nil
}

// Unmap releases a mapping returned by MapBuffer.
func Unmap(b []byte) error {
	if err := munmap(b); err != nil {
		return fault.New(fault.Map, "xlnk.Unmap", "", err)
	}
	return nil
}

//

// device is the subset of *fs.File used by a Session.
type device interface {
	IoctlPtr(op uint, arg unsafe.Pointer) error
	Mmap(offset int64, length int, locked bool) ([]byte, error)
	Close() error
}

var (
	devXlnk  = "/dev/xlnk"
	openFile = func(path string, flag int) (device, error) {
		f, err := fs.Open(path, flag)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	munmap = fs.Munmap
)

func errClosed(op string) error {
	return fault.New(fault.Usage, op, devXlnk, errors.New("session is closed"))
}

// noCopy may be embedded into structs which must not be copied after the
// first use. See go vet -copylocks.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
