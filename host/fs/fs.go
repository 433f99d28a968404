// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fs provides access to the device files used by the host drivers.
//
// It exposes the few system calls the drivers need (ioctl and mmap) on top of
// os.File so that the drivers never touch raw file descriptors.
package fs

import (
	"os"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

// Inhibit inhibits any future file I/O. It panics if any file was already
// opened.
//
// It is useful in unit tests to make sure no real device is touched.
func Inhibit() {
	mu.Lock()
	defer mu.Unlock()
	inhibited = true
	if used {
		panic("calling Inhibit() while files were already opened")
	}
}

// File is a device file.
type File struct {
	*os.File
}

// Open opens a file.
//
// Returns an error if Inhibit() was called.
func Open(path string, flag int) (*File, error) {
	mu.Lock()
	if inhibited {
		mu.Unlock()
		return nil, errors.New("fs: file I/O is inhibited")
	}
	used = true
	mu.Unlock()

	f, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return nil, err
	}
	return &File{f}, nil
}

// IoctlPtr sends an ioctl whose argument is a pointer to a request
// structure. The kernel may write back into the structure.
func (f *File) IoctlPtr(op uint, arg unsafe.Pointer) error {
	return ioctlPtr(f.Fd(), op, arg)
}

// Mmap maps length bytes of the file at offset with read/write access,
// shared with other mappings of the same file.
//
// When locked is true, the pages are locked in memory.
//
// The mapping stays valid after the file is closed.
func (f *File) Mmap(offset int64, length int, locked bool) ([]byte, error) {
	return mmap(f.Fd(), offset, length, locked)
}

// Munmap releases a mapping returned by File.Mmap.
func Munmap(b []byte) error {
	return munmap(b)
}

// PageSize returns the system page size.
func PageSize() int {
	return os.Getpagesize()
}

// IsLinux returns true when the real system calls are available.
func IsLinux() bool {
	return isLinux
}

//

var (
	mu        sync.Mutex
	inhibited bool
	used      bool
)
