// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package fs

import (
	"unsafe"

	"github.com/pkg/errors"
)

const isLinux = false

func ioctlPtr(f uintptr, op uint, arg unsafe.Pointer) error {
	return errors.New("fs: ioctl not supported on non-linux")
}

func mmap(f uintptr, offset int64, length int, locked bool) ([]byte, error) {
	return nil, errors.New("fs: mmap not supported on non-linux")
}

func munmap(b []byte) error {
	return errors.New("fs: munmap not supported on non-linux")
}
