// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fs

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const isLinux = true

func ioctlPtr(f uintptr, op uint, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f, uintptr(op), uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

func mmap(f uintptr, offset int64, length int, locked bool) ([]byte, error) {
	flags := unix.MAP_SHARED
	if locked {
		flags |= unix.MAP_LOCKED
	}
	return unix.Mmap(int(f), offset, length, unix.PROT_READ|unix.PROT_WRITE, flags)
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}
