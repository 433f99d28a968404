// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mmiotest

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

func TestWindow(t *testing.T) {
	w := New(4)
	reads := 0
	w.OnRead = func(w *Window, i int) {
		reads++
		w.Regs[i]++
	}
	w.WriteUint32(2, 10)
	if v := w.ReadUint32(2); v != 11 {
		t.Fatal(v)
	}
	if v := w.Get(2); v != 11 || reads != 1 {
		t.Fatal(v, reads)
	}
	w.Set(3, 5)
	if len(w.Writes) != 1 || w.Writes[0] != (Write{2, 10}) {
		t.Fatal(w.Writes)
	}
	w.Reset()
	if len(w.Writes) != 0 {
		t.Fatal(w.Writes)
	}
	if n := w.Words(); n != 4 {
		t.Fatal(n)
	}
}

func TestLogWindow(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	flags := log.Flags()
	log.SetFlags(0)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
	}()
	w := New(2)
	l := &LogWindow{Registers: w}
	l.WriteUint32(1, 0x55)
	if v := l.ReadUint32(1); v != 0x55 {
		t.Fatal(v)
	}
	want := "*mmiotest.Window.WriteUint32(1, 0x00000055)\n*mmiotest.Window.ReadUint32(1) 0x00000055\n"
	if s := buf.String(); s != want {
		t.Fatalf("%q", s)
	}
	if !strings.HasPrefix(l.String(), "*mmiotest") {
		t.Fatal(l.String())
	}
}
