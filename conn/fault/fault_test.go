// Copyright 2024 The Zynq-Go Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind_String(t *testing.T) {
	data := []struct {
		k    Kind
		want string
	}{
		{0, "unknown"},
		{Alignment, "alignment"},
		{Map, "map"},
		{Allocation, "allocation"},
		{Usage, "usage"},
		{Timeout, "timeout"},
		{Bounds, "bounds"},
		{Kind(42), "unknown"},
		{Kind(-1), "unknown"},
	}
	for i, line := range data {
		if s := line.k.String(); s != line.want {
			t.Fatalf("#%d: %q != %q", i, s, line.want)
		}
	}
}

func TestError(t *testing.T) {
	cause := errors.New("permission denied")
	err := New(Map, "mmio.Map", "/dev/mem", cause)
	if s := err.Error(); s != "mmio.Map /dev/mem: map: permission denied" {
		t.Fatal(s)
	}
	if !errors.Is(err, Map) {
		t.Fatal("expected Map kind")
	}
	if errors.Is(err, Usage) {
		t.Fatal("unexpected Usage kind")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	wrapped := fmt.Errorf("setup: %w", err)
	if k := KindOf(wrapped); k != Map {
		t.Fatal(k)
	}
	if k := KindOf(cause); k != 0 {
		t.Fatal(k)
	}
}

func TestError_NoResource(t *testing.T) {
	err := New(Usage, "axidma.FinishSend", "", nil)
	if s := err.Error(); s != "axidma.FinishSend: usage" {
		t.Fatal(s)
	}
}

func TestMust(t *testing.T) {
	Must(nil)
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, Allocation) {
			t.Fatalf("unexpected panic %v", r)
		}
	}()
	Must(New(Allocation, "xlnk.Alloc", "/dev/xlnk", nil))
	t.Fatal("expected panic")
}
