// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber_test

import (
	"testing"

	"code.hybscloud.com/conc64"
	"code.hybscloud.com/conc64/fiber"
)

func TestCoroutineResumeSuspendRoundTrip(t *testing.T) {
	var seen []int
	cr, first := fiber.Spawn(func(cr *fiber.Coroutine, arg interface{}) interface{} {
		seen = append(seen, arg.(int))
		v := cr.Suspend(1)
		seen = append(seen, v.(int))
		v = cr.Suspend(2)
		seen = append(seen, v.(int))
		return 99
	}, 0)
	if first.(int) != 1 {
		t.Fatalf("Spawn's first result = %v, want 1", first)
	}

	v, ok := cr.Resume(10)
	if !ok || v.(int) != 2 {
		t.Fatalf("first resume = %v, %v; want 2, true", v, ok)
	}
	v, ok = cr.Resume(20)
	if !ok || v.(int) != 99 {
		t.Fatalf("second resume = %v, %v; want 99, true", v, ok)
	}
	if want := []int{0, 10, 20}; !intSliceEqual(seen, want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
}

func TestCoroutineResumeAfterReturnFails(t *testing.T) {
	cr, first := fiber.Spawn(func(cr *fiber.Coroutine, arg interface{}) interface{} {
		v := cr.Suspend(arg)
		return v
	}, 0)
	if first.(int) != 0 {
		t.Fatalf("Spawn's first result = %v, want 0", first)
	}
	v, ok := cr.Resume(1)
	if !ok || v.(int) != 1 {
		t.Fatalf("first resume = %v, %v; want 1, true (the coroutine returns this time)", v, ok)
	}
	prev := conc64.InstallErrorHandler(func(module, errmsg string, val uintptr) conc64.ErrorAction {
		return conc64.ActionReturn
	})
	defer conc64.InstallErrorHandler(prev)
	if _, ok := cr.Resume(2); ok {
		t.Fatalf("resuming a returned coroutine should report ok = false")
	}
}

func TestCoroutineSwitch(t *testing.T) {
	b, _ := fiber.Spawn(func(b *fiber.Coroutine, arg interface{}) interface{} {
		v := b.Suspend(nil)
		return v.(string) + " via b"
	}, nil)
	a, result := fiber.Spawn(func(a *fiber.Coroutine, arg interface{}) interface{} {
		return a.Switch(b, "from a")
	}, nil)
	_ = a

	if result.(string) != "from a via b" {
		t.Fatalf("got %q, want %q", result, "from a via b")
	}
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
