// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber_test

import (
	"testing"

	"code.hybscloud.com/conc64/fiber"
)

func TestSchedulerRoundRobinOrder(t *testing.T) {
	s := fiber.NewScheduler()
	var order []int

	s.Spawn(func(f *fiber.Fiber, arg interface{}) {
		id := arg.(int)
		order = append(order, id)
		f.Yield()
		order = append(order, id)
	}, 1)
	s.Spawn(func(f *fiber.Fiber, arg interface{}) {
		id := arg.(int)
		order = append(order, id)
		f.Yield()
		order = append(order, id)
	}, 2)

	s.Run()

	want := []int{1, 2, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, v := range want {
		if order[i] != v {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestFiberExitMidRing(t *testing.T) {
	s := fiber.NewScheduler()
	var trace []string

	s.Spawn(func(f *fiber.Fiber, arg interface{}) {
		trace = append(trace, "a1")
		f.Yield()
		trace = append(trace, "a2")
	}, nil)
	s.Spawn(func(f *fiber.Fiber, arg interface{}) {
		trace = append(trace, "b1")
		// b never yields again, it exits here (via returning from ep)
	}, nil)

	s.Run()

	if len(trace) != 3 {
		t.Fatalf("trace = %v, want 3 entries", trace)
	}
	if trace[0] != "a1" || trace[1] != "b1" || trace[2] != "a2" {
		t.Fatalf("trace = %v, want [a1 b1 a2]", trace)
	}
}

func TestFiberBarrierSynchronizes(t *testing.T) {
	s := fiber.NewScheduler()
	var stage1, stage2 []int

	for i := 0; i < 3; i++ {
		s.Spawn(func(f *fiber.Fiber, arg interface{}) {
			id := arg.(int)
			stage1 = append(stage1, id)
			f.Barrier()
			stage2 = append(stage2, id)
		}, i)
	}

	s.Run()

	if len(stage1) != 3 || len(stage2) != 3 {
		t.Fatalf("stage1=%v stage2=%v, want 3 entries each", stage1, stage2)
	}
}
