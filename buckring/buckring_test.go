// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package buckring_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/conc64/buckring"
)

func TestRingEnqueueDequeueSingle(t *testing.T) {
	r := buckring.New[int](8)
	v := 42
	if n := r.Enqueue([]*int{&v}); n != 1 {
		t.Fatalf("Enqueue: got %d, want 1", n)
	}
	out := make([]*int, 1)
	n, _ := r.Dequeue(out)
	if n != 1 || out[0] != &v {
		t.Fatalf("Dequeue: got n=%d out=%v, want 1 %p", n, out, &v)
	}
}

func TestRingFullReturnsZero(t *testing.T) {
	r := buckring.New[int](4)
	vals := make([]int, 4)
	ptrs := make([]*int, 4)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if n := r.Enqueue(ptrs); n != 4 {
		t.Fatalf("Enqueue: got %d, want 4", n)
	}
	extra := 99
	if n := r.Enqueue([]*int{&extra}); n != 0 {
		t.Fatalf("Enqueue on full ring: got %d, want 0", n)
	}
}

func TestRingEmptyDequeueReturnsZero(t *testing.T) {
	r := buckring.New[int](4)
	out := make([]*int, 1)
	if n, _ := r.Dequeue(out); n != 0 {
		t.Fatalf("Dequeue on empty ring: got %d, want 0", n)
	}
}

func TestRingOutOfOrderBatchesStillDrainInFull(t *testing.T) {
	const n = 1000
	r := buckring.New[int](n)
	vals := make([]int, n)
	ptrs := make([]*int, n)
	for i := range vals {
		vals[i] = i
		ptrs[i] = &vals[i]
	}

	const nproducers = 8
	var wg sync.WaitGroup
	wg.Add(nproducers)
	chunk := n / nproducers
	for p := 0; p < nproducers; p++ {
		go func(p int) {
			defer wg.Done()
			start := p * chunk
			for i := start; i < start+chunk; {
				m := r.Enqueue(ptrs[i : i+1])
				i += int(m)
				if m == 0 {
					t.Errorf("unexpected enqueue failure at %d", i)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	out := make([]*int, 1)
	for len(seen) < n {
		if m, _ := r.Dequeue(out); m == 1 {
			seen[*out[0]] = true
		}
	}
	if len(seen) != n {
		t.Fatalf("drained %d distinct values, want %d", len(seen), n)
	}
}
