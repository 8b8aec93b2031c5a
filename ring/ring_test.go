// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring_test

import (
	"sort"
	"sync"
	"testing"

	"code.hybscloud.com/conc64"
	"code.hybscloud.com/conc64/ring"
)

func TestSingleProducerSingleConsumer(t *testing.T) {
	r := ring.New[int](4, ring.ProdSingle, ring.ConsSingle)
	for i := 0; i < 10; i++ {
		r.Enqueue(i)
		if got := r.Dequeue(); got != i {
			t.Fatalf("Dequeue: got %d, want %d", got, i)
		}
	}
	r.Free()
}

func TestSingleProducerFillsAheadOfConsumer(t *testing.T) {
	r := ring.New[int](4, ring.ProdSingle, ring.ConsSingle)
	for i := 0; i < 4; i++ {
		r.Enqueue(i)
	}
	if r.Len() != 4 {
		t.Fatalf("Len: got %d, want 4", r.Len())
	}
	for i := 0; i < 4; i++ {
		if got := r.Dequeue(); got != i {
			t.Fatalf("Dequeue: got %d, want %d", got, i)
		}
	}
	r.Free()
}

func TestInvalidCapacityReported(t *testing.T) {
	reported := false
	prev := conc64.InstallErrorHandler(func(module, errmsg string, val uintptr) conc64.ErrorAction {
		reported = true
		return conc64.ActionReturn
	})
	defer conc64.InstallErrorHandler(prev)
	if r := ring.New[int](0, ring.ProdSingle, ring.ConsSingle); r != nil {
		t.Fatalf("New(0): want nil")
	}
	if !reported {
		t.Fatalf("New(0): want the error reported")
	}
}

func TestFreeReportsNonEmptyRing(t *testing.T) {
	reported := false
	prev := conc64.InstallErrorHandler(func(module, errmsg string, val uintptr) conc64.ErrorAction {
		reported = true
		return conc64.ActionReturn
	})
	defer conc64.InstallErrorHandler(prev)
	r := ring.New[int](4, ring.ProdSingle, ring.ConsSingle)
	r.Enqueue(1)
	r.Free() // reported through the installed handler, which returns ActionReturn
	if !reported {
		t.Fatalf("Free on a non-empty ring: want the error reported")
	}
	r.Dequeue()
}

func TestMultiBlockingProducersAndConsumersRoundTrip(t *testing.T) {
	const n = 2000
	const producers = 4
	const consumers = 4
	r := ring.New[int](64, ring.ProdMultiBlocking, ring.ConsMultiBlocking)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < n/producers; i++ {
				r.Enqueue(p*(n/producers) + i)
			}
		}(p)
	}

	got := make([]int, 0, n)
	var mu sync.Mutex
	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for i := 0; i < n/consumers; i++ {
				v := r.Dequeue()
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	cwg.Wait()

	if len(got) != n {
		t.Fatalf("got %d elements, want %d", len(got), n)
	}
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("missing or duplicate element: got[%d] = %d", i, v)
		}
	}
}

func TestMultiNonblockingProducersFoldOutOfOrderReleases(t *testing.T) {
	const n = 2000
	const producers = 8
	r := ring.New[int](2048, ring.ProdMultiNonblocking, ring.ConsMultiNonblocking)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < n/producers; i++ {
				r.Enqueue(p*(n/producers) + i)
			}
		}(p)
	}
	wg.Wait()

	if r.Len() != n {
		t.Fatalf("Len: got %d, want %d", r.Len(), n)
	}

	got := make([]int, 0, n)
	for {
		v, ok := r.DequeueNonblocking()
		if !ok {
			break
		}
		got = append(got, v)
	}
	if len(got) != n {
		t.Fatalf("drained %d elements, want %d", len(got), n)
	}
	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("missing or duplicate element: got[%d] = %d", i, v)
		}
	}
}

func TestDequeueNonblockingReportsEmpty(t *testing.T) {
	r := ring.New[int](4, ring.ProdMultiNonblocking, ring.ConsMultiNonblocking)
	if _, ok := r.DequeueNonblocking(); ok {
		t.Fatalf("DequeueNonblocking on empty ring: want ok == false")
	}
	r.Enqueue(7)
	v, ok := r.DequeueNonblocking()
	if !ok || v != 7 {
		t.Fatalf("DequeueNonblocking: got (%d, %v), want (7, true)", v, ok)
	}
}

func TestLockFreeConsumerDrainsWithoutBlocking(t *testing.T) {
	const n = 500
	r := ring.New[int](64, ring.ProdSingle, ring.ConsLockFree)
	if _, ok := r.DequeueNonblocking(); ok {
		t.Fatalf("DequeueNonblocking on empty ring: want ok == false")
	}
	for i := 0; i < n; i++ {
		r.Enqueue(i)
		v, ok := r.DequeueNonblocking()
		if !ok || v != i {
			t.Fatalf("DequeueNonblocking: got (%d, %v), want (%d, true)", v, ok, i)
		}
	}
	r.Free()
}

func TestLockFreeConsumersRaceOverSameSlots(t *testing.T) {
	const n = 2000
	const consumers = 8
	r := ring.New[int](128, ring.ProdSingle, ring.ConsLockFree)

	var producerWg sync.WaitGroup
	producerWg.Add(1)
	go func() {
		defer producerWg.Done()
		for i := 0; i < n; i++ {
			r.Enqueue(i)
		}
	}()

	var mu sync.Mutex
	got := make([]int, 0, n)
	var cwg sync.WaitGroup
	done := make(chan struct{})
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				v, ok := r.DequeueNonblocking()
				if ok {
					mu.Lock()
					got = append(got, v)
					mu.Unlock()
					continue
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}
	producerWg.Wait()
	for {
		mu.Lock()
		l := len(got)
		mu.Unlock()
		if l == n {
			break
		}
	}
	close(done)
	cwg.Wait()

	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("missing or duplicate element: got[%d] = %d", i, v)
		}
	}
}
