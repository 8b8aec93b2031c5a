// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/conc64/lock"
)

func TestHemlockMutualExclusion(t *testing.T) {
	var l lock.Hemlock
	var counter int
	const n, iters = 8, 500
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			var node lock.HemlockNode
			for j := 0; j < iters; j++ {
				l.Acquire(&node)
				counter++
				l.Release(&node)
			}
		}()
	}
	wg.Wait()
	if counter != n*iters {
		t.Fatalf("counter = %d, want %d", counter, n*iters)
	}
}

func TestHemlockTryAcquire(t *testing.T) {
	var l lock.Hemlock
	var a, b lock.HemlockNode
	if !l.TryAcquire(&a) {
		t.Fatal("TryAcquire on free lock: want true")
	}
	if l.TryAcquire(&b) {
		t.Fatal("TryAcquire on held lock: want false")
	}
	l.Release(&a)
	if !l.TryAcquire(&b) {
		t.Fatal("TryAcquire after release: want true")
	}
	l.Release(&b)
}
