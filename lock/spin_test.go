// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/conc64/lock"
)

func TestSpinMutualExclusion(t *testing.T) {
	var l lock.Spin
	var counter int
	const n, iters = 8, 1000
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				l.Acquire()
				counter++
				l.Release()
			}
		}()
	}
	wg.Wait()
	if counter != n*iters {
		t.Fatalf("counter = %d, want %d", counter, n*iters)
	}
}

func TestSpinTryAcquire(t *testing.T) {
	var l lock.Spin
	if !l.TryAcquire() {
		t.Fatal("TryAcquire on free lock: want true")
	}
	if l.TryAcquire() {
		t.Fatal("TryAcquire on held lock: want false")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("TryAcquire after release: want true")
	}
}
