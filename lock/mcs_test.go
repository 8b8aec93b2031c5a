// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/conc64/lock"
)

func TestMCSMutualExclusion(t *testing.T) {
	var l lock.MCS
	var counter int
	const n, iters = 8, 500
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			var node lock.MCSNode
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

func TestMCSUncontendedFastPath(t *testing.T) {
	var l lock.MCS
	var a, b lock.MCSNode
	l.Acquire(&a)
	l.Release(&a)
	l.Acquire(&b)
	l.Release(&b)
}
