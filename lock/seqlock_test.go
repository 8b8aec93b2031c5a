// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/conc64/lock"
)

func TestSeqReaderSeesConsistentSnapshot(t *testing.T) {
	var l lock.Seq
	var x, y int64

	var wg sync.WaitGroup
	wg.Add(1)
	stop := make(chan struct{})
	go func() {
		defer wg.Done()
		for i := int64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			tkt := l.WriteBegin()
			x, y = i, i*2
			l.WriteEnd(tkt)
		}
	}()

	for i := 0; i < 1000; i++ {
		var a, b int64
		for {
			start := l.ReadBegin()
			a, b = x, y
			if !l.ReadRetry(start) {
				break
			}
		}
		if b != a*2 {
			close(stop)
			wg.Wait()
			t.Fatalf("torn read: x=%d y=%d, want y == 2*x", a, b)
		}
	}
	close(stop)
	wg.Wait()
}

func TestSeqWritersSerialize(t *testing.T) {
	var l lock.Seq
	var counter int
	const n, iters = 8, 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				tkt := l.WriteBegin()
				counter++
				l.WriteEnd(tkt)
			}
		}()
	}
	wg.Wait()
	if counter != n*iters {
		t.Fatalf("counter = %d, want %d", counter, n*iters)
	}
}
