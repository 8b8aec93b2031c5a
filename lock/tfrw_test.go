// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.hybscloud.com/conc64/lock"
)

func TestTaskFairRWWritersExclusive(t *testing.T) {
	var l lock.TaskFairRW
	var counter int
	const n, iters = 8, 300
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				tkt := l.AcquireWrite()
				counter++
				l.ReleaseWrite(tkt)
			}
		}()
	}
	wg.Wait()
	if counter != n*iters {
		t.Fatalf("counter = %d, want %d", counter, n*iters)
	}
}

func TestTaskFairRWReadersConcurrent(t *testing.T) {
	var l lock.TaskFairRW
	var active int32
	var maxActive int32
	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			l.AcquireRead()
			cur := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if cur <= m || atomic.CompareAndSwapInt32(&maxActive, m, cur) {
					break
				}
			}
			atomic.AddInt32(&active, -1)
			l.ReleaseRead()
		}()
	}
	wg.Wait()
	if maxActive < 1 {
		t.Fatalf("maxActive = %d, want at least 1", maxActive)
	}
}

func TestTaskFairRWWriterExcludesReaders(t *testing.T) {
	var l lock.TaskFairRW
	tkt := l.AcquireWrite()
	done := make(chan struct{})
	go func() {
		l.AcquireRead()
		l.ReleaseRead()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("reader proceeded while writer held the lock")
	default:
	}
	l.ReleaseWrite(tkt)
	<-done
}
