// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/conc64/lock"
)

func TestSkipInOrderRelease(t *testing.T) {
	l := lock.NewSkip()
	const n = 20
	var order []int
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(tkt uint32) {
			defer wg.Done()
			l.Acquire(tkt)
			order = append(order, int(tkt))
			l.Release(tkt)
		}(uint32(i))
	}
	wg.Wait()
	if len(order) != n {
		t.Fatalf("order length = %d, want %d", len(order), n)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d (tickets must be granted in order)", i, v, i)
		}
	}
}

func TestSkipAdvancesPastSkippedTicket(t *testing.T) {
	l := lock.NewSkip()
	l.Acquire(0)
	l.Skip(1) // ticket 1 never shows up; advance past it
	l.Release(0)
	l.Acquire(2) // must not block waiting for ticket 1
	l.Release(2)
}

func TestSkipOfCurrentTicketActsAsRelease(t *testing.T) {
	l := lock.NewSkip()
	l.Acquire(0)
	l.Skip(0)
	l.Acquire(1)
	l.Release(1)
}
