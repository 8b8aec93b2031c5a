// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// defaultTurnTime is the original's default per-position backoff
// (p64_tktlock_acquire calls p64_tktlock_acquire_bkoff(lock, 192)).
const defaultTurnTime = 192 * time.Nanosecond

// Ticket is a FIFO ticket lock. The zero value is an unlocked lock.
//
// The original packs the "next ticket to hand out" and "ticket
// currently allowed in" counters into the two 16-bit halves of one
// 32-bit word, so a single fetch-add both claims a ticket and snapshots
// the current holder. conc64 keeps them as two independent 32-bit
// atomics instead: the combined read is only ever used as a backoff
// hint here (the actual wait condition always re-reads current fresh),
// so nothing depends on the two counters being read as one atomic unit,
// and splitting them sidesteps the 16-bit sub-field carrying into its
// neighbour once a counter wraps. Grounded on
// original_source/src/p64_tktlock.c.
type Ticket struct {
	next    atomix.Uint32
	current atomix.Uint32
}

// AcquireBackoff is [Ticket.Acquire] with an explicit per-position
// backoff duration.
func (l *Ticket) AcquireBackoff(perTurn time.Duration) {
	myTkt := l.next.AddAcqRel(1) - 1
	for {
		cur := l.current.LoadAcquire()
		if cur == myTkt {
			return
		}
		dist := myTkt - cur
		if dist == 1 {
			var w spin.Wait
			for l.current.LoadAcquire() != myTkt {
				w.Once()
			}
			return
		}
		time.Sleep(time.Duration(dist-1) * perTurn)
	}
}

// Acquire blocks until this caller holds the lock.
func (l *Ticket) Acquire() {
	l.AcquireBackoff(defaultTurnTime)
}

// Release releases the lock, admitting the next ticket holder.
func (l *Ticket) Release() {
	l.current.AddAcqRel(1)
}
