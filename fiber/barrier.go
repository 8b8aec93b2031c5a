// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/spin"
)

// Barrier is a sense-reversing barrier for goroutines: every participant
// calls Wait, and none proceeds until numThreads of them have arrived.
// The counter runs 0..2*numThreads-1 and wraps; which half a caller's
// arrival count falls in (its "lap") is what a waiter polls, so the
// same counter serves barrier instance after barrier instance without
// needing to be reset between rounds. Grounded on
// original_source/include/p64_barrier.h +
// original_source/src/p64_barrier.c.
type Barrier struct {
	numThr  uint32
	waiting atomix.Int64
}

// NewBarrier creates a barrier for exactly numThreads participants.
func NewBarrier(numThreads uint32) *Barrier {
	if numThreads == 0 {
		conc64.ReportError("fiber", "invalid number of threads", 0)
		return nil
	}
	return &Barrier{numThr: numThreads}
}

func barrierLap(cnt int64, nthr uint32) int64 {
	return (cnt / int64(nthr)) % 2
}

// Wait enters the barrier and blocks until every participant has also
// entered it.
func (b *Barrier) Wait() {
	before := b.waiting.AddAcqRel(1) - 1
	if before+1 == 2*int64(b.numThr) {
		b.waiting.AddAcqRel(-2 * int64(b.numThr))
		return
	}
	curLap := barrierLap(before, b.numThr)
	var w spin.Wait
	for barrierLap(b.waiting.LoadAcquire(), b.numThr) == curLap {
		w.Once()
	}
}
