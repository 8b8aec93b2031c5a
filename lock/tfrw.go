// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// rdOne/wrMask split each of this lock's two words into a 16-bit "rd"
// half (top) and a 16-bit "wr" half (bottom), exactly as the original's
// bitfields do.
const (
	tfRDOne  = uint32(1) << 16
	tfWRMask = uint32(0xFFFF)
)

func tfToWR(x uint32) uint32 { return x & tfWRMask }

func tfAddWRMasked(old, val uint32) uint32 {
	return ((old + val) & tfWRMask) | (old &^ tfWRMask)
}

// TaskFairRW is a reader/writer lock that admits readers and writers in
// strict arrival order (a writer never starves behind a steady stream of
// readers, nor vice versa). Grounded on original_source/src/p64_tfrwlock.c.
//
// enter/leave each pack a reader-arrival count and a writer ticket into
// one word, same as the original's packed bitfields: a writer's acquire
// must observe the reader count and its own ticket as a single atomic
// snapshot (a reader arriving between two separate reads could otherwise
// be counted by neither the writer waiting for it nor itself waiting for
// that writer, deadlocking both), so unlike the locks above this is not
// a case where splitting the packed word into independent fields is
// safe; the combined word is load-bearing here, not just a cache-layout
// optimization. Where the original writes only to one half of a packed
// word directly (distinct sub-word addresses in C), conc64 uses a
// mask-preserving compare-and-swap loop instead, since Go atomics have
// no portable sub-word view into a wider word.
type TaskFairRW struct {
	enter atomix.Uint32
	leave atomix.Uint32
}

// AcquireRead blocks until a read position is held.
func (l *TaskFairRW) AcquireRead() {
	old := l.enter.AddAcqRel(tfRDOne) - tfRDOne
	wrTkt := tfToWR(old)
	var w spin.Wait
	for tfToWR(l.leave.LoadAcquire()) != wrTkt {
		w.Once()
	}
}

// ReleaseRead releases a read position.
func (l *TaskFairRW) ReleaseRead() {
	l.leave.AddAcqRel(tfRDOne)
}

// AcquireWrite blocks until the write position is held, returning a
// ticket that must be passed to [TaskFairRW.ReleaseWrite].
func (l *TaskFairRW) AcquireWrite() uint32 {
	var old uint32
	for {
		old = l.enter.LoadRelaxed()
		next := tfAddWRMasked(old, 1)
		if l.enter.CompareAndSwapAcqRel(old, next) {
			break
		}
	}
	var w spin.Wait
	for l.leave.LoadAcquire() != old {
		w.Once()
	}
	return tfToWR(old)
}

// ReleaseWrite releases the write position acquired with tkt.
func (l *TaskFairRW) ReleaseWrite(tkt uint32) {
	for {
		old := l.leave.LoadRelaxed()
		next := tfAddWRMasked(old, tkt+1-tfToWR(old))
		if l.leave.CompareAndSwapAcqRel(old, next) {
			return
		}
	}
}
