// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"math/bits"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/spin"
)

// skipWindow is how many tickets ahead of the current one [Skip.Skip]
// can mark abandoned. The original packs this bitmap and the current
// ticket into one 96-bit (or, without __int128, 32-bit) word updated by
// a double-word compare-and-swap; conc64 instead boxes both fields into
// one record CAS'd through a single atomix.Pointer, the same
// boxed-record substitution used throughout this module for the
// original's packed-word and tagged-pointer tricks, and widens the
// window to 64 abandonable tickets since a pointer CAS costs nothing
// extra for a wider bitmap.
const skipWindow = 64

type skipState struct {
	cur  uint32
	mask uint64
}

// Skip is a ticket lock whose tickets can be granted out of order: a
// caller holding a ticket further in the future than the current one
// can mark it "skip" in advance, and once every ticket between the
// current position and a skipped one has also been granted or skipped,
// the lock jumps straight past it. Grounded on
// original_source/src/p64_skiplock.c.
type Skip struct {
	state atomix.Pointer[skipState]
}

// NewSkip creates a lock whose first ticket is 0.
func NewSkip() *Skip {
	l := &Skip{}
	l.state.StoreRelaxed(&skipState{})
	return l
}

// Acquire blocks until tkt is the current ticket.
func (l *Skip) Acquire(tkt uint32) {
	var w spin.Wait
	for l.state.LoadAcquire().cur != tkt {
		w.Once()
	}
}

// Release releases tkt, advancing past it and any tickets already
// marked skipped immediately after it.
func (l *Skip) Release(tkt uint32) {
	for {
		old := l.state.LoadAcquire()
		if tkt != old.cur {
			conc64.ReportError("lock", "invalid ticket", uintptr(tkt))
			return
		}
		advance := uint32(1) + uint32(bits.TrailingZeros64(^old.mask))
		next := &skipState{cur: old.cur + advance}
		if advance < skipWindow {
			next.mask = old.mask >> advance
		}
		if l.state.CompareAndSwapAcqRel(old, next) {
			return
		}
	}
}

// Skip marks tkt as abandoned in advance, without blocking for it to
// become current, so long as tkt is within skipWindow tickets of the
// current one. If tkt is already current, Skip behaves as Release.
func (l *Skip) Skip(tkt uint32) {
	var w spin.Wait
	for tkt-l.state.LoadAcquire().cur > skipWindow {
		w.Once()
	}
	for {
		old := l.state.LoadAcquire()
		dif := tkt - old.cur
		if dif == 0 {
			l.Release(tkt)
			return
		}
		bit := dif - 1
		next := &skipState{cur: old.cur, mask: old.mask | (uint64(1) << bit)}
		if l.state.CompareAndSwapAcqRel(old, next) {
			return
		}
	}
}
