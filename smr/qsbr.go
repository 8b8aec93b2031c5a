// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
)

// infiniteInterval is larger than any interval a QSBRDomain will ever
// reach, used as the "this thread holds no references" sentinel.
const infiniteInterval = ^uint64(0)

// QSBRDomain is a quiescent-state-based reclamation domain: reclamation
// does not track individual references, only which "interval" each
// registered thread has last observed. Grounded on
// original_source/src/p64_qsbr.c.
type QSBRDomain struct {
	nelems    uint32
	current   atomix.Uint64
	highWM    atomix.Int64
	idx       threadIndex
	intervals [MaxThreads]atomix.Uint64
	_         pad
}

// QSBRThread is a thread's participation record in a [QSBRDomain].
type QSBRThread struct {
	dom      *QSBRDomain
	idx      uint32
	interval uint64 // last interval this thread stored, for the fast no-op path in Quiescent
	objs     []qsbrElem
	maxItems uint32
}

type qsbrElem struct {
	ptr      unsafe.Pointer
	cb       func(unsafe.Pointer)
	interval uint64
}

// NewQSBRDomain creates a QSBR domain whose per-thread retire lists hold
// up to nelems objects before forcing a reclamation pass.
func NewQSBRDomain(nelems uint32) *QSBRDomain {
	d := &QSBRDomain{nelems: nelems}
	for i := range d.intervals {
		d.intervals[i].StoreRelaxed(infiniteInterval)
	}
	return d
}

// Register admits a new thread, returning its participation record.
func (d *QSBRDomain) Register() *QSBRThread {
	idx, ok := d.idx.alloc()
	if !ok {
		conc64.ReportError("smr", "too many registered threads", uintptr(MaxThreads))
		return nil
	}
	fetchMaxI64(&d.highWM, int64(idx)+1)
	return &QSBRThread{dom: d, idx: idx, interval: infiniteInterval, maxItems: d.nelems}
}

// findMinInterval returns the smallest interval observed across the first
// n threads' slots, or infiniteInterval if n == 0.
func findMinInterval(intervals *[MaxThreads]atomix.Uint64, n int64) uint64 {
	min := infiniteInterval
	for i := int64(0); i < n; i++ {
		if t := intervals[i].LoadAcquire(); t < min {
			min = t
		}
	}
	return min
}

// Unregister removes t from its domain. Reports "thread has unreclaimed
// objects" if t's retire list is non-empty.
func (t *QSBRThread) Unregister() {
	if len(t.objs) != 0 {
		conc64.ReportError("smr", "thread has unreclaimed objects", uintptr(len(t.objs)))
		return
	}
	t.dom.intervals[t.idx].StoreRelease(infiniteInterval)
	t.dom.idx.release(t.idx)
}

// Acquire marks t as observing the domain's current interval, the
// starting point of a read-side critical section. The interval is
// published with a release store so that every subsequent read t performs
// is ordered after a reclaimer's acquire-load of this slot; progress64
// additionally issues a standalone SEQ_CST fence here, which conc64 has no
// portable equivalent for and instead relies on the release/acquire pair
// to order.
func (t *QSBRThread) Acquire() {
	interval := t.dom.current.LoadRelaxed()
	t.dom.intervals[t.idx].StoreRelease(interval)
	t.interval = interval
}

// Quiescent records that t currently holds no references into the
// domain's protected structures, without ending its participation the way
// [QSBRThread.Release] does. Call this periodically from a long-running
// worker loop between units of work.
func (t *QSBRThread) Quiescent() {
	interval := t.dom.current.LoadRelaxed()
	if interval != t.interval {
		t.dom.intervals[t.idx].StoreRelease(interval)
		t.interval = interval
	}
}

// Release marks t as inactive until its next [QSBRThread.Acquire],
// equivalent to a permanent quiescent state.
func (t *QSBRThread) Release() {
	t.dom.intervals[t.idx].StoreRelease(infiniteInterval)
	t.interval = infiniteInterval
}

// Deactivate is an alias for [QSBRThread.Release] kept for symmetry with
// [Thread.Deactivate] in the hazard-pointer API; QSBR has no separate
// "reactivate republishes prior state" step since quiescent threads carry
// no state to restore, so [QSBRThread.Reactivate] is just [QSBRThread.Acquire].
func (t *QSBRThread) Deactivate() { t.Release() }

// Reactivate undoes [QSBRThread.Deactivate].
func (t *QSBRThread) Reactivate() { t.Acquire() }

// Retire32 hands ptr to t's retire list, to be reclaimed via cb once every
// registered thread has observed an interval later than the one current
// at the time of this call. It returns false, without retiring ptr, if
// the list is full and [QSBRThread.Reclaim] frees nothing.
func Retire32[T any](t *QSBRThread, ptr *T, cb func(*T)) bool {
	if uint32(len(t.objs)) == t.maxItems {
		if t.Reclaim() == t.maxItems {
			return false
		}
	}
	interval := t.dom.current.AddAcqRel(1) - 1
	t.objs = append(t.objs, qsbrElem{
		ptr:      unsafe.Pointer(ptr),
		cb:       func(p unsafe.Pointer) { cb((*T)(p)) },
		interval: interval,
	})
	return true
}

// Reclaim reclaims every object in t's retire list that every registered
// thread has aged past, returning the number of objects still pending.
func (t *QSBRThread) Reclaim() uint32 {
	if len(t.objs) == 0 {
		return 0
	}
	hw := t.dom.highWM.LoadAcquire()
	min := findMinInterval(&t.dom.intervals, hw)

	kept := t.objs[:0]
	for _, e := range t.objs {
		if min > e.interval {
			e.cb(e.ptr)
			continue
		}
		kept = append(kept, e)
	}
	t.objs = kept
	return uint32(len(t.objs))
}
