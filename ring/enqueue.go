// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import "code.hybscloud.com/spin"

// maxPending bounds how many producer reservations may be finished but
// not yet folded into the public tail at once: prodRelState.pending is a
// 32-bit mask, one bit per reservation beyond the current tail.
const maxPending = 32

// Enqueue adds v to the ring, blocking while the ring is full. Which
// goroutines may call Enqueue concurrently is governed by the ProdMode
// the ring was created with.
func (r *Ring[T]) Enqueue(v T) {
	switch r.prodMode {
	case ProdSingle:
		r.enqueueSingle(v)
	case ProdMultiNonblocking:
		r.enqueueMultiNonblocking(v)
	default: // ProdMultiBlocking
		r.enqueueMultiBlocking(v)
	}
}

// enqueueSingle assumes the caller serializes every Enqueue call itself,
// so reservation and release are the same uncontended step.
func (r *Ring[T]) enqueueSingle(v T) {
	sn := r.prodReserved.LoadRelaxed()
	r.prodReserved.StoreRelaxed(sn + 1)
	r.fillSlot(swizzle(sn)&r.prodMask, sn, v)
	rel := r.prodRelease.LoadRelaxed()
	r.prodRelease.StoreRelease(&prodRelState{tail: rel.tail + 1})
}

// enqueueMultiBlocking lets any number of goroutines reserve a slot with
// a fetch-add, then requires each release to wait for its predecessor's
// release before advancing the shared tail — the same "wait for the
// goroutine ahead of you to finish" discipline a CLH or MCS lock queue
// uses to hand off in FIFO order, applied here to slot releases instead
// of lock ownership.
func (r *Ring[T]) enqueueMultiBlocking(v T) {
	sn := r.prodReserved.AddAcqRel(1) - 1
	r.fillSlot(swizzle(sn)&r.prodMask, sn, v)
	var w spin.Wait
	for {
		old := r.prodRelease.LoadAcquire()
		if old.tail != sn {
			w.Once()
			continue
		}
		if r.prodRelease.CompareAndSwapAcqRel(old, &prodRelState{tail: old.tail + 1}) {
			return
		}
	}
}

// enqueueMultiNonblocking lets any number of goroutines reserve and
// release concurrently without ever waiting on another release: a
// release that finishes out of order just sets its bit in the pending
// mask, and whoever's release completes the contiguous run starting at
// tail folds the whole run in with one CAS, in either order.
func (r *Ring[T]) enqueueMultiNonblocking(v T) {
	sn := r.prodReserved.AddAcqRel(1) - 1
	r.fillSlot(swizzle(sn)&r.prodMask, sn, v)
	var w spin.Wait
	for {
		old := r.prodRelease.LoadAcquire()
		offset := sn - old.tail
		if offset >= maxPending {
			// More than maxPending releases are outstanding ahead of
			// us; wait for the backlog to fold before claiming a mask
			// bit, rather than aliasing onto one already in use.
			w.Once()
			continue
		}
		pending := old.pending | (1 << offset)
		tail := old.tail
		for pending&1 != 0 {
			tail++
			pending >>= 1
		}
		if r.prodRelease.CompareAndSwapAcqRel(old, &prodRelState{tail: tail, pending: pending}) {
			return
		}
	}
}
