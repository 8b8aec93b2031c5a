// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import "code.hybscloud.com/spin"

// Dequeue removes and returns the next element, blocking while the ring
// is empty. ConsLockFree rings do not support Dequeue; call
// DequeueNonblocking instead.
func (r *Ring[T]) Dequeue() T {
	switch r.consMode {
	case ConsSingle:
		return r.dequeueSingle()
	default: // ConsMultiBlocking, ConsMultiNonblocking
		return r.dequeueMultiBlocking()
	}
}

// dequeueSingle assumes the caller serializes every Dequeue call itself.
func (r *Ring[T]) dequeueSingle() T {
	sn := r.consHead.LoadRelaxed()
	r.consHead.StoreRelaxed(sn + 1)
	return r.drainSlot(swizzle(sn)&r.consMask, sn, r.consMask)
}

// dequeueMultiBlocking lets any number of goroutines reserve a slot with
// a fetch-add, then block on that slot alone until it is filled; no
// coordination between consumers is needed beyond the fetch-add itself,
// since each reserves a distinct sn.
func (r *Ring[T]) dequeueMultiBlocking() T {
	sn := r.consHead.AddAcqRel(1) - 1
	return r.drainSlot(swizzle(sn)&r.consMask, sn, r.consMask)
}

// DequeueNonblocking removes and returns the next element without
// blocking, reporting ok == false if the ring has nothing published yet.
// Valid for ConsMultiNonblocking and ConsLockFree rings.
func (r *Ring[T]) DequeueNonblocking() (v T, ok bool) {
	if r.consMode == ConsLockFree {
		return r.dequeueLockFree()
	}
	return r.dequeueMultiNonblocking()
}

// dequeueMultiNonblocking reserves exactly one slot if the producer side
// has already published one, via a bounded CAS on consHead against the
// producer's public tail; it never waits on a slot to be filled, because
// it never reserves one that is not already known-published.
func (r *Ring[T]) dequeueMultiNonblocking() (v T, ok bool) {
	var w spin.Wait
	for {
		head := r.consHead.LoadAcquire()
		tail := r.prodRelease.LoadAcquire().tail
		if int32(tail-head) <= 0 {
			var zero T
			return zero, false
		}
		if r.consHead.CompareAndSwapAcqRel(head, head+1) {
			return r.drainSlot(swizzle(head)&r.consMask, head, r.consMask), true
		}
		w.Once()
	}
}

// dequeueLockFree speculatively reads the slot at the current head
// without reserving it first, then commits by CASing head forward by
// one only if the read slot was actually filled. Losing the CAS means
// another consumer claimed the same slot first, so it retries from a
// fresh head rather than blocking.
func (r *Ring[T]) dequeueLockFree() (v T, ok bool) {
	for {
		head := r.consHead.LoadAcquire()
		idx := swizzle(head) & r.consMask
		slot := r.slots[idx].LoadAcquire()
		if slot == nil || slot.sn != head || !slot.valid {
			var zero T
			return zero, false
		}
		if !r.consHead.CompareAndSwapAcqRel(head, head+1) {
			continue
		}
		next := &slotState[T]{sn: head + r.consMask + 1}
		r.slots[idx].StoreRelease(next)
		return slot.elem, true
	}
}
