// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package buckring implements a non-blocking, batch-oriented ring buffer
// using the pass-the-buck algorithm, mirroring progress64's p64_buckring.
//
// Producers and consumers each claim a contiguous batch of slots with a
// single CAS on the producer/consumer index pair, write or clear their
// slots independently (possibly out of order with respect to other
// concurrent batches), then each slot's writer checks whether it can
// "pass the buck": release not just its own slot but every
// already-written slot that follows it in ring order, up to the next gap.
package buckring

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/spin"
)

// slot holds one ring position's state as a single immutable record so
// that a slot's element and its in-order marks are always observed and
// updated together with one pointer CAS. This is the Go replacement for
// the original's single packed word (pointer bits used as in-order
// flags): spec.md §9 prescribes a sum type plus a pointer wherever the
// original relies on bit tricks that are not themselves the ABA-critical
// CAS word.
type slot[T any] struct {
	elem    *T
	enqMark bool // set once an enqueuer has verified this slot is in order
	deqMark bool // set once a dequeuer has verified this slot is in order
}

// Ring is a fixed-capacity, power-of-two-sized buck ring buffer of *T
// elements.
type Ring[T any] struct {
	prodHead, prodTail atomix.Uint32
	consHead, consTail atomix.Uint32
	mask               uint32
	ring               []atomix.Pointer[slot[T]]
}

// New creates a ring with room for at least nelems elements (rounded up
// to a power of two). nelems must be in [1, 0x80000000].
func New[T any](nelems uint32) *Ring[T] {
	if nelems < 1 || nelems > 0x80000000 {
		conc64.ReportError("buckring", "invalid number of elements", uintptr(nelems))
		return nil
	}
	size := nextPow2(nelems)
	r := &Ring[T]{mask: size - 1, ring: make([]atomix.Pointer[slot[T]], size)}
	r.ring[0].StoreRelaxed(&slot[T]{enqMark: true, deqMark: true})
	for i := uint32(1); i < size; i++ {
		r.ring[i].StoreRelaxed(&slot[T]{})
	}
	return r
}

func nextPow2(x uint32) uint32 {
	p := uint32(1)
	for p < x {
		p <<= 1
	}
	return p
}

// acquire claims up to n contiguous indices from [readVal, writeVal),
// where ringSize bounds how far write may run ahead of read (ringSize==0
// for the consumer side, whose "read" limit is the producer's progress
// tracked in cons.tail vs prod.head elsewhere).
func acquire(read, write *atomix.Uint32, ringSize uint32, n uint32) (index uint32, actual uint32) {
	tail := write.LoadRelaxed()
	var w spin.Wait
	for {
		head := read.LoadAcquire()
		// ringSize+head-tail wraps in 32-bit space exactly as the ring
		// indices themselves do; reinterpreting the wrapped result as
		// signed is what lets a tail that has lapped head read as "no
		// room" instead of a huge bogus positive count.
		avail := int32(ringSize + head - tail)
		a := int32(n)
		if avail < a {
			a = avail
		}
		if a <= 0 {
			return 0, 0
		}
		if write.CompareAndSwapRelaxed(tail, tail+uint32(a)) {
			return tail, uint32(a)
		}
		tail = write.LoadRelaxed()
		w.Once()
	}
}

// Enqueue writes up to len(ev) elements into the ring, returning the
// number actually written (0 if the ring is full). No element of ev may
// be nil.
func (r *Ring[T]) Enqueue(ev []*T) uint32 {
	index, actual := acquire(&r.prodHead, &r.prodTail, uint32(len(r.ring)), uint32(len(ev)))
	if actual == 0 {
		return 0
	}
	for i := uint32(1); i < actual; i++ {
		if ev[i] == nil {
			conc64.ReportError("buckring", "invalid element pointer", 0)
			return 0
		}
		r.casSlot(index+i, func(old *slot[T]) *slot[T] {
			return &slot[T]{elem: ev[i], enqMark: old.enqMark, deqMark: old.deqMark}
		})
	}
	if ev[0] == nil {
		conc64.ReportError("buckring", "invalid element pointer", 0)
		return 0
	}
	old := r.casSlot(index, func(old *slot[T]) *slot[T] {
		return &slot[T]{elem: ev[0], enqMark: false, deqMark: old.deqMark}
	})
	if !old.enqMark {
		// Out of order: nothing more to release right now.
		return actual
	}
	r.passBuck(index, true)
	return actual
}

// Dequeue reads up to len(ev) elements from the ring into ev, returning
// the number actually read (0 if the ring is empty).
func (r *Ring[T]) Dequeue(ev []*T) (n uint32, startIndex uint32) {
	index, actual := acquire(&r.consTail, &r.consHead, 0, uint32(len(ev)))
	if actual == 0 {
		return 0, 0
	}
	startIndex = index
	for i := uint32(1); i < actual; i++ {
		old := r.casSlot(index+i, func(old *slot[T]) *slot[T] {
			return &slot[T]{elem: nil, enqMark: old.enqMark, deqMark: old.deqMark}
		})
		ev[i] = old.elem
	}
	old := r.casSlot(index, func(old *slot[T]) *slot[T] {
		return &slot[T]{elem: nil, enqMark: old.enqMark, deqMark: false}
	})
	ev[0] = old.elem
	if !old.deqMark {
		return actual, startIndex
	}
	r.passBuck(index, false)
	return actual, startIndex
}

// casSlot atomically replaces the slot at ring index idx with the result
// of applying update to its current value, retrying on races. Returns the
// value that was replaced (i.e. the state observed just before update).
func (r *Ring[T]) casSlot(idx uint32, update func(*slot[T]) *slot[T]) *slot[T] {
	s := &r.ring[idx&r.mask]
	var w spin.Wait
	for {
		old := s.LoadAcquire()
		next := update(old)
		if s.CompareAndSwapAcqRel(old, next) {
			return old
		}
		w.Once()
	}
}

// passBuck is called by whichever enqueuer/dequeuer wrote origIndex and
// found it already "in order"; it walks forward past every
// already-filled (enqueue) or already-emptied (dequeue) slot until it
// hits a gap, sets the in-order mark on that gap slot so the buck passes
// to whoever writes it, then publishes how far the ring's other side may
// now advance — including origIndex itself, which the caller already
// released directly.
func (r *Ring[T]) passBuck(origIndex uint32, enqueue bool) {
	index := origIndex + 1
	for {
		s := &r.ring[index&r.mask]
		cur := s.LoadAcquire()
		match := false
		if enqueue {
			match = cur.elem != nil && !cur.deqMark
		} else {
			match = cur.elem == nil && !cur.enqMark
		}
		if !match {
			var next *slot[T]
			if enqueue {
				next = &slot[T]{elem: cur.elem, enqMark: true, deqMark: cur.deqMark}
			} else {
				next = &slot[T]{elem: cur.elem, enqMark: cur.enqMark, deqMark: true}
			}
			if !s.CompareAndSwapAcqRel(cur, next) {
				continue
			}
			break
		}
		index++
	}
	released := index - origIndex
	if enqueue {
		r.consTail.AddAcqRel(released)
	} else {
		r.prodHead.AddAcqRel(released)
	}
}
