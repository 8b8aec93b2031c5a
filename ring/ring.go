// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/spin"
)

const maxElems = 0x80000000

// swizzleBits scatters consecutive sequence numbers across distinct
// cache lines. A slot is one pointer (8 bytes on every platform this
// module targets), so an ordinary 64-byte cache line holds 8 of them;
// swizzle(sn) permutes sn's low 3 bits with the next 3 so that two
// producers or consumers working adjacent sequence numbers land in
// different lines instead of false-sharing one, the same purpose the
// original serves for its wider 16-byte (sn, elem) slots.
const swizzleBits = 3

func swizzle(sn uint32) uint32 {
	return sn ^ ((sn & 7) << 3)
}

func nextPow2(x uint32) uint32 {
	p := uint32(1)
	for p < x {
		p <<= 1
	}
	return p
}

// pad is cache-line padding that keeps the producer and consumer
// bookkeeping below from false-sharing each other's cache line.
type pad [64]byte

// slotState is one ring position's contents, boxed and swapped as a
// single pointer. This is the Go replacement for the original's packed
// (sn, elem) pair exchanged as one 128-bit CAS: a fresh slotState is
// allocated on every transition, so the original's reliance on sn acting
// as its own per-slot ABA generation counter survives unchanged — a
// stale *slotState can never be mistaken for a fresh one of the same sn,
// since they are different allocations.
type slotState[T any] struct {
	sn    uint32
	elem  T
	valid bool
}

// ProdMode selects how [Ring.Enqueue] reserves and publishes slots.
type ProdMode int

const (
	// ProdSingle requires the caller to serialize all Enqueue calls
	// itself (at most one producer goroutine at a time).
	ProdSingle ProdMode = iota
	// ProdMultiBlocking lets any number of goroutines call Enqueue
	// concurrently; a release waits for its predecessor (in reservation
	// order) to publish first, so the public tail always advances in
	// exactly the order slots were reserved.
	ProdMultiBlocking
	// ProdMultiNonblocking lets any number of goroutines call Enqueue
	// concurrently without ever blocking on another release: a
	// finished reservation sets its bit in a pending mask, and whoever
	// completes the run of bits starting at the public tail folds it
	// in with a single CAS. Limited to 32 reservations in flight at
	// once (the pending mask's width).
	ProdMultiNonblocking
)

// ConsMode selects how [Ring.Dequeue] and [Ring.DequeueNonblocking]
// reserve and retire slots.
type ConsMode int

const (
	// ConsSingle requires the caller to serialize all dequeue calls
	// itself (at most one consumer goroutine at a time).
	ConsSingle ConsMode = iota
	// ConsMultiBlocking lets any number of goroutines call Dequeue
	// concurrently, each blocking until its reserved slots are filled.
	ConsMultiBlocking
	// ConsMultiNonblocking lets any number of goroutines call
	// DequeueNonblocking concurrently; it reserves only what is already
	// available and never blocks.
	ConsMultiNonblocking
	// ConsLockFree serves DequeueNonblocking with a single speculative
	// read of the head followed by a CAS, instead of first reserving a
	// range with a fetch-add: optimistic under low contention, retried
	// from scratch (not blocked) when the CAS loses a race.
	ConsLockFree
)

// prodRelState is the producer side's public release point: the tail
// every nonblocking or lock-free consumer bounds itself by, plus a
// bitmask of reservations finished out of order waiting to fold into it.
// Both fields must move together under one CAS, which is why they are
// boxed into a single record rather than kept as two atomics — the same
// boxed-record substitution this module uses everywhere else in place of
// the original's packed multi-field CAS words.
type prodRelState struct {
	tail    uint32
	pending uint32 // bit i set => tail+i has been published out of order
}

// Ring is a bounded FIFO ring buffer of T. Producer and consumer sides
// are configured independently at construction and keep their
// bookkeeping on separate cache lines.
type Ring[T any] struct {
	_            pad
	consHead     atomix.Uint32
	consMask     uint32
	consMode     ConsMode
	_            pad
	prodReserved atomix.Uint32
	prodRelease  atomix.Pointer[prodRelState]
	prodMask     uint32
	prodMode     ProdMode
	_            pad
	slots        []atomix.Pointer[slotState[T]]
}

// New creates a ring with room for at least nelems elements (rounded up
// to a power of two, and to swizzle's minimum granularity). nelems must
// be in [1, 0x80000000].
func New[T any](nelems uint32, prodMode ProdMode, consMode ConsMode) *Ring[T] {
	if nelems < 1 || nelems > maxElems {
		conc64.ReportError("ring", "invalid number of elements", uintptr(nelems))
		return nil
	}
	size := nextPow2(nelems)
	if size < 1<<swizzleBits {
		size = 1 << swizzleBits
	}
	r := &Ring[T]{
		consMask: size - 1,
		consMode: consMode,
		prodMask: size - 1,
		prodMode: prodMode,
		slots:    make([]atomix.Pointer[slotState[T]], size),
	}
	r.prodRelease.StoreRelease(&prodRelState{})
	for i := uint32(0); i < size; i++ {
		j := swizzle(i) & (size - 1)
		r.slots[j].StoreRelaxed(&slotState[T]{sn: i})
	}
	return r
}

// Cap returns the ring's slot count (a power of two, >= nelems passed to
// New).
func (r *Ring[T]) Cap() uint32 { return r.prodMask + 1 }

// Len returns the number of elements currently published and not yet
// dequeued.
func (r *Ring[T]) Len() uint32 {
	return r.prodRelease.LoadAcquire().tail - r.consHead.LoadAcquire()
}

// Free validates that the ring can be torn down: every enqueued element
// must already be dequeued. There is no portable way to detect a
// goroutine still blocked inside Dequeue waiting on this ring, so unlike
// the original's p64_blkring_free this only reports the condition Go can
// actually observe.
func (r *Ring[T]) Free() {
	if r.Len() != 0 {
		conc64.ReportError("ring", "ring not empty", uintptr(r.Len()))
	}
}

// fillSlot blocks until slot idx is the expected empty generation sn,
// then atomically fills it with v and returns. Used by every producer
// mode: reservation (how sn was obtained) differs, but publishing one's
// own slot never does.
func (r *Ring[T]) fillSlot(idx, sn uint32, v T) {
	var w spin.Wait
	for {
		old := r.slots[idx].LoadAcquire()
		if old != nil && old.sn == sn && !old.valid {
			if r.slots[idx].CompareAndSwapAcqRel(old, &slotState[T]{sn: sn, elem: v, valid: true}) {
				return
			}
			continue
		}
		// Not yet empty for our generation: the ring wrapped around a
		// consumer that has not caught up yet.
		w.Once()
	}
}

// drainSlot blocks until slot idx holds the expected filled generation
// sn, then atomically clears it (advancing its generation past this
// wrap) and returns the element. Used by every consumer mode.
func (r *Ring[T]) drainSlot(idx, sn, mask uint32) T {
	var w spin.Wait
	for {
		old := r.slots[idx].LoadAcquire()
		if old != nil && old.sn == sn && old.valid {
			var zero T
			next := &slotState[T]{sn: sn + mask + 1, elem: zero, valid: false}
			if r.slots[idx].CompareAndSwapAcqRel(old, next) {
				return old.elem
			}
			continue
		}
		w.Once()
	}
}
