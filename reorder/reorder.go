// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reorder

import (
	"math/bits"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/spin"
)

// Callback reports an in-order element at sequence number sn. It is
// called with a nil elem to conclude a run of in-order deliveries,
// mirroring p64_reorder_cb's "called with NULL elem to conclude a
// sequence of calls with non-NULL elem".
type Callback[T any] func(elem *T, sn uint32)

func roundUpPow2(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len32(n-1)
}

func before(x, y uint32) bool { return int32(x-y) < 0 }
func after(x, y uint32) bool  { return int32(x-y) > 0 }

// hiState packs head and chgi (a change indicator, bumped whenever an
// out-of-order release updates head without moving it) into one boxed
// record, CAS'd as a single atomix.Pointer[hiState] in place of the
// original's combined 64-bit struct hi CAS — the same boxed-record
// substitution used for double-word CAS elsewhere in this module.
type hiState struct {
	head uint32
	chgi uint32
}

// Buffer is a non-blocking strict reorder buffer: any goroutine that
// releases the in-order element becomes responsible for retiring every
// element that is now consecutive, via cb. Grounded on p64_reorder.h
// and p64_reorder.c.
type Buffer[T any] struct {
	hi          atomix.Pointer[hiState]
	mask        uint32
	userAcquire bool
	cb          Callback[T]
	tail        atomix.Uint32
	ring        []atomix.Pointer[T]
	dummy       T
}

// Dummy returns a sentinel *T usable in Release to reserve a slot
// without delivering a real element through cb — the Go equivalent of
// P64_REORDER_DUMMY, compared by pointer identity rather than by a
// magic address.
func (b *Buffer[T]) Dummy() *T { return &b.dummy }

// NewBuffer allocates a reorder buffer with room for at least nelems
// elements (rounded up to a power of two). If userAcquire is true, the
// caller manages sequence numbers itself (Release may be called with
// an sn outside the current window, and will spin until it fits).
func NewBuffer[T any](nelems uint32, userAcquire bool, cb Callback[T]) *Buffer[T] {
	if nelems < 1 || nelems > 0x80000000 {
		conc64.ReportError("reorder", "invalid reorder buffer size", uintptr(nelems))
		return nil
	}
	size := roundUpPow2(nelems)
	b := &Buffer[T]{
		mask:        size - 1,
		userAcquire: userAcquire,
		cb:          cb,
		ring:        make([]atomix.Pointer[T], size),
	}
	b.hi.StoreRelease(&hiState{})
	return b
}

// Acquire reserves up to requested consecutive sequence numbers,
// returning how many were actually reserved (possibly 0 if the buffer
// is full) and the first reserved sequence number in *sn.
func (b *Buffer[T]) Acquire(requested uint32, sn *uint32) uint32 {
	tail := b.tail.LoadRelaxed()
	for {
		head := b.hi.LoadAcquire().head
		available := int32(b.mask+1) - int32(tail-head)
		actual := requested
		if available < int32(actual) {
			if available <= 0 {
				return 0
			}
			actual = uint32(available)
		}
		if !b.tail.CompareAndSwapRelaxed(tail, tail+actual) {
			tail = b.tail.LoadRelaxed()
			continue
		}
		*sn = tail
		return actual
	}
}

// Release inserts elems at consecutive sequence numbers starting at
// sn. If that makes the buffer's head element(s) available, Release
// retires every now-consecutive element via cb (ending the run with a
// nil-elem call) before returning.
func (b *Buffer[T]) Release(sn uint32, elems []*T) {
	mask := b.mask
	if b.userAcquire {
		sz := mask + 1
		var w spin.Wait
		for after(sn+uint32(len(elems)), b.hi.LoadAcquire().head+sz) {
			w.Once()
		}
	} else if after(sn+uint32(len(elems)), b.tail.LoadRelaxed()) {
		conc64.ReportError("reorder", "invalid sequence number", uintptr(sn+uint32(len(elems))))
		return
	}

	for i, e := range elems {
		if e == nil {
			conc64.ReportError("reorder", "invalid nil element", 0)
			return
		}
		b.ring[(sn+uint32(i))&mask].StoreRelease(e)
	}

	old := b.hi.LoadAcquire()
	for before(old.head, sn) || !before(old.head, sn+uint32(len(elems))) {
		// Out of order: bump chgi so an in-order releaser notices new
		// arrivals, but head does not move.
		next := &hiState{head: old.head, chgi: old.chgi + 1}
		if b.hi.CompareAndSwapAcqRel(old, next) {
			return
		}
		old = b.hi.LoadAcquire()
	}

	// We hold the in-order slot; retire every consecutive element.
	head := old.head
	npending := 0
	for {
		for {
			elem := b.ring[head&mask].LoadAcquire()
			if elem == nil {
				break
			}
			b.ring[head&mask].StoreRelaxed(nil)
			if elem != b.Dummy() {
				b.cb(elem, head)
				npending++
			}
			head++
		}
		if npending != 0 {
			b.cb(nil, head)
			npending = 0
		}
		next := &hiState{head: head, chgi: old.chgi}
		if b.hi.CompareAndSwapAcqRel(old, next) {
			return
		}
		old = b.hi.LoadAcquire()
		head = old.head
	}
}
