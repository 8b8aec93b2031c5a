// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reorder

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/spin"
)

// BuckBuffer is a scalable non-blocking reorder buffer using the
// "pass-the-buck" algorithm: responsibility for retiring in-order
// elements is handed from releaser to releaser via a CAS on the ring
// slot itself, so only one goroutine is ever scanning the ring at a
// time, and out-of-order releasers never scan at all. Grounded on
// p64_buckrob.h and p64_buckrob.c.
type BuckBuffer[T any] struct {
	mask        uint32
	userAcquire bool
	cb          Callback[T]
	head        atomix.Uint32
	tail        atomix.Uint32
	ring        []atomix.Pointer[T]
	buck        T // sentinel marking "this slot holds the in-order token"
	reserved    T // sentinel forbidden as a real element (P64_BUCKROB_RESERVED_ELEM)
}

// NewBuckBuffer allocates a pass-the-buck reorder buffer with room for
// at least nelems elements (rounded up to a power of two).
func NewBuckBuffer[T any](nelems uint32, userAcquire bool, cb Callback[T]) *BuckBuffer[T] {
	if nelems < 1 || nelems > 0x80000000 {
		conc64.ReportError("reorder", "invalid buckrob size", uintptr(nelems))
		return nil
	}
	size := roundUpPow2(nelems)
	b := &BuckBuffer[T]{
		mask:        size - 1,
		userAcquire: userAcquire,
		cb:          cb,
		ring:        make([]atomix.Pointer[T], size),
	}
	// Slot 0 starts holding the in-order token, exactly as
	// p64_buckrob_alloc seeds ring[0] with THE_BUCK.
	b.ring[0].StoreRelaxed(&b.buck)
	return b
}

// theBuck returns the sentinel that marks a slot as currently holding
// the in-order retirement token.
func (b *BuckBuffer[T]) theBuck() *T { return &b.buck }

// Reserved returns a sentinel forbidden as a real element in elems —
// reserving it is a caller bug, not a valid placeholder (unlike
// Buffer.Dummy in the strict variant).
func (b *BuckBuffer[T]) Reserved() *T { return &b.reserved }

// Acquire reserves up to requested consecutive sequence numbers; see
// Buffer.Acquire for the shared semantics (this type uses plain head
// instead of head+chgi since retirement never races with itself).
func (b *BuckBuffer[T]) Acquire(requested uint32, sn *uint32) uint32 {
	tail := b.tail.LoadRelaxed()
	for {
		head := b.head.LoadAcquire()
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
// sn. If no prior releaser has passed it the buck yet, the caller only
// stores elems[0] in its slot and returns immediately (out-of-order),
// leaving its retirement to whoever later holds the buck; otherwise it has
// just received the buck and becomes responsible for retiring every
// now-consecutive element, passing the buck on to whichever releaser
// arrives next before returning.
func (b *BuckBuffer[T]) Release(sn uint32, elems []*T) {
	if len(elems) == 0 {
		return
	}
	mask := b.mask
	if b.userAcquire {
		sz := mask + 1
		var w spin.Wait
		for after(sn+uint32(len(elems)), b.head.LoadAcquire()+sz) {
			w.Once()
		}
	} else if after(sn+uint32(len(elems)), b.tail.LoadRelaxed()) {
		conc64.ReportError("reorder", "invalid sequence number", uintptr(sn+uint32(len(elems))))
		return
	}

	for i := 1; i < len(elems); i++ {
		b.ring[(sn+uint32(i))&mask].StoreRelaxed(elems[i])
	}

	elem := elems[0]
	if elem == nil || elem == b.theBuck() || elem == b.Reserved() {
		conc64.ReportError("reorder", "invalid element", 0)
		return
	}
	if b.ring[sn&mask].CompareAndSwapAcqRel(nil, elem) {
		// Succeeded: slot was empty, so we are out of order.
		return
	}
	// Failed: the slot held the buck, so we are now in order and
	// responsible for retiring elements.
	npending := 0
	orgSn := sn
	b.ring[sn&mask].StoreRelaxed(nil)
	b.cb(elem, sn)
	sn++
	npending++
	elem = b.ring[sn&mask].LoadAcquire()
	for {
		for elem != nil {
			b.ring[sn&mask].StoreRelaxed(nil)
			b.cb(elem, sn)
			sn++
			npending++
			elem = b.ring[sn&mask].LoadAcquire()
		}
		if npending != 0 {
			b.cb(nil, sn)
			npending = 0
		}
		if b.ring[sn&mask].CompareAndSwapAcqRel(nil, b.theBuck()) {
			break
		}
		elem = b.ring[sn&mask].LoadAcquire()
	}
	b.head.AddAcqRel(sn - orgSn)
}
