// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hopscotch implements a hopscotch hash table with a linear
// probing overflow cellar, mirroring progress64's p64_hopscotch and the
// Herlihy/Shavit/Tzafrir hopscotch hashing design it is built on. Every
// bucket records, in its own neighborhood bitmap, which of the next
// neighborhoodSize buckets currently holds an element whose home bucket
// is this one; lookups only ever need to scan that fixed-size
// neighborhood instead of walking an open chain.
package hopscotch

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/conc64/smr"
)

// neighborhoodSize is the width of a bucket's neighborhood bitmap. The
// original sizes this to fill a pointer-width bitfield alongside a
// signature and change counter; conc64 keeps the bitmap itself (the
// part that is load-bearing for the algorithm) and drops the packed
// signature/counter fields, which existed to let the C version avoid a
// second cache-line fetch, not to implement the hashing scheme.
const neighborhoodSize = 32

// CompareFunc reports whether elem matches key, mirroring the
// original's comparator; only the zero result is consulted.
type CompareFunc[T any] func(elem *Elem[T], key any) int

// Elem is a hash table node.
type Elem[T any] struct {
	Hash  uint64
	Value T
}

type bucketState[T any] struct {
	elem    *Elem[T]
	bitmap  uint32 // bit i: neighbor bucket home+i holds an element whose home is this bucket
	cellar  bool   // an element whose home is this bucket overflowed into the cellar
}

type cellState[T any] struct {
	elem *Elem[T]
}

// Table is a hopscotch hash table of Elem[T] nodes. The zero value is
// not usable; use [New].
type Table[T any] struct {
	buckets []atomix.Pointer[bucketState[T]]
	cellar  []atomix.Pointer[cellState[T]]
	cf      CompareFunc[T]
	hpDom   *smr.HPDomain

	// mu serializes the hop-search/displacement bookkeeping that Insert
	// performs to make room within a home bucket's neighborhood. Lookup
	// and Remove never take it: both only ever CAS a single bucket or
	// cellar slot, so they stay lock-free against concurrent readers and
	// against each other.
	mu sync.Mutex
}

// New creates a table with nbkts main buckets and ncells overflow
// cellar slots, comparing keys with cf. hpDom is required (and only
// used) when useHP is true; it must outlive the table.
func New[T any](nbkts, ncells uint32, cf CompareFunc[T], useHP bool, hpDom *smr.HPDomain) *Table[T] {
	if cf == nil {
		conc64.ReportError("hopscotch", "nil compare function", 0)
		return nil
	}
	if useHP && hpDom == nil {
		conc64.ReportError("hopscotch", "hazard pointer mode requires a domain", 0)
	}
	t := &Table[T]{
		buckets: make([]atomix.Pointer[bucketState[T]], nbkts),
		cellar:  make([]atomix.Pointer[cellState[T]], ncells),
		cf:      cf,
		hpDom:   hpDom,
	}
	for i := range t.buckets {
		t.buckets[i].StoreRelaxed(&bucketState[T]{})
	}
	for i := range t.cellar {
		t.cellar[i].StoreRelaxed(&cellState[T]{})
	}
	if !useHP {
		t.hpDom = nil
	}
	return t
}

func (t *Table[T]) home(hash uint64) uint32 { return uint32(hash % uint64(len(t.buckets))) }

func (t *Table[T]) ringAdd(a, b uint32) uint32 {
	n := uint32(len(t.buckets))
	s := a + b
	if s >= n {
		s -= n
	}
	return s
}

func (t *Table[T]) acquireBucket(th *smr.Thread, hp *smr.Hazard, idx uint32) *bucketState[T] {
	if t.hpDom != nil {
		return smr.Acquire(th, &t.buckets[idx], hp)
	}
	return t.buckets[idx].LoadAcquire()
}

func (t *Table[T]) release(th *smr.Thread, hp *smr.Hazard) {
	if t.hpDom != nil {
		smr.Release(th, hp)
	}
}

// Lookup returns the first live element matching key under hash, or
// nil. Under hazard-pointer mode th must be registered with the
// table's domain; under QSBR mode the caller must bracket the call
// with its own QSBR acquire/release.
func (t *Table[T]) Lookup(th *smr.Thread, key any, hash uint64) *Elem[T] {
	home := t.home(hash)
	var hp smr.Hazard
	st := t.acquireBucket(th, &hp, home)
	bitmap := st.bitmap
	inCellar := st.cellar
	t.release(th, &hp)

	for bitmap != 0 {
		off := trailingZero32(bitmap)
		bitmap &= bitmap - 1
		idx := t.ringAdd(home, off)
		var bhp smr.Hazard
		bst := t.acquireBucket(th, &bhp, idx)
		e := bst.elem
		t.release(th, &bhp)
		if e != nil && e.Hash == hash && t.cf(e, key) == 0 {
			return e
		}
	}
	if inCellar {
		for i := range t.cellar {
			c := t.cellar[i].LoadAcquire()
			if c.elem != nil && c.elem.Hash == hash && t.cf(c.elem, key) == 0 {
				return c.elem
			}
		}
	}
	return nil
}

func trailingZero32(x uint32) uint32 {
	n := uint32(0)
	for x&1 == 0 {
		x >>= 1
		n++
	}
	return n
}

// Insert adds elem under hash, reporting whether it succeeded (it
// fails only if the table and cellar are both full, or elem's exact
// target slot loses a race it cannot recover from).
func (t *Table[T]) Insert(elem *Elem[T], hash uint64) bool {
	if elem == nil {
		conc64.ReportError("hopscotch", "insert nil element", 0)
		return false
	}
	elem.Hash = hash
	home := t.home(hash)

	t.mu.Lock()
	defer t.mu.Unlock()

	free, ok := t.findFreeSlot(home)
	if !ok {
		return t.insertCellar(home, elem)
	}
	for {
		dist := t.ringSub(free, home)
		if dist < neighborhoodSize {
			break
		}
		moved, ok := t.hopCloser(home, free)
		if !ok {
			return t.insertCellar(home, elem)
		}
		free = moved
	}
	old := t.buckets[free].LoadAcquire()
	t.buckets[free].StoreRelease(&bucketState[T]{elem: elem})
	_ = old
	dist := t.ringSub(free, home)
	hst := t.buckets[home].LoadAcquire()
	t.buckets[home].StoreRelease(&bucketState[T]{elem: hst.elem, bitmap: hst.bitmap | (1 << dist), cellar: hst.cellar})
	return true
}

func (t *Table[T]) ringSub(a, b uint32) uint32 {
	n := uint32(len(t.buckets))
	if a >= b {
		return a - b
	}
	return a + n - b
}

// findFreeSlot linearly probes forward from home for an empty bucket.
func (t *Table[T]) findFreeSlot(home uint32) (uint32, bool) {
	n := uint32(len(t.buckets))
	for d := uint32(0); d < n; d++ {
		idx := t.ringAdd(home, d)
		if t.buckets[idx].LoadAcquire().elem == nil {
			return idx, true
		}
	}
	return 0, false
}

// hopCloser finds some bucket k within neighborhoodSize-1 slots before
// free whose neighborhood contains an element it can relocate into
// free, moves that element, and returns free's new (closer) position.
func (t *Table[T]) hopCloser(home, free uint32) (uint32, bool) {
	for back := uint32(neighborhoodSize - 1); back >= 1; back-- {
		k := t.ringSub(free, back)
		kst := t.buckets[k].LoadAcquire()
		maxOff := t.ringSub(free, k)
		bitmap := kst.bitmap
		for bitmap != 0 {
			off := trailingZero32(bitmap)
			bitmap &= bitmap - 1
			if off >= maxOff {
				continue
			}
			src := t.ringAdd(k, off)
			srcSt := t.buckets[src].LoadAcquire()
			if srcSt.elem == nil {
				continue
			}
			freeSt := t.buckets[free].LoadAcquire()
			if freeSt.elem != nil {
				// A concurrent writer already claimed free; give up on
				// this hop and let the caller re-probe from scratch.
				return 0, false
			}
			// Claim the destination before clearing the source so a
			// concurrent Remove of srcSt.elem (which only ever CASes a
			// single bucket) cannot resurrect it by racing this move.
			if !t.buckets[free].CompareAndSwapAcqRel(freeSt, &bucketState[T]{elem: srcSt.elem}) {
				return 0, false
			}
			if !t.buckets[src].CompareAndSwapAcqRel(srcSt, &bucketState[T]{}) {
				// Lost the race on the source (concurrent Remove beat
				// us to it); undo the claim on free and bail out.
				t.buckets[free].StoreRelease(freeSt)
				return 0, false
			}
			newOff := t.ringSub(free, k)
			for {
				cur := t.buckets[k].LoadAcquire()
				next := &bucketState[T]{
					elem:   cur.elem,
					bitmap: (cur.bitmap &^ (1 << off)) | (1 << newOff),
					cellar: cur.cellar,
				}
				if t.buckets[k].CompareAndSwapAcqRel(cur, next) {
					break
				}
			}
			return src, true
		}
		if k == home {
			break
		}
	}
	return 0, false
}

func (t *Table[T]) insertCellar(home uint32, elem *Elem[T]) bool {
	for i := range t.cellar {
		if c := t.cellar[i].LoadAcquire(); c.elem == nil {
			if t.cellar[i].CompareAndSwapAcqRel(c, &cellState[T]{elem: elem}) {
				hst := t.buckets[home].LoadAcquire()
				t.buckets[home].StoreRelease(&bucketState[T]{elem: hst.elem, bitmap: hst.bitmap, cellar: true})
				return true
			}
		}
	}
	conc64.ReportError("hopscotch", "table full", 0)
	return false
}

// Remove unlinks elem, reporting whether it was found.
func (t *Table[T]) Remove(elem *Elem[T], hash uint64) bool {
	home := t.home(hash)
	st := t.buckets[home].LoadAcquire()
	bitmap := st.bitmap
	for bitmap != 0 {
		off := trailingZero32(bitmap)
		bitmap &= bitmap - 1
		idx := t.ringAdd(home, off)
		bst := t.buckets[idx].LoadAcquire()
		if bst.elem == elem {
			if t.buckets[idx].CompareAndSwapAcqRel(bst, &bucketState[T]{}) {
				t.clearBit(home, off)
				return true
			}
			return false
		}
	}
	if st.cellar {
		for i := range t.cellar {
			c := t.cellar[i].LoadAcquire()
			if c.elem == elem {
				return t.cellar[i].CompareAndSwapAcqRel(c, &cellState[T]{})
			}
		}
	}
	return false
}

// RemoveByKey finds and removes the first live element matching key
// under hash, returning it (or nil if none matched).
func (t *Table[T]) RemoveByKey(key any, hash uint64) *Elem[T] {
	home := t.home(hash)
	st := t.buckets[home].LoadAcquire()
	bitmap := st.bitmap
	for bitmap != 0 {
		off := trailingZero32(bitmap)
		bitmap &= bitmap - 1
		idx := t.ringAdd(home, off)
		bst := t.buckets[idx].LoadAcquire()
		e := bst.elem
		if e != nil && e.Hash == hash && t.cf(e, key) == 0 {
			if t.buckets[idx].CompareAndSwapAcqRel(bst, &bucketState[T]{}) {
				t.clearBit(home, off)
				return e
			}
			return nil
		}
	}
	if st.cellar {
		for i := range t.cellar {
			c := t.cellar[i].LoadAcquire()
			if c.elem != nil && c.elem.Hash == hash && t.cf(c.elem, key) == 0 {
				if t.cellar[i].CompareAndSwapAcqRel(c, &cellState[T]{}) {
					return c.elem
				}
				return nil
			}
		}
	}
	return nil
}

func (t *Table[T]) clearBit(home, off uint32) {
	for {
		hst := t.buckets[home].LoadAcquire()
		next := &bucketState[T]{elem: hst.elem, bitmap: hst.bitmap &^ (1 << off), cellar: hst.cellar}
		if t.buckets[home].CompareAndSwapAcqRel(hst, next) {
			return
		}
	}
}

// Traverse calls cb for every live element in the table, including the
// cellar. idx is the bucket or cellar index; isCellar reports which.
func (t *Table[T]) Traverse(cb func(elem *Elem[T], idx uint32, isCellar bool)) {
	for i := range t.buckets {
		if e := t.buckets[i].LoadAcquire().elem; e != nil {
			cb(e, uint32(i), false)
		}
	}
	for i := range t.cellar {
		if e := t.cellar[i].LoadAcquire().elem; e != nil {
			cb(e, uint32(i), true)
		}
	}
}
