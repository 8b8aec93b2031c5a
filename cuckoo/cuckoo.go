// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cuckoo implements a two-choice cuckoo hash table with a
// linear-probed overflow cellar, mirroring progress64's p64_cuckooht.
// Every element has two candidate buckets; insertion that finds both
// full displaces an existing element into its own alternate bucket
// (recursively, up to a bounded chain) before giving up and falling
// back to the cellar.
package cuckoo

import (
	"hash/crc32"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
)

// bktSize is the number of slots per bucket. The original sizes this
// to fill one cache line alongside a truncated-hash signature array
// and a change counter; conc64 drops both (see DESIGN.md) and keeps
// just the slot count that fit a cache line in the original layout.
const bktSize = 8

// maxDisplace bounds how many buckets an insert will displace elements
// through before giving up and using the cellar, the same "give up and
// rehash/grow" escape valve real cuckoo tables need, translated here
// into "give up and use the overflow cellar" since conc64 does not
// implement online resizing.
const maxDisplace = 8

// CompareFunc reports whether elem matches key, mirroring the
// original's comparator; only the zero result is consulted.
type CompareFunc[T any] func(elem *Elem[T], key any) int

// Elem is a hash table node.
type Elem[T any] struct {
	Hash  uint64
	Value T
}

type cellState[T any] struct {
	hash uint64
	elem *Elem[T]
}

// Table is a cuckoo hash table of Elem[T] nodes. The zero value is not
// usable; use [New].
type Table[T any] struct {
	nbkts   uint32
	buckets []atomix.Pointer[Elem[T]] // nbkts*bktSize slots, row-major
	cellar  []atomix.Pointer[cellState[T]]
	cf      CompareFunc[T]

	// mu serializes the displacement chain an insert may need to walk.
	// Lookup and Remove never take it; both only ever touch individual
	// slots with a single CAS.
	mu sync.Mutex
}

// New creates a table with at least nbkts buckets of bktSize slots
// each (nbkts rounded up to a power of two) and ncells overflow cellar
// slots, comparing keys with cf.
func New[T any](nbkts, ncells uint32, cf CompareFunc[T]) *Table[T] {
	if cf == nil {
		conc64.ReportError("cuckoo", "nil compare function", 0)
		return nil
	}
	size := nextPow2(nbkts)
	t := &Table[T]{
		nbkts:   size,
		buckets: make([]atomix.Pointer[Elem[T]], size*bktSize),
		cellar:  make([]atomix.Pointer[cellState[T]], ncells),
		cf:      cf,
	}
	for i := range t.cellar {
		t.cellar[i].StoreRelaxed(&cellState[T]{})
	}
	return t
}

func nextPow2(x uint32) uint32 {
	if x < 1 {
		x = 1
	}
	p := uint32(1)
	for p < x {
		p <<= 1
	}
	return p
}

func (t *Table[T]) bucket0(hash uint64) uint32 { return uint32(hash % uint64(t.nbkts)) }

// bucket1 derives the alternate bucket from a CRC32 of the hash, the
// same one-hash-two-buckets trick the original uses with a hardware
// CRC32C intrinsic. Go has no portable CRC32C equivalent in the
// observed stack, so this uses the standard library's CRC32 (IEEE
// polynomial): it only needs to mix hash into a second,
// well-distributed bucket index, a role any good hash mixer can fill.
func (t *Table[T]) bucket1(bix0 uint32, hash uint64) uint32 {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(hash >> (8 * i))
	}
	bix1 := crc32.ChecksumIEEE(buf[:]) % t.nbkts
	if bix1 == bix0 {
		bix1 = (bix1 + 1) % t.nbkts
	}
	return bix1
}

func (t *Table[T]) slots(bix uint32) []atomix.Pointer[Elem[T]] {
	return t.buckets[bix*bktSize : bix*bktSize+bktSize]
}

// Lookup returns the first live element matching key under hash, or
// nil. Caller must bracket with QSBR acquire/release or equivalent
// hazard-pointer-protected reads appropriate to its reclamation mode;
// conc64 does not itself protect individual Elem pointers here since,
// unlike hashtable/hopscotch, a cuckoo slot's occupant is swapped, not
// logically marked then physically unlinked.
func (t *Table[T]) Lookup(key any, hash uint64) *Elem[T] {
	bix0 := t.bucket0(hash)
	bix1 := t.bucket1(bix0, hash)
	for _, bix := range [2]uint32{bix0, bix1} {
		for _, s := range t.slots(bix) {
			e := s.LoadAcquire()
			if e != nil && e.Hash == hash && t.cf(e, key) == 0 {
				return e
			}
		}
	}
	start := uint32(hash) % uint32(max(len(t.cellar), 1))
	for i := 0; i < len(t.cellar); i++ {
		idx := (start + uint32(i)) % uint32(len(t.cellar))
		c := t.cellar[idx].LoadAcquire()
		if c.elem != nil && c.hash == hash && t.cf(c.elem, key) == 0 {
			return c.elem
		}
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Insert adds elem under hash, reporting whether it succeeded (it
// fails only when both candidate buckets, every bucket reachable
// through a bounded displacement chain, and the cellar are all full).
func (t *Table[T]) Insert(elem *Elem[T], hash uint64) bool {
	if elem == nil {
		conc64.ReportError("cuckoo", "insert nil element", 0)
		return false
	}
	elem.Hash = hash
	bix0 := t.bucket0(hash)
	bix1 := t.bucket1(bix0, hash)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tryInsertBucket(bix0, elem) || t.tryInsertBucket(bix1, elem) {
		return true
	}
	if t.relocate(bix0, maxDisplace) && t.tryInsertBucket(bix0, elem) {
		return true
	}
	if t.relocate(bix1, maxDisplace) && t.tryInsertBucket(bix1, elem) {
		return true
	}
	return t.insertCellar(elem, hash)
}

func (t *Table[T]) tryInsertBucket(bix uint32, elem *Elem[T]) bool {
	for _, s := range t.slots(bix) {
		if s.LoadAcquire() == nil && s.CompareAndSwapAcqRel(nil, elem) {
			return true
		}
	}
	return false
}

// relocate tries to free up one slot in bucket bix by moving one of
// its occupants into that occupant's own alternate bucket, recursing
// up to depth times when that alternate bucket is itself full.
func (t *Table[T]) relocate(bix uint32, depth int) bool {
	if depth == 0 {
		return false
	}
	slots := t.slots(bix)
	for i := range slots {
		e := slots[i].LoadAcquire()
		if e == nil {
			continue
		}
		b0 := t.bucket0(e.Hash)
		alt := t.bucket1(b0, e.Hash)
		if alt == bix {
			alt = b0
		}
		if t.tryInsertBucket(alt, e) {
			// Clear the source only after the destination is published;
			// a concurrent lookup may briefly see e in both slots, never
			// in neither.
			slots[i].CompareAndSwapAcqRel(e, nil)
			return true
		}
		if t.relocate(alt, depth-1) && t.tryInsertBucket(alt, e) {
			slots[i].CompareAndSwapAcqRel(e, nil)
			return true
		}
	}
	return false
}

func (t *Table[T]) insertCellar(elem *Elem[T], hash uint64) bool {
	if len(t.cellar) == 0 {
		conc64.ReportError("cuckoo", "table full", 0)
		return false
	}
	start := uint32(hash) % uint32(len(t.cellar))
	for i := 0; i < len(t.cellar); i++ {
		idx := (start + uint32(i)) % uint32(len(t.cellar))
		if c := t.cellar[idx].LoadAcquire(); c.elem == nil {
			if t.cellar[idx].CompareAndSwapAcqRel(c, &cellState[T]{hash: hash, elem: elem}) {
				return true
			}
		}
	}
	conc64.ReportError("cuckoo", "table full", 0)
	return false
}

// Remove unlinks elem, reporting whether it was found.
func (t *Table[T]) Remove(elem *Elem[T], hash uint64) bool {
	bix0 := t.bucket0(hash)
	bix1 := t.bucket1(bix0, hash)
	for _, bix := range [2]uint32{bix0, bix1} {
		for _, s := range t.slots(bix) {
			if s.LoadAcquire() == elem {
				return s.CompareAndSwapAcqRel(elem, nil)
			}
		}
	}
	for i := range t.cellar {
		c := t.cellar[i].LoadAcquire()
		if c.elem == elem {
			return t.cellar[i].CompareAndSwapAcqRel(c, &cellState[T]{})
		}
	}
	return false
}

// Traverse calls cb for every live element in the table, including the
// cellar.
func (t *Table[T]) Traverse(cb func(elem *Elem[T], idx uint32, isCellar bool)) {
	for i := range t.buckets {
		if e := t.buckets[i].LoadAcquire(); e != nil {
			cb(e, uint32(i), false)
		}
	}
	for i := range t.cellar {
		if c := t.cellar[i].LoadAcquire(); c.elem != nil {
			cb(c.elem, uint32(i), true)
		}
	}
}
