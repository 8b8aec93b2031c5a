// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mbtrie implements longest-prefix-match (LPM) lookup over a
// non-blocking multi-bit trie, mirroring progress64's p64_mbtrie. Keys
// are up to 64 bits, consumed from the most significant bit; each trie
// level consumes a configurable number of bits (its "stride") and
// holds 2^stride entries. Inserting a prefix shorter than the sum of
// strides walked so far fills every entry in the range it covers, so a
// lookup that never needs to descend past that level still finds the
// right (possibly less specific) match.
package mbtrie

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/conc64/smr"
)

// FreeFunc is called once an element's reference count (the number of
// trie slots currently pointing at it) drops to zero, mirroring the
// original's refcnt_zero_cb.
type FreeFunc[T any] func(elem *Elem[T])

// Elem is a trie leaf payload. The same *Elem[T] may be referenced by
// many trie slots at once (every entry covered by a shorter-or-equal
// prefix insert shares it); the unexported refcount field tracks how many.
type Elem[T any] struct {
	Value    T
	refcount atomix.Int64
}

// slot is a trie entry's state: the best (possibly inherited) element
// covering this position, the prefix length that installed it, and an
// optional pointer to a more specific subtrie. The original packs a
// "this pointer is a child subtrie, not a leaf" tag and a prefix length
// into the low/high bits of a single pointer-sized word (VECTOR_BIT,
// GET_PFXLEN/SET_PFXLEN); conc64 keeps both a leaf reference and a
// child pointer live in the same entry simultaneously instead of
// choosing one via a tag bit, since a node can legitimately need both
// at once (a shorter covering prefix and a more specific subtrie below
// it), boxed into one record CAS'd atomically.
type slot[T any] struct {
	elem   *Elem[T]
	pfxlen uint32
	child  *node[T]
}

type node[T any] struct {
	entries []atomix.Pointer[slot[T]]
}

func newNode[T any](stride uint32) *node[T] {
	n := &node[T]{entries: make([]atomix.Pointer[slot[T]], uint64(1)<<stride)}
	for i := range n.entries {
		n.entries[i].StoreRelaxed(&slot[T]{})
	}
	return n
}

// Trie is a multi-bit LPM trie. The zero value is not usable; use
// [New].
type Trie[T any] struct {
	strides []uint32 // bits consumed per level; must sum to 64
	root    *node[T]
	freeCB  FreeFunc[T]
	hpDom   *smr.HPDomain
}

// New creates a trie whose levels consume the given strides (which
// must sum to exactly 64), invoking freeCB whenever an element's
// reference count reaches zero. hpDom is required for [Trie.Lookup].
func New[T any](strides []uint32, freeCB FreeFunc[T], hpDom *smr.HPDomain) *Trie[T] {
	var sum uint32
	for _, s := range strides {
		sum += s
	}
	if sum != 64 || len(strides) == 0 {
		conc64.ReportError("mbtrie", "strides must sum to 64", uintptr(sum))
		return nil
	}
	return &Trie[T]{
		strides: append([]uint32(nil), strides...),
		root:    newNode[T](strides[0]),
		freeCB:  freeCB,
		hpDom:   hpDom,
	}
}

func (tr *Trie[T]) incrRefcount(elem *Elem[T], n int64) {
	if elem != nil {
		elem.refcount.AddAcqRel(n)
	}
}

func (tr *Trie[T]) decrRefcount(elem *Elem[T], n int64) {
	if elem == nil || n == 0 {
		return
	}
	if elem.refcount.AddAcqRel(-n) == 0 && tr.freeCB != nil {
		tr.freeCB(elem)
	}
}

// Insert installs elem for pfx/pfxlen, concealing any element
// previously covering an equal or shorter prefix within that range.
func (tr *Trie[T]) Insert(pfx uint64, pfxlen uint32, elem *Elem[T]) {
	if pfxlen > 64 {
		conc64.ReportError("mbtrie", "prefix length exceeds 64", uintptr(pfxlen))
		return
	}
	n := tr.root
	var consumed uint32
	for level, stride := range tr.strides {
		remain := pfxlen - consumed
		if remain <= stride {
			hiShift := uint(64 - consumed - remain)
			hiBits := uint32((pfx >> hiShift) & ((uint64(1) << remain) - 1))
			count := uint32(1) << (stride - remain)
			base := hiBits << (stride - remain)
			tr.fillRange(n, base, count, pfxlen, elem)
			return
		}
		idxShift := uint(64 - consumed - stride)
		idx := uint32((pfx >> idxShift) & ((uint64(1) << stride) - 1))
		n = tr.ensureChild(n, idx, level+1)
		consumed += stride
	}
}

func (tr *Trie[T]) fillRange(n *node[T], base, count, pfxlen uint32, elem *Elem[T]) {
	tr.incrRefcount(elem, int64(count))
	for i := uint32(0); i < count; i++ {
		s := &n.entries[base+i]
		for {
			old := s.LoadAcquire()
			if old.pfxlen > pfxlen {
				// A more specific prefix already occupies this exact
				// entry (reached via a different, deeper insert); leave
				// it alone.
				tr.decrRefcount(elem, 1)
				break
			}
			next := &slot[T]{elem: elem, pfxlen: pfxlen, child: old.child}
			if s.CompareAndSwapAcqRel(old, next) {
				tr.decrRefcount(old.elem, 1)
				break
			}
		}
	}
}

func (tr *Trie[T]) ensureChild(n *node[T], idx uint32, level int) *node[T] {
	for {
		old := n.entries[idx].LoadAcquire()
		if old.child != nil {
			return old.child
		}
		child := newNode[T](tr.strides[level])
		next := &slot[T]{elem: old.elem, pfxlen: old.pfxlen, child: child}
		if n.entries[idx].CompareAndSwapAcqRel(old, next) {
			return child
		}
	}
}

// Remove replaces old with new (which may be nil) at every entry in
// pfx/pfxlen's range that currently holds old. Entries it doesn't own
// (already changed by a concurrent writer) are left untouched.
func (tr *Trie[T]) Remove(pfx uint64, pfxlen uint32, old, new *Elem[T]) {
	n := tr.root
	var consumed uint32
	for _, stride := range tr.strides {
		remain := pfxlen - consumed
		if remain <= stride {
			hiShift := uint(64 - consumed - remain)
			hiBits := uint32((pfx >> hiShift) & ((uint64(1) << remain) - 1))
			count := uint32(1) << (stride - remain)
			base := hiBits << (stride - remain)
			tr.replaceRange(n, base, count, pfxlen, old, new)
			return
		}
		idxShift := uint(64 - consumed - stride)
		idx := uint32((pfx >> idxShift) & ((uint64(1) << stride) - 1))
		st := n.entries[idx].LoadAcquire()
		if st.child == nil {
			return
		}
		n = st.child
		consumed += stride
	}
}

func (tr *Trie[T]) replaceRange(n *node[T], base, count, pfxlen uint32, old, new *Elem[T]) {
	var replaced uint32
	for i := uint32(0); i < count; i++ {
		s := &n.entries[base+i]
		for {
			cur := s.LoadAcquire()
			if cur.elem != old {
				break
			}
			next := &slot[T]{elem: new, pfxlen: pfxlen, child: cur.child}
			if s.CompareAndSwapAcqRel(cur, next) {
				replaced++
				break
			}
		}
	}
	if replaced > 0 {
		tr.incrRefcount(new, int64(replaced))
		tr.decrRefcount(old, int64(replaced))
	}
}

// Lookup returns the longest-prefix match for key, or nil. Requires
// hazard-pointer mode (the trie was created with a non-nil hpDom); th
// must be registered with that domain. The returned Hazard must always
// be released, even when the result is nil.
func (tr *Trie[T]) Lookup(th *smr.Thread, key uint64) (*Elem[T], smr.Hazard) {
	return tr.lookupHP(th, tr.root, key, 0, nil, smr.Hazard{})
}

func (tr *Trie[T]) lookupHP(th *smr.Thread, n *node[T], key uint64, consumed uint32, best *Elem[T], bestHP smr.Hazard) (*Elem[T], smr.Hazard) {
	for level := 0; ; level++ {
		if level >= len(tr.strides) {
			return best, bestHP
		}
		stride := tr.strides[level]
		idxShift := uint(64 - consumed - stride)
		idx := uint32((key >> idxShift) & ((uint64(1) << stride) - 1))
		var hp smr.Hazard
		st := smr.Acquire(th, &n.entries[idx], &hp)
		if st.elem != nil {
			smr.Release(th, &bestHP)
			best, bestHP = st.elem, hp
		} else {
			smr.Release(th, &hp)
		}
		if st.child == nil {
			return best, bestHP
		}
		n = st.child
		consumed += stride
	}
}

// LookupVec looks up several keys at once under a QSBR grace period
// (qt must be registered with the caller's QSBR domain), returning a
// bitmask of which results were non-nil.
func (tr *Trie[T]) LookupVec(qt *smr.QSBRThread, keys []uint64, results []*Elem[T]) uint64 {
	qt.Acquire()
	defer qt.Release()
	var mask uint64
	for i, key := range keys {
		results[i] = tr.lookupPlain(key)
		if results[i] != nil {
			mask |= uint64(1) << uint(i)
		}
	}
	return mask
}

func (tr *Trie[T]) lookupPlain(key uint64) *Elem[T] {
	n := tr.root
	var best *Elem[T]
	var consumed uint32
	for _, stride := range tr.strides {
		idxShift := uint(64 - consumed - stride)
		idx := uint32((key >> idxShift) & ((uint64(1) << stride) - 1))
		st := n.entries[idx].LoadAcquire()
		if st.elem != nil {
			best = st.elem
		}
		if st.child == nil {
			break
		}
		n = st.child
		consumed += stride
	}
	return best
}

// Traverse calls cb for every occupied trie entry, reconstructing the
// prefix and prefix length each was inserted with; actlen is the
// number of bits actually consumed to reach that entry's level.
func (tr *Trie[T]) Traverse(cb func(pfx uint64, pfxlen uint32, elem *Elem[T], actlen uint32)) {
	tr.traverseNode(tr.root, 0, 0, 0, cb)
}

func (tr *Trie[T]) traverseNode(n *node[T], level int, consumed uint32, prefix uint64, cb func(uint64, uint32, *Elem[T], uint32)) {
	if level >= len(tr.strides) {
		return
	}
	stride := tr.strides[level]
	for idx := range n.entries {
		st := n.entries[idx].LoadAcquire()
		pfx := prefix | (uint64(idx) << (64 - consumed - stride))
		if st.elem != nil {
			cb(pfx, st.pfxlen, st.elem, consumed+stride)
		}
		if st.child != nil {
			tr.traverseNode(st.child, level+1, consumed+stride, pfx, cb)
		}
	}
}
