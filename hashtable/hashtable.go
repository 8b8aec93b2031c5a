// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hashtable implements a concurrent, open-addressing-free hash
// table using separate chaining with lock-free logical deletion,
// mirroring progress64's p64_hashtable. Each bucket is a singly linked
// chain of caller-owned Elem nodes; readers either hold a hazard
// pointer per visited node or bracket the whole call with a quiescent
// state grace period, matching the original's dual reclamation modes.
//
// The original steals the low bit of each node's "next" field as a
// tombstone mark so the pointer and the mark can be read and swung
// together with one compare-and-swap. Go has no spare pointer bits to
// steal, so the mark lives in its own small boxed record CAS'd
// independently of next — the sum-type-plus-pointer replacement spec.md
// §9 calls for wherever the original relies on a packed word that is
// not itself the ABA-critical value.
package hashtable

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/conc64/smr"
	"code.hybscloud.com/spin"
)

// CompareFunc reports whether elem matches key, mirroring the
// original's three-way comparator; only the zero result is consulted.
type CompareFunc[T any] func(elem *Elem[T], key any) int

type elemState struct {
	removed bool
}

// Elem is a hash table node. The zero value is ready to insert once
// Value is set. A node removed from a table must be retired through
// the table's reclamation domain before its memory is reused for a new
// Elem.
type Elem[T any] struct {
	Hash  uint64
	Value T

	next  atomix.Pointer[Elem[T]]
	state atomix.Pointer[elemState]
}

// Mode selects how readers protect nodes they are traversing.
type Mode int

const (
	// ModeHP protects each visited node with its own hazard pointer.
	ModeHP Mode = iota
	// ModeQSBR brackets each operation with a quiescent-state interval
	// instead of per-node hazard pointers; the caller's QSBRThread must
	// not be used for blocking work while an operation is in flight.
	ModeQSBR
)

// Table is a fixed-bucket-count concurrent hash table of Elem[T] nodes.
// The zero value is not usable; use [New].
type Table[T any] struct {
	buckets []atomix.Pointer[Elem[T]]
	mask    uint64
	mode    Mode
	hpDom   *smr.HPDomain
	cf      CompareFunc[T]
}

// New creates a table with at least nbkts buckets (rounded up to a
// power of two), comparing keys with cf. hpDom is required (and only
// used) when mode is [ModeHP]; it must outlive the table.
func New[T any](nbkts uint32, mode Mode, cf CompareFunc[T], hpDom *smr.HPDomain) *Table[T] {
	if cf == nil {
		conc64.ReportError("hashtable", "nil compare function", 0)
		return nil
	}
	if mode == ModeHP && hpDom == nil {
		conc64.ReportError("hashtable", "ModeHP requires a hazard pointer domain", 0)
	}
	size := nextPow2(nbkts)
	return &Table[T]{
		buckets: make([]atomix.Pointer[Elem[T]], size),
		mask:    uint64(size - 1),
		mode:    mode,
		hpDom:   hpDom,
		cf:      cf,
	}
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

func isRemoved(st *elemState) bool { return st != nil && st.removed }

// chain bundles the rotating pair of hazard pointers a walk needs: one
// protecting the owner of the parent link currently being dereferenced,
// one protecting the node just loaded from it. Under ModeQSBR both are
// unused; protection comes from the surrounding Acquire/Release bracket
// instead.
type chain[T any] struct {
	t       *Table[T]
	th      *smr.Thread
	hpPrnt  smr.Hazard
	hpThis  smr.Hazard
}

func (t *Table[T]) newChain(th *smr.Thread) chain[T] {
	return chain[T]{t: t, th: th}
}

func (c *chain[T]) release() {
	if c.t.mode != ModeHP {
		return
	}
	smr.Release(c.th, &c.hpPrnt)
	smr.Release(c.th, &c.hpThis)
}

// advance loads *parent, protecting it as "this", then retires the
// previous "this" protection into the "parent" slot so the node about
// to become the new parent link owner stays protected.
func (c *chain[T]) advance(parent *atomix.Pointer[Elem[T]]) *Elem[T] {
	if c.t.mode != ModeHP {
		return parent.LoadAcquire()
	}
	smr.Release(c.th, &c.hpPrnt)
	c.hpPrnt = c.hpThis
	c.hpThis = smr.Hazard{}
	return smr.Acquire(c.th, parent, &c.hpThis)
}

// walk scans the bucket's chain starting at the bucket head, helping
// unlink any logically removed node it passes, until it finds a node
// for which match returns true or reaches the end of the chain.
// Returns the parent link pointing at the match (or at nil, if no node
// matched) and, if matched, that node itself.
func (t *Table[T]) walk(bix uint64, c *chain[T], match func(*Elem[T]) bool) (parent *atomix.Pointer[Elem[T]], this *Elem[T]) {
	parent = &t.buckets[bix]
	var w spin.Wait
	for {
		this = c.advance(parent)
		if this == nil {
			return parent, nil
		}
		if match(this) {
			return parent, this
		}
		st := this.state.LoadAcquire()
		if isRemoved(st) {
			next := this.next.LoadAcquire()
			if !parent.CompareAndSwapAcqRel(this, next) {
				w.Once()
			}
			// Restart from the same parent either way: on success the
			// removed node is gone, on failure someone else changed
			// parent and we must re-read it.
			continue
		}
		parent = &this.next
	}
}

func (t *Table[T]) withReader(th *smr.Thread, qt *smr.QSBRThread, fn func()) {
	if t.mode == ModeQSBR && qt != nil {
		qt.Acquire()
		defer qt.Release()
	}
	fn()
}

// Lookup returns the first live node in hash's bucket for which cf
// reports a match, or nil. Under [ModeHP], th must be a thread
// registered with the table's domain; under [ModeQSBR], qt must be a
// thread registered with the caller's QSBR domain.
func (t *Table[T]) Lookup(th *smr.Thread, qt *smr.QSBRThread, hash uint64, key any) *Elem[T] {
	var found *Elem[T]
	t.withReader(th, qt, func() {
		c := t.newChain(th)
		defer c.release()
		_, this := t.walk(hash&t.mask, &c, func(e *Elem[T]) bool {
			return e.Hash == hash && t.cf(e, key) == 0
		})
		found = this
	})
	return found
}

// Insert adds elem to the table under the given hash. elem must not
// already be present in any table sharing this domain.
func (t *Table[T]) Insert(th *smr.Thread, qt *smr.QSBRThread, elem *Elem[T], hash uint64) {
	if elem == nil {
		conc64.ReportError("hashtable", "insert nil element", 0)
		return
	}
	elem.Hash = hash
	elem.next.StoreRelaxed(nil)
	elem.state.StoreRelaxed(&elemState{})
	bix := hash & t.mask
	t.withReader(th, qt, func() {
		var w spin.Wait
		for {
			c := t.newChain(th)
			parent, this := t.walk(bix, &c, func(e *Elem[T]) bool { return e == elem })
			if this == elem {
				c.release()
				conc64.ReportError("hashtable", "element already present", 0)
				return
			}
			ok := parent.CompareAndSwapAcqRel(nil, elem)
			c.release()
			if ok {
				return
			}
			w.Once()
		}
	})
}

// Remove unlinks elem from the table, reporting whether it was found.
// The node is only logically removed; the caller must retire it
// through the table's reclamation domain before reusing its memory.
func (t *Table[T]) Remove(th *smr.Thread, qt *smr.QSBRThread, elem *Elem[T], hash uint64) bool {
	var removed bool
	t.withReader(th, qt, func() {
		var w spin.Wait
		for {
			c := t.newChain(th)
			parent, this := t.walk(hash&t.mask, &c, func(e *Elem[T]) bool { return e == elem })
			if this != elem {
				c.release()
				removed = false
				return
			}
			removed = t.unlink(parent, elem)
			c.release()
			if removed {
				return
			}
			w.Once()
		}
	})
	return removed
}

// RemoveByKey finds and unlinks the first live node for which cf
// reports a match, returning it (or nil if none matched). As with
// [Table.Remove], the returned node is only logically removed.
func (t *Table[T]) RemoveByKey(th *smr.Thread, qt *smr.QSBRThread, hash uint64, key any) *Elem[T] {
	var found *Elem[T]
	t.withReader(th, qt, func() {
		var w spin.Wait
		for {
			c := t.newChain(th)
			parent, this := t.walk(hash&t.mask, &c, func(e *Elem[T]) bool {
				return e.Hash == hash && t.cf(e, key) == 0
			})
			if this == nil {
				c.release()
				found = nil
				return
			}
			if t.unlink(parent, this) {
				found = this
				c.release()
				return
			}
			c.release()
			w.Once()
		}
	})
	return found
}

// unlink performs the two-step removal: mark this logically removed,
// then swing parent past it. Returns false if this was already marked
// by a concurrent remover, in which case the caller should retry its
// walk (the node belongs to whoever's mark succeeded first).
func (t *Table[T]) unlink(parent *atomix.Pointer[Elem[T]], this *Elem[T]) bool {
	old := this.state.LoadAcquire()
	if isRemoved(old) {
		return false
	}
	if !this.state.CompareAndSwapAcqRel(old, &elemState{removed: true}) {
		return false
	}
	// Best effort: swing parent past this now. If it fails, the next
	// walk through this bucket will find the mark and finish the job.
	next := this.next.LoadAcquire()
	parent.CompareAndSwapAcqRel(this, next)
	return true
}
