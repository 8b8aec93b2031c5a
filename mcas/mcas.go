// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mcas

import (
	"sort"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
)

var locSeq atomix.Uint64

// Loc is one location participating in multi-word compare-and-swap.
// Create one with [NewLoc]; the zero value carries no sequence number
// and must not be used with [CASN].
type Loc[T any] struct {
	slot atomix.Pointer[slotState[T]]
	seq  uint64
}

// NewLoc creates a location initially holding v.
func NewLoc[T any](v *T) *Loc[T] {
	l := &Loc[T]{seq: locSeq.AddAcqRel(1)}
	l.slot.StoreRelease(valueSlot(v))
	return l
}

type tag int8

const (
	tagNone tag = iota
	tagCCAS
	tagMCAS
)

// slotState is what a Loc's atomic pointer actually holds: either a
// plain caller value (tag == tagNone) or one of a descriptor's two
// pre-allocated, canonical tag records. Every goroutine that helps the
// same descriptor along arrives at the identical *slotState for a given
// (desc, tag) pair — see desc.ccasTag/desc.mcasTag — so the location's
// atomic pointer can be compare-and-swapped against it regardless of
// which goroutine is doing the comparing. That canonical-record trick
// stands in for the original's two stolen pointer bits, which no
// portable Go representation can reproduce without unsafe.
type slotState[T any] struct {
	value *T
	desc  *desc[T]
	tag   tag
}

func valueSlot[T any](v *T) *slotState[T] { return &slotState[T]{value: v} }

func isTag[T any](st *slotState[T], want tag) bool { return st != nil && st.tag == want }

func equalsValue[T any](st *slotState[T], v *T) bool {
	if st == nil {
		return v == nil
	}
	return st.tag == tagNone && st.value == v
}

type opStatus int32

const (
	undecided opStatus = iota
	success
	failure
)

// ccasEntry is one location's contribution to a multi-word CAS: its
// current/expected value and the value it should hold on success.
type ccasEntry[T any] struct {
	loc *Loc[T]
	exp *T
	neu *T
}

// desc is a multi-word CAS in progress, shared by every goroutine that
// discovers it while reading one of its locations. ccas is sorted by
// loc.seq so that any two overlapping CASN calls claim their shared
// locations in the same order, the discipline that keeps the helping
// protocol from deadlocking.
type desc[T any] struct {
	status   atomix.Int32
	ccas     []ccasEntry[T]
	ccasTag  *slotState[T]
	mcasTag  *slotState[T]
}

func newDesc[T any](ccas []ccasEntry[T]) *desc[T] {
	d := &desc[T]{ccas: ccas}
	d.ccasTag = &slotState[T]{desc: d, tag: tagCCAS}
	d.mcasTag = &slotState[T]{desc: d, tag: tagMCAS}
	return d
}

func findCCASIdx[T any](d *desc[T], loc *Loc[T]) int {
	for i := range d.ccas {
		if d.ccas[i].loc == loc {
			return i
		}
	}
	conc64.ReportError("mcas", "corrupt mcas descriptor", 0)
	return -1
}

// ccasHelp moves the CCAS tag on d.ccas[i]'s location forward: promotes
// it to d's group-wide tag if d is still undecided, or rolls the
// location back to its original value once d has concluded. Safe to
// call any number of times by any goroutine.
func ccasHelp[T any](d *desc[T], i int) {
	e := &d.ccas[i]
	if opStatus(d.status.LoadAcquire()) == undecided {
		e.loc.slot.CompareAndSwapAcqRel(d.ccasTag, d.mcasTag)
		return
	}
	e.loc.slot.CompareAndSwapAcqRel(d.ccasTag, valueSlot(e.exp))
}

// ccas installs d's CCAS tag into d.ccas[i]'s location, first helping
// along any other CCAS descriptor it finds blocking the way. It returns
// the slot state found once the location's value no longer equals the
// expected one, or once the location already carries d's own tag.
func ccas[T any](d *desc[T], i int) *slotState[T] {
	e := &d.ccas[i]
	for {
		old := e.loc.slot.LoadAcquire()
		if !equalsValue(old, e.exp) {
			if !isTag(old, tagCCAS) {
				return old
			}
			ccasHelp(old.desc, findCCASIdx(old.desc, e.loc))
			continue
		}
		if e.loc.slot.CompareAndSwapAcqRel(old, d.ccasTag) {
			ccasHelp(d, i)
			return old
		}
	}
}

// mcasHelp drives d through both phases of the protocol: phase one
// claims every location with a CCAS tag, helping along any competing
// descriptor it runs into; phase two resolves every claimed location to
// either its new value (success) or its original one (failure). It
// returns d's outcome and may be called repeatedly and concurrently.
func mcasHelp[T any](d *desc[T]) bool {
	if opStatus(d.status.LoadAcquire()) == undecided {
		outcome := success
	phase1:
		for i := range d.ccas {
			for {
				val := ccas(d, i)
				if equalsValue(val, d.ccas[i].exp) || val == d.mcasTag {
					break
				}
				if !isTag(val, tagMCAS) {
					outcome = failure
					break phase1
				}
				mcasHelp(val.desc)
			}
		}
		d.status.CompareAndSwapAcqRel(int32(undecided), int32(outcome))
	}
	outcome := opStatus(d.status.LoadAcquire())
	for i := range d.ccas {
		e := &d.ccas[i]
		want := e.exp
		if outcome == success {
			want = e.neu
		}
		e.loc.slot.CompareAndSwapAcqRel(d.mcasTag, valueSlot(want))
	}
	return outcome == success
}

// Read returns loc's current logical value, helping complete any
// in-flight CASN it is participating in along the way.
func Read[T any](loc *Loc[T]) *T {
	for {
		st := loc.slot.LoadAcquire()
		if st == nil || st.tag == tagNone {
			if st == nil {
				return nil
			}
			return st.value
		}
		if st.tag == tagCCAS {
			ccasHelp(st.desc, findCCASIdx(st.desc, loc))
			continue
		}
		mcasHelp(st.desc)
	}
}

// CAS1 is a single-location compare-and-swap on loc. It is equivalent to
// a degenerate one-location [CASN] but never allocates a descriptor
// unless it first has to help another operation out of the way.
func CAS1[T any](loc *Loc[T], exp, neu *T) bool {
	for {
		st := loc.slot.LoadAcquire()
		if st == nil || st.tag == tagNone {
			if !equalsValue(st, exp) {
				return false
			}
			if loc.slot.CompareAndSwapAcqRel(st, valueSlot(neu)) {
				return true
			}
			continue
		}
		if st.tag == tagCCAS {
			ccasHelp(st.desc, findCCASIdx(st.desc, loc))
			continue
		}
		mcasHelp(st.desc)
	}
}

// CASN atomically replaces the logical value at every locs[i], from
// exp[i] to neu[i], as one indivisible group: either every location
// still holds its expected value and every replacement takes effect, or
// none do. locs must name distinct locations; order does not matter,
// CASN establishes its own lock order internally from each Loc's
// creation sequence.
func CASN[T any](locs []*Loc[T], exp, neu []*T) bool {
	n := len(locs)
	if n == 0 || n != len(exp) || n != len(neu) {
		conc64.ReportError("mcas", "mismatched location count", uintptr(n))
		return false
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return locs[order[a]].seq < locs[order[b]].seq
	})
	ccas := make([]ccasEntry[T], n)
	for i, oi := range order {
		ccas[i] = ccasEntry[T]{loc: locs[oi], exp: exp[oi], neu: neu[oi]}
		if i > 0 && ccas[i].loc == ccas[i-1].loc {
			conc64.ReportError("mcas", "duplicate location", 0)
			return false
		}
	}
	return mcasHelp(newDesc(ccas))
}
