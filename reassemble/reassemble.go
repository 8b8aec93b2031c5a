// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reassemble

import (
	"math/bits"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/conc64/lock"
	"code.hybscloud.com/conc64/smr"
)

// Fragment is one fragment of a larger datagram awaiting reassembly.
// NextFrag threads it onto whatever list currently owns it (a table
// bucket, a caller-supplied stretch passed to Insert, or a list handed
// back through a callback); callers must not reuse a Fragment's memory
// until it has come back through CompleteFunc or StaleFunc.
type Fragment struct {
	NextFrag *Fragment
	Hash     uint64 // hash of whatever identifies "same datagram"
	Arrival  uint32 // arrival time, compared with serial-number arithmetic
	FragInfo uint16 // offset (in 8-byte units) and more-fragments flag
	Len      uint16 // payload length in bytes
}

// Fragment-info bit layout, matching the IPv4 fragment-offset field.
const (
	fragReserved      uint16 = 0x8000
	fragDontFragment  uint16 = 0x4000
	fragMoreFragments uint16 = 0x2000
	fragOffsetMask    uint16 = 0x1fff

	octSizeMax = (1 << 14) - 1 // largest representable size, in 8-byte units
)

func fragOffset(fi uint16) uint32 { return uint32(fi&fragOffsetMask) * 8 }
func fragMore(fi uint16) bool     { return fi&fragMoreFragments != 0 }
func lenToOct(l uint16) uint32    { return (uint32(l) + 7) / 8 }

// totSizeOct returns an upper bound on the total-datagram size (in
// 8-byte units) implied by f alone: the maximum representable size if
// f has the more-fragments flag set, otherwise the exact size implied
// by f being the last fragment.
func totSizeOct(f *Fragment) uint32 {
	if fragMore(f.FragInfo) {
		return octSizeMax
	}
	return (fragOffset(f.FragInfo) + uint32(f.Len) + 7) / 8
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func minI32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

// minEarliest returns whichever of a, b is "earlier" relative to now
// using serial-number (wraparound-safe) arithmetic.
func minEarliest(a, b, now uint32) uint32 {
	return uint32(minI32(int32(a-now), int32(b-now))) + now
}

// sortFrags returns frag's list re-threaded in ascending (Hash,
// fragment-offset) order, merging any number of distinct datagrams'
// fragments interleaved in the input.
func sortFrags(frag *Fragment) *Fragment {
	var head *Fragment
	for frag != nil {
		next := frag.NextFrag
		prev := &head
		seg := head
		for seg != nil && (seg.Hash < frag.Hash ||
			(seg.Hash == frag.Hash && fragOffset(seg.FragInfo) < fragOffset(frag.FragInfo))) {
			prev = &seg.NextFrag
			seg = seg.NextFrag
		}
		*prev = frag
		frag.NextFrag = seg
		frag = next
	}
	return head
}

// isComplete scans *prev (a Hash-and-offset sorted list) for the first
// run of fragments that covers a whole datagram with no gaps or holes.
// If found, it snips that run out of the list, returns it, and leaves
// *prev pointing at whatever follows. Returns nil if no complete
// datagram is present anywhere in the list.
func isComplete(prev **Fragment) *Fragment {
	for {
		frag := *prev
		var expectedOff uint32
		for frag != nil {
			if fragOffset(frag.FragInfo) != expectedOff {
				// Missing fragment.
				return nil
			}
			if frag.NextFrag == nil || frag.NextFrag.Hash != frag.Hash {
				if fragMore(frag.FragInfo) {
					// More-fragments flag set on what should be the
					// last segment: the true last fragment is missing.
					break
				}
				head := *prev
				*prev = frag.NextFrag
				frag.NextFrag = nil
				return head
			}
			if !fragMore(frag.FragInfo) {
				// Premature clear of more-fragments (duplicate last
				// fragment?).
				break
			}
			if fragOffset(frag.NextFrag.FragInfo) > fragOffset(frag.FragInfo)+uint32(frag.Len) {
				// Hole between frag and its successor.
				break
			}
			// Overlap, if any, is not this table's problem.
			expectedOff += uint32(frag.Len)
			frag = frag.NextFrag
		}
		if frag == nil {
			return nil
		}
		// Discontinuity found; skip to the next datagram's fragments.
		hash := frag.Hash
		for frag.NextFrag != nil && frag.NextFrag.Hash == hash {
			frag = frag.NextFrag
		}
		prev = &frag.NextFrag
	}
}

// recompute walks *head to its end, computing the accumulated fragment
// size (8-byte units), the smallest upper bound on total datagram size
// implied by any fragment seen, and the earliest arrival time relative
// to now. Returns the address of the list's terminal NextFrag field.
func recompute(head **Fragment, fragsize, totsize, earliest *uint32, now uint32) **Fragment {
	last := head
	*fragsize = 0
	*totsize = octSizeMax
	*earliest = now
	for *last != nil {
		*fragsize = minU32(octSizeMax, *fragsize+lenToOct((*last).Len))
		*totsize = minU32(*totsize, totSizeOct(*last))
		*earliest = minEarliest(*earliest, (*last).Arrival, now)
		last = &(*last).NextFrag
	}
	return last
}

// findStale removes every fragment with Arrival before t from *pfrag's
// list in place, returning the removed fragments as a new list.
func findStale(pfrag **Fragment, t uint32) *Fragment {
	var stale *Fragment
	for *pfrag != nil {
		frag := *pfrag
		if int32(frag.Arrival-t) < 0 {
			*pfrag = frag.NextFrag
			frag.NextFrag = stale
			stale = frag
			continue
		}
		pfrag = &(*pfrag).NextFrag
	}
	return stale
}

// fragListState is the boxed, immutable snapshot of one bucket: a
// fragment list awaiting reassembly plus the accounting fields needed
// to recognise when it is complete, CAS'd as a single pointer in place
// of the original's packed-bitfield-plus-pointer double-word CAS. Since
// every transition allocates a fresh record, the original's explicit
// ABA counter is unnecessary here and has been dropped.
type fragListState struct {
	earliest uint32
	accsize  uint32
	totsize  uint32
	closed   bool // true once migrated away by Extend; caller must retry the next generation
	head     *Fragment
}

func newFragListNull() *fragListState       { return &fragListState{totsize: octSizeMax} }
func newFragListNullClosed() *fragListState { return &fragListState{totsize: octSizeMax, closed: true} }

// fragTable is one generation of the bucket array: shift gives the
// bucket count as 1<<(32-shift), and idx identifies which generation
// this is so a stale reference can be recognised after Extend installs
// a new one. Boxed as a single record so installing (or removing) a
// whole generation is one pointer CAS, matching the original's atomic
// exchange of its packed {idx,shift,base} word.
type fragTable struct {
	idx   uint32
	shift uint32
	slots []atomix.Pointer[fragListState]
}

func shiftToSize(shift uint32) uint32 { return 1 << (32 - shift) }
func sizeToShift(size uint32) uint32  { return 32 - uint32(bits.TrailingZeros32(size)) }

// CompleteFunc receives a fully reassembled datagram: frag is the first
// fragment of the chain, linked through NextFrag in offset order.
type CompleteFunc func(frag *Fragment)

// StaleFunc receives fragments evicted by Expire or still lingering in
// the table when Free is called, linked through NextFrag in no
// particular order.
type StaleFunc func(frag *Fragment)

// Mode selects how Table protects the bucket array across Extend.
type Mode int

const (
	// ModeHP protects each access with a hazard pointer.
	ModeHP Mode = iota
	// ModeQSBR brackets each Insert/Expire call with a quiescent-state
	// interval instead; the caller's QSBRThread must not be used for
	// blocking work while a call is in flight.
	ModeQSBR
)

// Table is a lock-free fragment-reassembly table. The zero value is
// not usable; use [New].
type Table struct {
	ft         [2]atomix.Pointer[fragTable]
	cur        atomix.Uint32
	extendable bool
	mode       Mode
	hpDom      *smr.HPDomain
	completeCB CompleteFunc
	staleCB    StaleFunc
	extendLock lock.Spin
}

// New creates a table with size buckets (a power of two). If
// extendable, [Table.Extend] may later double the bucket count.
// hpDom is required (and only used) when mode is [ModeHP].
func New(size uint32, mode Mode, hpDom *smr.HPDomain, extendable bool, completeCB CompleteFunc, staleCB StaleFunc) *Table {
	if size < 1 || size&(size-1) != 0 {
		conc64.ReportError("reassemble", "invalid fragment table size", uintptr(size))
		return nil
	}
	if mode == ModeHP && hpDom == nil {
		conc64.ReportError("reassemble", "ModeHP requires a hazard pointer domain", 0)
	}
	slots := make([]atomix.Pointer[fragListState], size)
	for i := range slots {
		slots[i].StoreRelaxed(newFragListNull())
	}
	re := &Table{
		extendable: extendable,
		mode:       mode,
		hpDom:      hpDom,
		completeCB: completeCB,
		staleCB:    staleCB,
	}
	re.ft[0].StoreRelease(&fragTable{idx: 0, shift: sizeToShift(size), slots: slots})
	return re
}

// Free reports every fragment list still held by the table's current
// generation to staleCB. The table must not be used afterwards.
func (re *Table) Free() {
	cur := re.cur.LoadAcquire()
	ft := re.ft[cur%2].LoadAcquire()
	for i := range ft.slots {
		st := ft.slots[i].LoadAcquire()
		if st.head != nil {
			re.staleCB(st.head)
		}
	}
}

// readFragTbl returns generation idx's table, or nil if that
// generation has not been created yet or has since been migrated away.
func (re *Table) readFragTbl(idx uint32, th *smr.Thread, hp *smr.Hazard) *fragTable {
	var ft *fragTable
	if re.mode == ModeHP {
		ft = smr.Acquire(th, &re.ft[idx%2], hp)
	} else {
		ft = re.ft[idx%2].LoadAcquire()
	}
	if ft == nil || ft.idx != idx {
		return nil
	}
	return ft
}

// reassemble repeatedly extracts complete datagrams from *head via
// isComplete, reporting each to completeCB, until none remain.
func (re *Table) reassemble(head **Fragment) uint32 {
	var numdg uint32
	for *head != nil {
		dg := isComplete(head)
		if dg == nil {
			break
		}
		re.completeCB(dg)
		numdg++
	}
	return numdg
}

// insertFrags merges frag (a list of fragments sharing one Hash) into
// fl's bucket, retrying if fl is concurrently updated by another
// inserter. If the merged accumulation now covers a whole datagram (or
// several), it extracts and reports each before clearing the bucket.
// Returns frag again if the bucket was found closed by a concurrent
// Extend (the caller must retry against the next generation),
// otherwise nil.
func (re *Table) insertFrags(fl *atomix.Pointer[fragListState], frag *Fragment) *Fragment {
	now := frag.Arrival
	falsePositive := false
	var fragsize, totsize, earliest uint32
	last := recompute(&frag, &fragsize, &totsize, &earliest, now)

	for {
		old := fl.LoadAcquire()
		if old.closed {
			return frag
		}
		if old.head != nil {
			falsePositive = false
		}
		*last = old.head
		neu := &fragListState{
			head:    frag,
			accsize: minU32(octSizeMax, old.accsize+fragsize),
			totsize: minU32(old.totsize, totsize),
		}
		if neu.accsize < neu.totsize || falsePositive {
			// Still missing fragments.
			if old.head != nil {
				neu.earliest = minEarliest(old.earliest, earliest, now)
			} else {
				neu.earliest = earliest
			}
			if !fl.CompareAndSwapAcqRel(old, neu) {
				continue
			}
			return nil
		}
		// We appear to have every fragment; claim the bucket before
		// touching the fragment list further.
		if !fl.CompareAndSwapAcqRel(old, newFragListNull()) {
			continue
		}
		frag = sortFrags(frag)
		falsePositive = re.reassemble(&frag) == 0
		if frag != nil {
			// Fragments for a different, still-incomplete datagram
			// remain; fold them back into the bucket.
			last = recompute(&frag, &fragsize, &totsize, &earliest, now)
			continue
		}
		return nil
	}
}

// splitAndInsertFrags splits frag into runs sharing a single Hash and
// inserts each run into the bucket its hash maps to, advancing from
// generation cur to cur+1, cur+2, ... whenever a bucket is found
// closed by a concurrent Extend. *ftp caches the most recently read
// generation across calls.
func (re *Table) splitAndInsertFrags(cur uint32, ftp **fragTable, th *smr.Thread, hp *smr.Hazard, frag *Fragment) {
	for frag != nil {
		pnext := &frag.NextFrag
		for *pnext != nil && (*pnext).Hash == frag.Hash {
			pnext = &(*pnext).NextFrag
		}
		next := *pnext
		*pnext = nil
		for {
			for *ftp == nil {
				*ftp = re.readFragTbl(cur, th, hp)
				if *ftp != nil {
					break
				}
				cur++
			}
			ft := *ftp
			idx := uint32(frag.Hash) >> ft.shift
			frag = re.insertFrags(&ft.slots[idx], frag)
			if frag == nil {
				break
			}
			// Bucket was closed; retry against the next generation.
			cur++
			*ftp = nil
		}
		frag = next
	}
}

// Insert adds frag (with any NextFrag cleared) to the table, performing
// reassembly and reporting any resulting complete datagrams. Under
// [ModeHP], th must be registered with the table's domain; under
// [ModeQSBR], qt must be registered with the caller's QSBR domain. Both
// may be nil if the table was created with extendable false.
func (re *Table) Insert(th *smr.Thread, qt *smr.QSBRThread, frag *Fragment) {
	var hp smr.Hazard
	if re.extendable && re.mode == ModeQSBR {
		qt.Acquire()
	}
	frag.NextFrag = nil
	cur := re.cur.LoadAcquire()
	var ft *fragTable
	re.splitAndInsertFrags(cur, &ft, th, &hp, frag)
	if re.extendable {
		if re.mode == ModeQSBR {
			qt.Release()
		} else {
			smr.Release(th, &hp)
		}
	}
}

// expireSlot evicts fragments older than t from *fl, reporting them to
// staleCB and reinserting any fragments that remain fresh. Returns true
// if the bucket has been closed by a concurrent Extend, telling the
// caller to continue expiry in the next generation.
func (re *Table) expireSlot(cur uint32, ftp **fragTable, th *smr.Thread, hp *smr.Hazard, fl *atomix.Pointer[fragListState], t uint32) bool {
	for {
		old := fl.LoadAcquire()
		if old.head == nil || int32(old.earliest-t) >= 0 {
			return false
		}
		if old.closed {
			return true
		}
		if !fl.CompareAndSwapAcqRel(old, newFragListNull()) {
			continue
		}
		// Owns the bucket's fragments now; work on a local copy so the
		// retired record old itself is never mutated.
		head := old.head
		stale := findStale(&head, t)
		closed := false
		if head != nil {
			frags := re.insertFrags(fl, head)
			if frags != nil {
				closed = true
				re.splitAndInsertFrags(cur+1, ftp, th, hp, frags)
			}
		}
		if stale != nil {
			re.staleCB(stale)
		}
		return closed
	}
}

// Expire evicts every fragment that arrived earlier than t (compared
// with serial-number arithmetic, so t may wrap), reporting evicted
// fragments to staleCB. Fresh fragments sharing a bucket with an
// expired one may be reassembled into a complete datagram as a side
// effect, reported to completeCB as usual.
func (re *Table) Expire(th *smr.Thread, qt *smr.QSBRThread, t uint32) {
	var hp smr.Hazard
	if re.extendable && re.mode == ModeQSBR {
		qt.Acquire()
	}
	var cur uint32
	var ft *fragTable
	for {
		cur = re.cur.LoadAcquire()
		ft = re.readFragTbl(cur, th, &hp)
		if ft != nil {
			break
		}
	}
	// Scan from the end; Extend migrates buckets from the beginning.
	for i := int64(shiftToSize(ft.shift)) - 1; i >= 0; i-- {
		closed := re.expireSlot(cur, &ft, th, &hp, &ft.slots[i], t)
		if closed {
			for {
				cur++
				ft = re.readFragTbl(cur, th, &hp)
				i = 2*i + 1
				if ft != nil {
					break
				}
			}
		}
	}
	if re.extendable {
		if re.mode == ModeQSBR {
			qt.Release()
		} else {
			smr.Release(th, &hp)
		}
	}
}

// migrateSlot closes src's bucket i (so every future Insert/Expire
// accessing it sees closed and retries against dst) and splits
// whatever fragments it held across dst's wider bucket range.
func (re *Table) migrateSlot(src *fragTable, dst **fragTable, th *smr.Thread, hp *smr.Hazard, i uint32) {
	factor := uint32(1) << (src.shift - (*dst).shift)
	for j := uint32(0); j < factor; j++ {
		(*dst).slots[factor*i+j].StoreRelaxed(newFragListNull())
	}
	slot := &src.slots[i]
	old := slot.LoadAcquire()
	for !slot.CompareAndSwapAcqRel(old, newFragListNullClosed()) {
		old = slot.LoadAcquire()
	}
	if old.head != nil {
		re.splitAndInsertFrags((*dst).idx, dst, th, hp, old.head)
	}
}

// Extend doubles the table's bucket count without blocking concurrent
// Insert/Expire callers. It returns false if another Extend is already
// in progress or the table is already at its maximum size. Calling it on
// a table not created extendable is reported through conc64.ReportError
// and returns false once the installed handler returns ActionReturn.
func (re *Table) Extend(th *smr.Thread, qt *smr.QSBRThread) bool {
	if !re.extendable {
		conc64.ReportError("reassemble", "extend not supported", 0)
		return false
	}
	if !re.extendLock.TryAcquire() {
		return false
	}
	defer re.extendLock.Release()

	cur := re.cur.LoadAcquire()
	old := re.ft[cur%2].LoadAcquire()
	if old.shift == 0 {
		// Already at maximum size.
		return false
	}
	oldSize := shiftToSize(old.shift)
	newSize := 2 * oldSize
	neu := &fragTable{
		idx:   cur + 1,
		shift: sizeToShift(newSize),
		slots: make([]atomix.Pointer[fragListState], newSize),
	}
	// Publish the new generation before migrating so threads whose
	// bucket gets closed below can immediately fall through to it.
	re.ft[(cur+1)%2].SwapAcqRel(neu)

	var hp smr.Hazard
	dst := neu
	for i := uint32(0); i < oldSize; i++ {
		re.migrateSlot(old, &dst, th, &hp, i)
	}
	if re.mode == ModeHP {
		smr.Release(th, &hp)
	}

	re.cur.StoreRelease(cur + 1)
	re.ft[cur%2].SwapAcqRel(nil)

	if re.mode == ModeHP {
		smr.Retire(th, old, func(*fragTable) {})
	} else {
		for !smr.Retire32(qt, old, func(*fragTable) {}) {
		}
	}
	return true
}
