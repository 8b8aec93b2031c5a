// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/spin"
)

// HPDomain is a hazard-pointer domain: a set of threads, each holding a
// fixed number of hazard slots, plus the retire lists those threads
// accumulate. Grounded on original_source/src/p64_hazardptr.c.
type HPDomain struct {
	nrefs   uint32
	maxObjs uint32
	highWM  atomix.Int64
	idx     threadIndex
	slots   [MaxThreads]atomix.Pointer[hpSlots]
	_       pad
}

// hpSlots is the per-thread array of hazard pointer slots, published into
// HPDomain.slots[idx] while the thread is active and cleared (nil) while
// deactivated or unregistered, exactly as p64_hpdomain_t.hp[idx] is NULLed
// in the C original.
type hpSlots struct {
	refs []atomix.Pointer[byte]
}

// Hazard is an opaque handle to a single hazard-pointer slot. Its zero
// value means "no slot allocated yet"; [Acquire] allocates one lazily the
// first time it is used, matching the original's "any free hazptr" search.
//
// slot is biased by one so the zero value (no slot field set) means
// unallocated rather than aliasing slot index 0.
type Hazard struct {
	slot int32
}

func (h *Hazard) valid() bool  { return h.slot != 0 }
func (h *Hazard) index() int32 { return h.slot - 1 }
func (h *Hazard) set(idx int32) { h.slot = idx + 1 }
func (h *Hazard) clear()        { h.slot = 0 }

// Thread is a thread's participation record in an [HPDomain]. Go has no
// per-thread storage to hang this off of automatically, so callers hold
// the *Thread returned by [HPDomain.Register] and pass it to every
// subsequent call — the idiomatic equivalent of the original's
// __thread-local p64_hazardptr_tid.
type Thread struct {
	dom     *HPDomain
	idx     uint32
	slots   *hpSlots
	nrefs   uint32
	objs    []retiredObj
	maxObjs uint32
	active  bool
}

// NewHPDomain creates a hazard-pointer domain where every registered
// thread gets nrefs hazard slots. maxobjs bounds how many retired objects
// a single thread may accumulate before [Retire] forces a
// reclamation sweep; 0 selects a default of nrefs*MaxThreads+1, mirroring
// p64_hazptr_alloc's "enough to guarantee forward progress" sizing.
func NewHPDomain(maxobjs, nrefs uint32) *HPDomain {
	if nrefs == 0 {
		conc64.ReportError("smr", "invalid nrefs", uintptr(nrefs))
		return nil
	}
	if maxobjs == 0 {
		maxobjs = nrefs*MaxThreads + 1
	}
	return &HPDomain{nrefs: nrefs, maxObjs: maxobjs}
}

// Register admits a new thread into the domain and returns its
// participation record. Callers must eventually call [Thread.Unregister].
func (d *HPDomain) Register() *Thread {
	idx, ok := d.idx.alloc()
	if !ok {
		conc64.ReportError("smr", "too many registered threads", uintptr(MaxThreads))
		return nil
	}
	sl := &hpSlots{refs: make([]atomix.Pointer[byte], d.nrefs)}
	d.slots[idx].StoreRelease(sl)
	t := &Thread{dom: d, idx: idx, slots: sl, nrefs: d.nrefs, maxObjs: d.maxObjs, active: true}
	fetchMaxI64(&d.highWM, int64(idx)+1)
	return t
}

// Unregister removes t from its domain. t must have no unreclaimed
// retired objects; otherwise reports "thread has unreclaimed objects"
// through the shared error handler. Held hazard pointers are not checked.
func (t *Thread) Unregister() {
	if len(t.objs) != 0 {
		conc64.ReportError("smr", "thread has unreclaimed objects", uintptr(len(t.objs)))
		return
	}
	t.dom.slots[t.idx].StoreRelease(nil)
	t.dom.idx.release(t.idx)
	t.active = false
}

// Deactivate marks t temporarily inactive so reclamation sweeps skip its
// hazard slots, e.g. before a long blocking syscall. Folded in from
// p64_hazptr_deactivate (spec.md §3 supplemented features).
func (t *Thread) Deactivate() {
	t.dom.slots[t.idx].StoreRelease(nil)
	t.active = false
}

// Reactivate undoes [Thread.Deactivate], republishing t's hazard slots.
func (t *Thread) Reactivate() {
	t.dom.slots[t.idx].StoreRelease(t.slots)
	t.active = true
}

func fetchMaxI64(a *atomix.Int64, v int64) {
	for {
		cur := a.LoadRelaxed()
		if v <= cur {
			return
		}
		if a.CompareAndSwapRelaxed(cur, v) {
			return
		}
	}
}

func (t *Thread) allocSlot() (int32, bool) {
	for i := range t.slots.refs {
		if t.slots.refs[i].LoadRelaxed() == nil {
			return int32(i), true
		}
	}
	return 0, false
}

// Acquire reads *pptr, publishes it in one of t's hazard slots, and
// re-reads *pptr to verify the object was not concurrently retired and
// reclaimed before the publication became visible — the classic
// store-then-verify hazard pointer protocol.
func Acquire[T any](t *Thread, pptr *atomix.Pointer[T], hp *Hazard) *T {
	return AcquireMask(t, pptr, hp, ^uintptr(0))
}

// AcquireMask is [Acquire] with mask applied to the loaded address before
// it is published and compared, for fields that carry a tag in the low
// bits of the pointer. Within this module its only caller is [Acquire],
// which passes a mask of all ones.
func AcquireMask[T any](t *Thread, pptr *atomix.Pointer[T], hp *Hazard, mask uintptr) *T {
	if hp.valid() {
		t.slots.refs[hp.index()].StoreRelease(nil)
	}
	var w spin.Wait
	for {
		raw := pptr.LoadRelaxed()
		addr := uintptr(unsafe.Pointer(raw)) & mask
		if raw == nil || isNullPtr(addr) {
			return maskPtr[T](raw, mask)
		}
		masked := maskPtr[T](raw, mask)
		if !hp.valid() {
			i, ok := t.allocSlot()
			if !ok {
				conc64.ReportError("smr", "hazard pointers exhausted", uintptr(t.nrefs))
				return nil
			}
			hp.set(i)
		}
		t.slots.refs[hp.index()].StoreRelease((*byte)(unsafe.Pointer(masked)))
		if pptr.LoadAcquire() == raw {
			return masked
		}
		w.Once()
	}
}

func maskPtr[T any](p *T, mask uintptr) *T {
	if mask == ^uintptr(0) {
		return p
	}
	return (*T)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) & mask))
}

// Release clears hp, making the referenced object eligible for
// reclamation again once no other hazard slot refers to it.
func Release(t *Thread, hp *Hazard) {
	if !hp.valid() {
		return
	}
	t.slots.refs[hp.index()].StoreRelease(nil)
	hp.clear()
}

// ReleaseRO is [Release] for references acquired read-only (no intent to
// CAS through them); progress64 distinguishes the two so implementations
// may use a cheaper store-release without the paired reload on some
// architectures. conc64 treats them identically since Go's runtime gives
// no narrower barrier than StoreRelease, but keeps the distinct name so
// container code documents its own reference discipline at the call site.
func ReleaseRO(t *Thread, hp *Hazard) {
	Release(t, hp)
}

// Retire hands ptr to t's retire list, to be reclaimed via cb once no
// hazard pointer in the domain references it. Forces a reclamation sweep
// when the retire list has room for only one more slot, preserving the
// original's "always keep one spare slot" forward-progress invariant.
func Retire[T any](t *Thread, ptr *T, cb func(*T)) {
	t.objs = append(t.objs, retiredObj{
		ptr: unsafe.Pointer(ptr),
		cb:  func(p unsafe.Pointer) { cb((*T)(p)) },
	})
	if uint32(len(t.objs))+1 >= t.maxObjs {
		t.Reclaim()
	}
}

// Reclaim scans every active thread's hazard slots, sorts the references,
// and reclaims every retired object in t's list not found among them.
// Returns the number of objects reclaimed.
func (t *Thread) Reclaim() uint32 {
	if len(t.objs) == 0 {
		return 0
	}
	hw := t.dom.highWM.LoadAcquire()
	refs := make([]unsafe.Pointer, 0, int(hw)*int(t.nrefs))
	for i := int64(0); i < hw; i++ {
		sl := t.dom.slots[i].LoadAcquire()
		if sl == nil {
			continue
		}
		for j := range sl.refs {
			if p := sl.refs[j].LoadAcquire(); p != nil {
				refs = append(refs, unsafe.Pointer(p))
			}
		}
	}
	sortPtrs(refs)

	kept := t.objs[:0]
	var reclaimed uint32
	for _, o := range t.objs {
		if findPtr(refs, o.ptr) {
			kept = append(kept, o)
			continue
		}
		o.cb(o.ptr)
		reclaimed++
	}
	t.objs = kept
	return reclaimed
}
