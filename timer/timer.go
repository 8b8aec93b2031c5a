// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timer

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
)

// Tick is an application-defined logical clock value. TickInvalid never
// denotes a real tick; it marks a slot as inactive.
type Tick uint64

// TickInvalid marks a timer slot as expired or not yet set.
const TickInvalid Tick = ^Tick(0)

// ID names an allocated timer slot. Null names no timer.
type ID int32

// Null is the "no timer" ID, returned by Alloc when the pool is
// exhausted. It is -1 because ID 0 names a valid slot.
const Null ID = -1

// CallbackFunc is invoked once, by whichever goroutine calls [Wheel.Expire]
// and observes tim's expiration, with the tick it was due at and the
// argument it was allocated with.
type CallbackFunc func(tim ID, tmo Tick, arg any)

type slot struct {
	cb  CallbackFunc
	arg any
}

// freeListState is the boxed, CAS'd head of the freelist: one allocation
// per push/pop makes the classic freelist ABA hazard moot, the same
// boxed-record substitution used by every other lock-free container in
// this module, here standing in for the original's doubled-word
// head+generation-counter CAS.
type freeListState struct {
	head ID
}

// Wheel is a fixed-capacity pool of timer slots. The zero value is not
// usable; create one with [New].
type Wheel struct {
	earliest    atomix.Uint64
	current     atomix.Uint64
	hiwmark     atomix.Int32
	expirations []atomix.Uint64
	slots       []slot
	next        []ID
	freelist    atomix.Pointer[freeListState]
}

// New creates a wheel with room for maxTimers concurrently allocated
// timers.
func New(maxTimers int) *Wheel {
	if maxTimers <= 0 {
		conc64.ReportError("timer", "invalid timer wheel size", uintptr(maxTimers))
		return nil
	}
	w := &Wheel{
		expirations: make([]atomix.Uint64, maxTimers),
		slots:       make([]slot, maxTimers),
		next:        make([]ID, maxTimers),
	}
	w.earliest.StoreRelaxed(uint64(TickInvalid))
	for i := 0; i < maxTimers; i++ {
		if i+1 < maxTimers {
			w.next[i] = ID(i + 1)
		} else {
			w.next[i] = Null
		}
	}
	w.freelist.StoreRelease(&freeListState{head: 0})
	return w
}

func (w *Wheel) hi() ID { return ID(w.hiwmark.LoadAcquire()) }

func (w *Wheel) advanceHiwmark(n ID) {
	for {
		old := w.hiwmark.LoadAcquire()
		if n <= ID(old) {
			return
		}
		if w.hiwmark.CompareAndSwapAcqRel(old, int32(n)) {
			return
		}
	}
}

// Alloc claims a free slot and associates it with cb and arg, returning
// [Null] if the pool is exhausted.
func (w *Wheel) Alloc(cb CallbackFunc, arg any) ID {
	for {
		old := w.freelist.LoadAcquire()
		if old == nil || old.head == Null {
			return Null
		}
		head := old.head
		neu := &freeListState{head: w.next[head]}
		if w.freelist.CompareAndSwapAcqRel(old, neu) {
			w.expirations[head].StoreRelaxed(uint64(TickInvalid))
			w.slots[head].cb = cb
			w.slots[head].arg = arg
			w.advanceHiwmark(head + 1)
			return head
		}
	}
}

// Free returns tim to the pool. tim must be inactive (never set, or
// already expired/cancelled); freeing an active timer is a reported
// error.
func (w *Wheel) Free(tim ID) {
	if tim < 0 || tim >= w.hi() {
		conc64.ReportError("timer", "invalid timer", uintptr(tim))
		return
	}
	if w.expirations[tim].LoadAcquire() != uint64(TickInvalid) {
		conc64.ReportError("timer", "cannot free active timer", uintptr(tim))
		return
	}
	w.slots[tim].cb = nil
	w.slots[tim].arg = nil
	for {
		old := w.freelist.LoadAcquire()
		head := Null
		if old != nil {
			head = old.head
		}
		w.next[tim] = head
		neu := &freeListState{head: tim}
		if w.freelist.CompareAndSwapAcqRel(old, neu) {
			return
		}
	}
}

func (w *Wheel) updateEarliest(exp Tick) {
	for {
		old := w.earliest.LoadAcquire()
		if uint64(exp) >= old {
			return
		}
		if w.earliest.CompareAndSwapAcqRel(old, uint64(exp)) {
			return
		}
	}
}

func (w *Wheel) updateExpiration(tim ID, exp Tick, active bool) bool {
	if tim < 0 || tim >= w.hi() {
		conc64.ReportError("timer", "invalid timer", uintptr(tim))
		return false
	}
	for {
		old := w.expirations[tim].LoadRelaxed()
		if active {
			if old == uint64(TickInvalid) {
				return false
			}
		} else if old != uint64(TickInvalid) {
			return false
		}
		if w.expirations[tim].CompareAndSwapAcqRel(old, uint64(exp)) {
			break
		}
	}
	if exp != TickInvalid {
		w.updateEarliest(exp)
	}
	return true
}

// Set activates an inactive (expired or cancelled) timer, returning
// false if it was already active.
func (w *Wheel) Set(tim ID, exp Tick) bool {
	if exp == TickInvalid {
		conc64.ReportError("timer", "invalid expiration time", uintptr(exp))
		return false
	}
	return w.updateExpiration(tim, exp, false)
}

// Reset rearms an active timer to a new expiration, returning false if
// it was not active (already expired or cancelled).
func (w *Wheel) Reset(tim ID, exp Tick) bool {
	if exp == TickInvalid {
		conc64.ReportError("timer", "invalid expiration time", uintptr(exp))
		return false
	}
	return w.updateExpiration(tim, exp, true)
}

// Cancel deactivates an active timer, returning false if it was not
// active.
func (w *Wheel) Cancel(tim ID) bool {
	return w.updateExpiration(tim, TickInvalid, true)
}

// Tick returns the wheel's current tick.
func (w *Wheel) Tick() Tick { return Tick(w.current.LoadAcquire()) }

// AdvanceTick moves the wheel's current tick forward to now, a no-op if
// now does not advance it (time never runs backwards).
func (w *Wheel) AdvanceTick(now Tick) {
	if now == TickInvalid {
		conc64.ReportError("timer", "invalid tick", uintptr(now))
		return
	}
	for {
		old := w.current.LoadAcquire()
		if uint64(now) <= old {
			return
		}
		if w.current.CompareAndSwapAcqRel(old, uint64(now)) {
			return
		}
	}
}

func (w *Wheel) expireSlot(now Tick, i ID) {
	for {
		exp := Tick(w.expirations[i].LoadRelaxed())
		if exp > now {
			return
		}
		if w.expirations[i].CompareAndSwapAcqRel(uint64(exp), uint64(TickInvalid)) {
			w.slots[i].cb(i, exp, w.slots[i].arg)
			return
		}
	}
}

// Expire invokes the callback of every allocated timer whose expiration
// is at or before the wheel's current tick. Safe to call from multiple
// goroutines concurrently with each other and with Set/Reset/Cancel: a
// timer that is concurrently reset out from under Expire simply survives
// to a later call instead of firing early.
func (w *Wheel) Expire() {
	now := w.Tick()
	earliest := Tick(w.earliest.LoadAcquire())
	if earliest > now {
		return
	}
	// Our reset is made visible before the scan below begins, so any
	// timer armed after this point is reflected in the scan's own
	// bookkeeping of the next earliest tick, never silently lost.
	w.earliest.StoreRelaxed(uint64(TickInvalid))
	hi := w.hi()
	next := TickInvalid
	for i := ID(0); i < hi; i++ {
		exp := Tick(w.expirations[i].LoadRelaxed())
		if exp <= now {
			w.expireSlot(now, i)
			exp = Tick(w.expirations[i].LoadRelaxed())
		}
		if exp != TickInvalid && exp < next {
			next = exp
		}
	}
	w.updateEarliest(next)
}
