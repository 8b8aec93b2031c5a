// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"runtime"

	"code.hybscloud.com/conc64"
)

// Fiber is one member of a Scheduler's cooperative round-robin ring.
// Exactly one fiber (or the goroutine that called Run or Spawn) is ever
// runnable at a time; Yield hands the turn to the next fiber in the
// ring and blocks until the turn comes back around. Grounded on
// original_source/include/p64_fiber.h + original_source/src/p64_fiber.c,
// with p64_cross_call's raw stack switch replaced by turn-passing over
// a per-fiber channel: a goroutine already has its own stack, so all
// that needs handing off is permission to run. next forms the same
// intrusive circular ring the original keeps, so Run always resumes
// from the fiber that was first ever spawned, exactly like the
// original's list pointer.
type Fiber struct {
	sched *Scheduler
	turn  chan struct{}
	next  *Fiber
}

// Scheduler runs a ring of fibers cooperatively on top of goroutines.
// Only one participant is ever unblocked at a time, so list/fcnt/cur
// need no mutex: every mutation happens while holding the turn, and a
// channel send/receive gives that a happens-before edge to the next
// holder. main is a standing ring member representing whichever
// goroutine is not a fiber (whatever called Spawn or Run); it is
// inserted into the ring only transiently, during Spawn, exactly as
// p64_fiber_spawn does, so insertion always has a non-empty ring to
// attach to even before any real fiber exists.
type Scheduler struct {
	main     *Fiber
	mainTurn chan struct{}
	curFiber *Fiber // nil until the first Spawn; then always non-nil
	list     *Fiber
	fcnt     int
	bcnt     int
}

// NewScheduler creates an empty fiber scheduler.
func NewScheduler() *Scheduler {
	mainTurn := make(chan struct{})
	return &Scheduler{main: &Fiber{turn: mainTurn}, mainTurn: mainTurn}
}

// insertBefore links q into the ring immediately before p, or makes q
// the sole member of an empty ring if p is nil.
func (s *Scheduler) insertBefore(p, q *Fiber) {
	if p != nil {
		b := s.list
		for b.next != p {
			b = b.next
		}
		q.next = p
		b.next = q
		s.fcnt++
	} else {
		q.next = q
		s.list = q
		s.fcnt = 1
	}
}

// removeElement unlinks q from the ring.
func (s *Scheduler) removeElement(q *Fiber) {
	p := s.list
	for p.next != q {
		p = p.next
	}
	p.next = q.next
	s.fcnt--
	if s.fcnt != 0 {
		if s.list == q {
			s.list = q.next
		}
	} else {
		s.list = nil
	}
	if q != s.main {
		q.next = nil
	} else {
		q.next = q
	}
}

// switchTo hands the turn to target and blocks until it comes back on
// callerTurn, mirroring a p64_cross_call pair.
func switchTo(callerTurn chan struct{}, target *Fiber) {
	target.turn <- struct{}{}
	<-callerTurn
}

// Spawn creates a new fiber running ep(f, arg) and runs it immediately,
// exactly as p64_fiber_spawn does, so that ep can consume arg before
// Spawn returns control to its caller. ep must eventually call f.Exit,
// directly or by returning (Spawn calls it on ep's behalf).
func (s *Scheduler) Spawn(ep func(f *Fiber, arg interface{}), arg interface{}) *Fiber {
	if s.curFiber == nil {
		s.curFiber = s.main
		s.main.next = s.main
	}
	// Ensure the ring is never empty while we work out where to attach f.
	s.insertBefore(s.list, s.main)

	f := &Fiber{sched: s}
	f.turn = make(chan struct{})
	go func() {
		<-f.turn
		ep(f, arg)
		f.Exit()
	}()
	// Insert f immediately before whoever is calling Spawn.
	s.insertBefore(s.curFiber, f)

	saved := s.curFiber
	s.curFiber = f
	switchTo(saved.turn, f)
	s.curFiber = saved

	s.removeElement(s.main)
	return f
}

// Yield gives up the turn to the next fiber in the ring and blocks
// until it is handed back. With only one fiber in the ring this is a
// no-op, matching a cross_call that switches a context to itself.
func (f *Fiber) Yield() {
	s := f.sched
	in := f.next
	if in == f {
		return
	}
	s.curFiber = in
	switchTo(f.turn, in)
	s.curFiber = f
}

// Exit removes the calling fiber from its scheduler's ring and never
// returns to it. If other fibers remain, control passes directly to
// whichever fiber would have run next; otherwise it passes back to
// whoever is blocked in Run.
func (f *Fiber) Exit() {
	s := f.sched
	in := f.next
	s.removeElement(f)
	if s.fcnt != 0 {
		s.curFiber = in
		in.turn <- struct{}{}
	} else {
		s.curFiber = s.main
		s.mainTurn <- struct{}{}
	}
	runtime.Goexit()
}

// Barrier blocks the calling fiber, yielding cooperatively, until every
// fiber currently in the ring has also called Barrier.
func (f *Fiber) Barrier() {
	s := f.sched
	me := s.bcnt
	s.bcnt++
	for s.bcnt != s.fcnt {
		f.Yield()
	}
	isFirstToLeave := me == s.fcnt-1
	f.Yield()
	if isFirstToLeave {
		s.bcnt = 0
	}
}

// Run starts the first-ever-spawned fiber (if any) and blocks until
// every fiber has exited.
func (s *Scheduler) Run() {
	if s.curFiber != nil && s.curFiber != s.main {
		conc64.ReportError("fiber", "Run called by a fiber, not by its scheduler's owner", 0)
		return
	}
	if s.fcnt != 0 {
		s.curFiber = s.list
		switchTo(s.mainTurn, s.list)
		s.curFiber = s.main
	}
}
