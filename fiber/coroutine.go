// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import "code.hybscloud.com/conc64"

// Coroutine is a goroutine that runs only while some other goroutine
// holds it resumed, handing control back on Suspend. It replaces
// p64_cross_call plus the thread-local parent/current bookkeeping of
// original_source/include/p64_coroutine.h +
// original_source/src/p64_coroutine.c: a goroutine already owns a
// growable stack, so resuming and suspending reduce to a pair of
// rendezvous channels instead of a raw register/stack switch. Entry
// point, resumer and switch target are all passed explicitly, in place
// of the C code's _Thread_local current-coroutine pointer.
type Coroutine struct {
	toCoro   chan interface{}
	toCaller chan interface{}
	returned bool
}

// Spawn starts ep on a new goroutine and runs it immediately, passing
// arg as its first argument, so ep can consume arg before Spawn
// returns — matching p64_coro_spawn's "coroutine runs immediately so
// that it can read its arguments". ep receives its own Coroutine handle
// so it can call Suspend or Switch on itself. result is whatever ep
// passes to its first Suspend call, or its return value if it never
// suspends, mirroring p64_coro_spawn's own return value.
func Spawn(ep func(cr *Coroutine, arg interface{}) interface{}, arg interface{}) (cr *Coroutine, result interface{}) {
	cr = &Coroutine{
		toCoro:   make(chan interface{}),
		toCaller: make(chan interface{}),
	}
	go func() {
		first := <-cr.toCoro
		ret := ep(cr, first)
		cr.returned = true
		cr.toCaller <- ret
	}()
	cr.toCoro <- arg
	result = <-cr.toCaller
	return cr, result
}

// Resume continues cr with arg and blocks until it next suspends or
// returns. If cr had already returned before this call, Resume reports
// "resume of ceased coroutine" through conc64.ReportError, which panics
// under the default handler; when the installed handler chooses
// ActionReturn, Resume returns ok = false. Otherwise result is whatever
// cr passed to Suspend, or its return value, this time around.
func (cr *Coroutine) Resume(arg interface{}) (result interface{}, ok bool) {
	if cr.returned {
		conc64.ReportError("coroutine", "resume of ceased coroutine", 0)
		return nil, false
	}
	cr.toCoro <- arg
	ret := <-cr.toCaller
	return ret, true
}

// Suspend pauses the calling coroutine and hands arg to whoever is
// blocked in Resume; it returns with whatever the next Resume call
// supplies.
func (cr *Coroutine) Suspend(arg interface{}) interface{} {
	cr.toCaller <- arg
	return <-cr.toCoro
}

// Switch resumes to directly with arg and returns what it next
// suspends or returns with, without involving cr's own resumer. Since
// goroutines have no parent/child stack relationship to restore, this
// is just Resume called on to — matching p64_coro_switch's effect
// (continue a sibling coroutine directly) without needing the original
//'s thread-local parent-chain bookkeeping.
func (cr *Coroutine) Switch(to *Coroutine, arg interface{}) interface{} {
	ret, _ := to.Resume(arg)
	return ret
}
