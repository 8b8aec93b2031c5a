// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fiber provides cooperative scheduling primitives: Coroutine
// (resume/suspend pairs), Scheduler/Fiber (a round-robin ring of
// cooperatively-scheduled goroutines with a barrier), and a general
// sense-reversing Barrier for ordinarily-scheduled goroutines. All
// three replace p64_cross_call's raw stack/register switch with
// goroutines and channels: a goroutine already has its own growable
// stack and the Go scheduler already multiplexes it, so only the
// handoff of "whose turn is it to run" needs replicating, not the
// context switch itself.
package fiber
