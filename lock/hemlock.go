// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// HemlockNode is the wait cell a caller passes to a [Hemlock]'s acquire
// and release calls. The original keeps a single THREAD_LOCAL cell per
// OS thread; Go has no goroutine-local storage to play that role, so the
// caller supplies the node explicitly (same explicit-node idiom as [CLH]
// and [MCS]) and may reuse it for later acquisitions once Release has
// returned. As in the original, a releaser that hands the lock to a
// successor waits for that successor to acknowledge the grant (clear
// ready) before Release returns, so a reused node is never reset while
// a successor still polls it.
type HemlockNode struct {
	ready atomix.Bool
}

// Hemlock is a queue lock built around a single exchanged tail pointer
// (Dice & Kogan, "Hemlock: Compact and Scalable Mutual Exclusion").
// Grounded on original_source/src/p64_hemlock.c.
type Hemlock struct {
	tail atomix.Pointer[HemlockNode]
}

// TryAcquire acquires the lock without waiting, reporting success.
func (l *Hemlock) TryAcquire(node *HemlockNode) bool {
	node.ready.StoreRelaxed(false)
	return l.tail.CompareAndSwapAcqRel(nil, node)
}

// Acquire blocks until this caller holds the lock.
func (l *Hemlock) Acquire(node *HemlockNode) {
	node.ready.StoreRelaxed(false)
	pred := l.tail.SwapAcqRel(node)
	if pred == nil {
		return
	}
	var w spin.Wait
	for !pred.ready.LoadAcquire() {
		w.Once()
	}
	// Acknowledge the grant so the predecessor may reuse its node.
	pred.ready.StoreRelease(false)
}

// Release releases the lock acquired with node.
func (l *Hemlock) Release(node *HemlockNode) {
	if l.tail.CompareAndSwapAcqRel(node, nil) {
		return
	}
	node.ready.StoreRelease(true)
	var w spin.Wait
	for node.ready.LoadAcquire() {
		w.Once()
	}
}
