// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// lockedEmpty is a distinguished node identity meaning "the lock is held
// with no waiter segment attached." The original encodes this as the
// otherwise-invalid pointer value (p64_rpnode_t *)1; conc64 uses a
// dedicated sentinel node's identity instead, since stashing an invalid
// address in a typed Go pointer isn't available (or desirable).
var lockedEmpty = &RPNode{}

// RPNode is one waiter's queue node for a [Reciprocating] lock.
type RPNode struct {
	gate atomix.Pointer[RPNode]
	succ *RPNode
	eos  *RPNode
}

// Reciprocating is a queue lock built around a single exchanged
// "arrivals" pointer, batching newly arrived waiters into entry segments
// the current holder hands off as a unit (Dice & Kogan, "Reciprocating
// Locks"). Grounded on original_source/src/p64_rplock.c.
type Reciprocating struct {
	arrivals atomix.Pointer[RPNode]
}

func rpReset(node *RPNode) {
	node.gate.StoreRelaxed(nil)
	node.succ = nil
	node.eos = node
}

// TryAcquire acquires the lock without waiting, reporting success.
func (l *Reciprocating) TryAcquire(node *RPNode) bool {
	rpReset(node)
	return l.arrivals.CompareAndSwapAcqRel(nil, node)
}

// Acquire blocks until this caller holds the lock.
func (l *Reciprocating) Acquire(node *RPNode) {
	rpReset(node)
	tail := l.arrivals.SwapAcqRel(node)
	if tail == nil {
		return
	}
	node.succ = tail
	var w spin.Wait
	for {
		eos := node.gate.LoadAcquire()
		if eos != nil {
			node.eos = eos
			break
		}
		w.Once()
	}
	if node.succ == node.eos {
		node.succ = nil
		node.eos = lockedEmpty
	}
}

// Release releases the lock acquired with node.
func (l *Reciprocating) Release(node *RPNode) {
	if node.succ != nil {
		node.succ.gate.StoreRelease(node.eos)
		return
	}
	if l.arrivals.CompareAndSwapAcqRel(node.eos, nil) {
		return
	}
	// A new entry segment has formed since we last checked; detach it
	// and hand the lock to its head.
	head := l.arrivals.SwapAcqRel(lockedEmpty)
	head.gate.StoreRelease(node.eos)
}
