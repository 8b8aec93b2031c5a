// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// CLHNode is one waiter's queue node for a [CLH] lock. Ownership of a
// node passes from holder to holder: Acquire enqueues the caller's node,
// and Release leaves that node to whoever acquires next while handing
// the caller the node it was waiting on (its predecessor's). Callers
// thread a *CLHNode var
// through their acquire/release pairs the way the original threads a
// p64_clhnode_t**.
type CLHNode struct {
	prev *CLHNode
	wait atomix.Bool
}

// CLH is a CLH queue lock: each waiter spins on its predecessor's node
// rather than on a single shared word, giving only local-variable
// contention. Grounded on original_source/src/p64_clhlock.c.
type CLH struct {
	tail atomix.Pointer[CLHNode]
}

// NewCLH creates an unlocked CLH lock.
func NewCLH() *CLH {
	l := &CLH{}
	l.tail.StoreRelaxed(&CLHNode{})
	return l
}

func clhEnqueue(l *CLH, nodep **CLHNode) *CLHNode {
	node := *nodep
	if node == nil {
		node = &CLHNode{}
		*nodep = node
	}
	node.wait.StoreRelaxed(true)
	prev := l.tail.SwapAcqRel(node)
	node.prev = prev
	return prev
}

// Acquire blocks until this caller holds the lock. *nodep may start out
// nil (a node is allocated lazily on first use) or hold a node returned
// by a previous [CLH.Release] on this same lock.
func (l *CLH) Acquire(nodep **CLHNode) {
	prev := clhEnqueue(l, nodep)
	var w spin.Wait
	for prev.wait.LoadAcquire() {
		w.Once()
	}
}

// Release releases the lock. *nodep is updated to the predecessor node
// this caller now owns, ready to be reused on the next Acquire.
func (l *CLH) Release(nodep **CLHNode) {
	node := *nodep
	prev := node.prev
	node.wait.StoreRelease(false)
	*nodep = prev
}
