// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MCSNode is one waiter's queue node for an [MCS] lock. Unlike [CLHNode],
// a node is owned by a single acquire/release pair and does not pass
// between callers; a fresh (or reused-but-idle) node is supplied to
// every Acquire call.
type MCSNode struct {
	next atomix.Pointer[MCSNode]
	wait atomix.Bool
}

// MCS is an MCS queue lock: each waiter links itself onto the tail and
// spins on its own node, signalled by its predecessor's release.
// Grounded on original_source/src/p64_mcslock.c.
type MCS struct {
	tail atomix.Pointer[MCSNode]
}

// Acquire blocks until this caller holds the lock, using node (which
// need not be initialized) as this call's queue node.
func (l *MCS) Acquire(node *MCSNode) {
	node.next.StoreRelaxed(nil)
	node.wait.StoreRelaxed(true)
	prev := l.tail.SwapAcqRel(node)
	if prev == nil {
		return
	}
	prev.next.StoreRelease(node)
	var w spin.Wait
	for node.wait.LoadAcquire() {
		w.Once()
	}
}

// Release releases the lock acquired with node.
func (l *MCS) Release(node *MCSNode) {
	next := node.next.LoadAcquire()
	if next == nil {
		if l.tail.CompareAndSwapAcqRel(node, nil) {
			return
		}
		var w spin.Wait
		for {
			next = node.next.LoadAcquire()
			if next != nil {
				break
			}
			w.Once()
		}
	}
	next.wait.StoreRelease(false)
}
