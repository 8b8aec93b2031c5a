// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

const (
	rwclhWait       = int32(0)
	rwclhSignalAcq  = int32(1)
	rwclhSignalRel  = int32(2)
	rwclhWakeAcq    = rwclhSignalAcq + 2
	rwclhWakeRel    = rwclhSignalRel + 2
)

// SpinForever disables the acquire spin timeout, always busy-waiting
// instead of falling back to a blocking wait. Mirrors
// P64_RWCLHLOCK_SPIN_FOREVER.
const SpinForever time.Duration = -1

// RWCLHNode is one waiter's queue node for an [RWCLH] lock. Like
// [CLHNode], ownership of a node passes from holder to holder across
// acquire/release pairs.
type RWCLHNode struct {
	prev    *RWCLHNode
	spinTmo time.Duration
	state   atomix.Int32
	wake    chan struct{}
}

func newRWCLHNode(spinTmo time.Duration) *RWCLHNode {
	return &RWCLHNode{spinTmo: spinTmo, wake: make(chan struct{}, 1)}
}

// RWCLH is a CLH-style reader/writer lock: once a caller has spun past
// spinTmo waiting for its predecessor, it asks that predecessor for a
// wakeup instead of continuing to burn a core, the queue-lock analogue
// of futex-based blocking. conc64 uses a buffered channel per node as
// the wakeup primitive in place of the original's Linux futex syscalls,
// since Go has no portable futex equivalent and a channel is the
// idiomatic way to block a goroutine until signalled. Grounded on
// original_source/src/p64_rwclhlock.c.
type RWCLH struct {
	tail    atomix.Pointer[RWCLHNode]
	spinTmo time.Duration
}

// NewRWCLH creates an unlocked lock whose waiters spin for spinTmo
// before falling back to blocking (or forever, with [SpinForever]).
func NewRWCLH(spinTmo time.Duration) *RWCLH {
	n := newRWCLHNode(spinTmo)
	n.state.StoreRelaxed(rwclhSignalRel)
	l := &RWCLH{spinTmo: spinTmo}
	l.tail.StoreRelaxed(n)
	return l
}

func rwclhEnqueue(l *RWCLH, nodep **RWCLHNode) *RWCLHNode {
	node := *nodep
	if node == nil {
		node = newRWCLHNode(l.spinTmo)
		*nodep = node
	}
	node.prev = nil
	node.state.StoreRelaxed(rwclhWait)
	return l.tail.SwapAcqRel(node)
}

func rwclhWaitPrev(n *RWCLHNode, sig int32) {
	if n.state.LoadAcquire() >= sig {
		return
	}
	var w spin.Wait
	if n.spinTmo == SpinForever {
		for n.state.LoadAcquire() < sig {
			w.Once()
		}
		return
	}
	deadline := time.Now().Add(n.spinTmo)
	for time.Now().Before(deadline) {
		if n.state.LoadAcquire() >= sig {
			return
		}
		w.Once()
	}
	for {
		actual := n.state.LoadAcquire()
		if actual >= sig {
			return
		}
		wakeup := sig + 2
		if n.state.CompareAndSwapAcqRel(actual, wakeup) {
			<-n.wake
			actual = n.state.LoadAcquire()
			if actual >= sig {
				return
			}
		}
	}
}

func rwclhSignalNext(n *RWCLHNode, sig int32) {
	if n.state.CompareAndSwapAcqRel(rwclhWait, sig) {
		return
	}
	for {
		old := n.state.LoadAcquire()
		if old == rwclhWakeRel && sig == rwclhSignalAcq {
			// A waiter is already blocked for SIGNAL_REL; don't wake it
			// early for SIGNAL_ACQ, wait until we can signal REL instead.
			return
		}
		if n.state.CompareAndSwapAcqRel(old, sig) {
			if old == rwclhWakeAcq || old == rwclhWakeRel {
				select {
				case n.wake <- struct{}{}:
				default:
				}
			}
			return
		}
	}
}

// AcquireRead blocks until a read position is held. *nodep may start
// out nil or hold a node returned by this caller's own previous
// [RWCLH.ReleaseRead]/[RWCLH.ReleaseWrite] on this lock.
func (l *RWCLH) AcquireRead(nodep **RWCLHNode) {
	prev := rwclhEnqueue(l, nodep)
	node := *nodep
	node.prev = prev
	rwclhWaitPrev(prev, rwclhSignalAcq)
	rwclhSignalNext(node, rwclhSignalAcq)
}

// ReleaseRead releases a read position.
func (l *RWCLH) ReleaseRead(nodep **RWCLHNode) {
	node := *nodep
	prev := node.prev
	rwclhWaitPrev(prev, rwclhSignalRel)
	rwclhSignalNext(node, rwclhSignalRel)
	*nodep = prev
}

// AcquireWrite blocks until the write position is held.
func (l *RWCLH) AcquireWrite(nodep **RWCLHNode) {
	prev := rwclhEnqueue(l, nodep)
	node := *nodep
	node.prev = prev
	rwclhWaitPrev(prev, rwclhSignalRel)
}

// ReleaseWrite releases the write position.
func (l *RWCLH) ReleaseWrite(nodep **RWCLHNode) {
	node := *nodep
	prev := node.prev
	rwclhSignalNext(node, rwclhSignalRel)
	*nodep = prev
}
