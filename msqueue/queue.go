// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package msqueue implements the Michael & Scott lock-free FIFO queue,
// with a choice of three ABA-avoidance strategies, mirroring progress64's
// p64_msqueue.
package msqueue

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/conc64/smr"
	"code.hybscloud.com/spin"
)

// ABA selects how the queue protects against the ABA problem on its
// head/tail pointers. See [lfstack.ABA] for the same three strategies
// applied to a stack.
type ABA int

const (
	ABALock ABA = iota
	ABATag
	ABASMR
)

// Elem is a queue node. The zero value is ready to enqueue once Value is
// set.
type Elem[T any] struct {
	next  atomix.Pointer[Elem[T]]
	Value T
}

type generation[T any] struct {
	node *Elem[T]
	tag  uint64
}

// Queue is an unbounded Michael-Scott FIFO queue of Elem[T] nodes. The
// zero value is not usable; use [New]. A Queue always holds one dummy
// node so Dequeue can tell "empty" from "one real element" without a
// special case.
//
// The th parameter accepted by [Queue.Enqueue] and [Queue.Dequeue] is
// only consulted under [ABASMR] (where dereferencing head/tail requires
// a hazard-pointer domain thread); pass nil for [ABALock] and [ABATag].
type Queue[T any] struct {
	aba ABA

	mu       sync.Mutex // ABALock
	lockHead *Elem[T]
	lockTail *Elem[T]

	genHead atomix.Pointer[generation[T]] // ABATag
	genTail atomix.Pointer[generation[T]] // ABATag

	smrHead atomix.Pointer[Elem[T]] // ABASMR
	smrTail atomix.Pointer[Elem[T]] // ABASMR
	dom     *smr.HPDomain           // ABASMR
}

// New creates an empty queue using the given ABA-avoidance strategy. dom
// is required (and only used) when aba is [ABASMR]; it must outlive the
// queue.
func New[T any](aba ABA, dom *smr.HPDomain) *Queue[T] {
	q := &Queue[T]{aba: aba, dom: dom}
	dummy := &Elem[T]{}
	switch aba {
	case ABALock:
		q.lockHead, q.lockTail = dummy, dummy
	case ABATag:
		q.genHead.StoreRelease(&generation[T]{node: dummy})
		q.genTail.StoreRelease(&generation[T]{node: dummy})
	case ABASMR:
		if dom == nil {
			conc64.ReportError("msqueue", "ABASMR requires a hazard pointer domain", 0)
		}
		q.smrHead.StoreRelease(dummy)
		q.smrTail.StoreRelease(dummy)
	}
	return q
}

// Enqueue appends elem at the tail. elem must not be nil.
func (q *Queue[T]) Enqueue(th *smr.Thread, elem *Elem[T]) {
	if elem == nil {
		conc64.ReportError("msqueue", "enqueue nil element", 0)
		return
	}
	elem.next.StoreRelaxed(nil)
	switch q.aba {
	case ABALock:
		q.mu.Lock()
		q.lockTail.next.StoreRelaxed(elem)
		q.lockTail = elem
		q.mu.Unlock()
	case ABATag:
		q.enqueueTag(elem)
	case ABASMR:
		q.enqueueSMR(th, elem)
	}
}

func (q *Queue[T]) enqueueTag(node *Elem[T]) {
	var w spin.Wait
	for {
		tail := q.genTail.LoadAcquire()
		next := tail.node.next.LoadAcquire()
		if next != nil {
			// Tail lagged behind; help advance it and retry.
			q.genTail.CompareAndSwapAcqRel(tail, &generation[T]{node: next, tag: tail.tag + 1})
			w.Once()
			continue
		}
		if tail.node.next.CompareAndSwapAcqRel(nil, node) {
			q.genTail.CompareAndSwapAcqRel(tail, &generation[T]{node: node, tag: tail.tag + 1})
			return
		}
		w.Once()
	}
}

func (q *Queue[T]) enqueueSMR(th *smr.Thread, node *Elem[T]) {
	var hp smr.Hazard
	defer smr.Release(th, &hp)
	var w spin.Wait
	for {
		tail := smr.Acquire(th, &q.smrTail, &hp)
		next := tail.next.LoadAcquire()
		if next != nil {
			q.smrTail.CompareAndSwapAcqRel(tail, next)
			w.Once()
			continue
		}
		if tail.next.CompareAndSwapAcqRel(nil, node) {
			q.smrTail.CompareAndSwapAcqRel(tail, node)
			return
		}
		w.Once()
	}
}

// Dequeue removes and returns the head element, or nil if the queue is
// empty. The returned node is the former head, which held the dummy role
// internally; its Value is set to the payload of what used to be the
// second node, so it carries the dequeued Value but is not necessarily
// the node that was passed to Enqueue. Under [ABASMR], the
// returned node must be retired through th rather than reused
// immediately.
func (q *Queue[T]) Dequeue(th *smr.Thread) *Elem[T] {
	switch q.aba {
	case ABALock:
		return q.dequeueLock()
	case ABATag:
		return q.dequeueTag()
	case ABASMR:
		return q.dequeueSMR(th)
	}
	return nil
}

func (q *Queue[T]) dequeueLock() *Elem[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	next := q.lockHead.next.LoadRelaxed()
	if next == nil {
		return nil
	}
	next.Value, q.lockHead.Value = q.lockHead.Value, next.Value
	old := q.lockHead
	q.lockHead = next
	return old
}

func (q *Queue[T]) dequeueTag() *Elem[T] {
	var w spin.Wait
	for {
		head := q.genHead.LoadAcquire()
		tail := q.genTail.LoadRelaxed()
		next := head.node.next.LoadAcquire()
		if head.node == tail.node {
			if next == nil {
				return nil
			}
			q.genTail.CompareAndSwapAcqRel(tail, &generation[T]{node: next, tag: tail.tag + 1})
			w.Once()
			continue
		}
		value := next.Value
		if q.genHead.CompareAndSwapAcqRel(head, &generation[T]{node: next, tag: head.tag + 1}) {
			head.node.Value = value
			return head.node
		}
		w.Once()
	}
}

func (q *Queue[T]) dequeueSMR(th *smr.Thread) *Elem[T] {
	var hpHead, hpNext smr.Hazard
	defer smr.Release(th, &hpHead)
	defer smr.Release(th, &hpNext)
	var w spin.Wait
	for {
		head := smr.Acquire(th, &q.smrHead, &hpHead)
		tail := q.smrTail.LoadRelaxed()
		next := smr.Acquire(th, &head.next, &hpNext)
		if next == nil {
			return nil
		}
		if head == tail {
			// Tail has fallen behind; help advance it and retry.
			q.smrTail.CompareAndSwapAcqRel(tail, next)
			w.Once()
			continue
		}
		value := next.Value
		if q.smrHead.CompareAndSwapAcqRel(head, next) {
			head.Value = value
			return head
		}
		w.Once()
	}
}
