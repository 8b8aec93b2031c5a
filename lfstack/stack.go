// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lfstack implements a lock-free LIFO stack with a choice of
// three strategies for handling the ABA problem on the head pointer,
// mirroring progress64's p64_lfstack.
package lfstack

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
	"code.hybscloud.com/conc64/smr"
	"code.hybscloud.com/spin"
)

// ABA selects how a [Stack] protects against the ABA problem when a node
// is popped and later pushed back onto the same stack.
type ABA int

const (
	// ABALock serializes every push/pop behind a mutex. Simplest and
	// fastest under low contention; no lock-free progress guarantee.
	ABALock ABA = iota
	// ABATag detects ABA by boxing the head pointer together with a
	// monotonically increasing generation tag, and CASing the box
	// pointer instead of the head pointer directly. This is the portable
	// replacement for the original's double-word (pointer+tag) CAS,
	// which needs per-architecture support (a 128-bit CAS or a tagged
	// native pointer) that spec.md's "per-architecture intrinsics
	// wrappers" exclusion puts out of scope.
	ABATag
	// ABASMR defers reclamation of popped nodes to a hazard-pointer
	// domain, so a node's address is never observed twice with
	// different contents while hazarded.
	ABASMR
)

// Elem is a stack node. The zero value is ready to push once Value is
// set.
type Elem[T any] struct {
	next  atomix.Pointer[Elem[T]]
	Value T
}

type generation[T any] struct {
	head *Elem[T]
	tag  uint64
}

// Stack is a LIFO stack of Elem[T] nodes.
type Stack[T any] struct {
	aba ABA

	mu       sync.Mutex         // ABALock
	lockHead *Elem[T]           // ABALock
	gen      atomix.Pointer[generation[T]] // ABATag
	smrHead  atomix.Pointer[Elem[T]]       // ABASMR
	dom      *smr.HPDomain                 // ABASMR
}

// New creates an empty stack using the given ABA-avoidance strategy. dom
// is required (and only used) when aba is [ABASMR]; it must outlive the
// stack.
func New[T any](aba ABA, dom *smr.HPDomain) *Stack[T] {
	s := &Stack[T]{aba: aba, dom: dom}
	if aba == ABATag {
		s.gen.StoreRelease(&generation[T]{})
	}
	if aba == ABASMR && dom == nil {
		conc64.ReportError("lfstack", "ABASMR requires a hazard pointer domain", 0)
	}
	return s
}

// Push pushes elem onto the stack. elem must not be nil.
func (s *Stack[T]) Push(elem *Elem[T]) {
	if elem == nil {
		conc64.ReportError("lfstack", "push nil element", 0)
		return
	}
	switch s.aba {
	case ABALock:
		s.mu.Lock()
		elem.next.StoreRelaxed(s.lockHead)
		s.lockHead = elem
		s.mu.Unlock()
	case ABATag:
		s.pushTag(elem)
	case ABASMR:
		s.pushSMR(elem)
	}
}

func (s *Stack[T]) pushTag(elem *Elem[T]) {
	var w spin.Wait
	for {
		old := s.gen.LoadAcquire()
		elem.next.StoreRelaxed(old.head)
		next := &generation[T]{head: elem, tag: old.tag + 1}
		if s.gen.CompareAndSwapAcqRel(old, next) {
			return
		}
		w.Once()
	}
}

func (s *Stack[T]) pushSMR(elem *Elem[T]) {
	var w spin.Wait
	for {
		old := s.smrHead.LoadAcquire()
		elem.next.StoreRelaxed(old)
		if s.smrHead.CompareAndSwapAcqRel(old, elem) {
			return
		}
		w.Once()
	}
}

// Pop removes and returns the top element, or nil if the stack is empty.
// Under [ABASMR], the returned node must be retired with smr.Retire on th
// (a thread of the domain passed to [New]) rather than reused immediately — it may
// still be hazarded by a concurrent Pop.
func (s *Stack[T]) Pop(th *smr.Thread) *Elem[T] {
	switch s.aba {
	case ABALock:
		s.mu.Lock()
		defer s.mu.Unlock()
		head := s.lockHead
		if head != nil {
			s.lockHead = head.next.LoadRelaxed()
		}
		return head
	case ABATag:
		return s.popTag()
	case ABASMR:
		return s.popSMR(th)
	}
	return nil
}

func (s *Stack[T]) popTag() *Elem[T] {
	var w spin.Wait
	for {
		old := s.gen.LoadAcquire()
		if old.head == nil {
			return nil
		}
		next := &generation[T]{head: old.head.next.LoadRelaxed(), tag: old.tag + 1}
		if s.gen.CompareAndSwapAcqRel(old, next) {
			return old.head
		}
		w.Once()
	}
}

func (s *Stack[T]) popSMR(th *smr.Thread) *Elem[T] {
	var hp smr.Hazard
	defer smr.Release(th, &hp)
	var w spin.Wait
	for {
		head := smr.Acquire(th, &s.smrHead, &hp)
		if head == nil {
			return nil
		}
		next := head.next.LoadAcquire()
		if s.smrHead.CompareAndSwapAcqRel(head, next) {
			return head
		}
		w.Once()
	}
}
