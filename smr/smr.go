// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package smr implements safe memory reclamation for lock-free containers:
// hazard pointers (HP) and quiescent-state based reclamation (QSBR). Each
// scheme has its own participation record: HP threads hold a [Thread] and
// QSBR threads a [QSBRThread]. The per-reference operations
// (Acquire/Release) exist only for HP threads.
package smr

import (
	"sort"
	"sync"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64"
)

// MaxThreads bounds the number of threads that may ever register with a
// domain, same role as progress64's build-time MAXTHREADS.
const MaxThreads = 256

// CacheLineSize is used both for padding and for the "null-range" check:
// any pointer value below CacheLineSize is treated as a NULL pointer so
// that callers may stash small tag values in a pointer-sized field.
const CacheLineSize = 64

// pad prevents false sharing between hot fields of different threads.
type pad [CacheLineSize]byte

// threadIndex is the trivial bitmap-backed thread-index allocator that
// spec.md lists as an external collaborator; conc64 carries a minimal one
// internally since Go has nothing to delegate it to.
type threadIndex struct {
	mu   sync.Mutex
	free []uint32
	next uint32
}

func (a *threadIndex) alloc() (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		return idx, true
	}
	if a.next >= MaxThreads {
		return 0, false
	}
	idx := a.next
	a.next++
	return idx, true
}

func (a *threadIndex) release(idx uint32) {
	a.mu.Lock()
	a.free = append(a.free, idx)
	a.mu.Unlock()
}

// isNullPtr reports whether addr falls in the "null-range": values below
// CacheLineSize are reserved so callers may encode small tags in the low
// bits of an otherwise-pointer-sized field (spec.md §4.1.1).
func isNullPtr(addr uintptr) bool {
	return addr != 0 && addr < CacheLineSize
}

// retiredObj is a (pointer, callback) pair awaiting the reclamation
// predicate, kept as a real Go pointer (not uintptr) so the garbage
// collector keeps the referent alive until the callback runs.
type retiredObj struct {
	ptr   unsafe.Pointer
	cb    func(unsafe.Pointer)
	epoch int64 // QSBR retirement interval; unused by HP
}

func sortPtrs(p []unsafe.Pointer) {
	sort.Slice(p, func(i, j int) bool { return uintptr(p[i]) < uintptr(p[j]) })
}

func findPtr(sorted []unsafe.Pointer, p unsafe.Pointer) bool {
	i := sort.Search(len(sorted), func(i int) bool { return uintptr(sorted[i]) >= uintptr(p) })
	return i < len(sorted) && sorted[i] == p
}
