// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Semaphore is a fair counting semaphore: waiters are admitted in the
// order they called Acquire, never letting a later caller cut ahead of
// an earlier one even under contention. The original packs its acquired
// and released counters into one 64-bit word so a single fetch-add both
// claims a position and snapshots the released count; conc64 keeps them
// as two independent atomics, safe here (unlike [TaskFairRW]) because
// each caller's wait condition only ever needs its own claimed position
// and the latest released count, never a value correlated with another
// party's concurrent read. Grounded on
// original_source/src/p64_semaphore.c.
type Semaphore struct {
	acquired atomix.Uint32
	released atomix.Uint32
}

// NewSemaphore creates a semaphore initialized with count permits.
func NewSemaphore(count uint32) *Semaphore {
	s := &Semaphore{}
	s.released.StoreRelaxed(count)
	return s
}

// AcquireN blocks until n permits are available, then claims them.
func (s *Semaphore) AcquireN(n uint32) {
	mine := s.acquired.AddAcqRel(n) - n
	var w spin.Wait
	for int32(s.released.LoadAcquire()-(mine+n)) < 0 {
		w.Once()
	}
}

// Acquire blocks until one permit is available, then claims it.
func (s *Semaphore) Acquire() {
	s.AcquireN(1)
}

// ReleaseN returns n permits.
func (s *Semaphore) ReleaseN(n uint32) {
	s.released.AddAcqRel(n)
}

// Release returns one permit.
func (s *Semaphore) Release() {
	s.ReleaseN(1)
}
