// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Spin is a test-and-test-and-set spinlock. The zero value is an
// unlocked lock. Grounded on original_source/src/p64_spinlock.c.
type Spin struct {
	state atomix.Uint32
}

// Acquire blocks until the lock is held.
func (l *Spin) Acquire() {
	var w spin.Wait
	for {
		if l.state.LoadRelaxed() != 0 {
			for l.state.LoadRelaxed() != 0 {
				w.Once()
			}
		}
		if l.state.CompareAndSwapAcqRel(0, 1) {
			return
		}
	}
}

// TryAcquire acquires the lock without waiting, reporting success.
func (l *Spin) TryAcquire() bool {
	if l.state.LoadRelaxed() != 0 {
		return false
	}
	return l.state.CompareAndSwapAcqRel(0, 1)
}

// Release unlocks the lock.
func (l *Spin) Release() {
	l.state.StoreRelease(0)
}

// ReleaseRO unlocks the lock for a holder that only read shared data,
// never wrote it. The original orders only loads (not stores) here,
// a weaker fence than a full release; atomix exposes no standalone
// load-store fence, so this uses the same full release as [Spin.Release]
// instead, which is always safe, just unconditionally stronger than the
// original's acquire-only holders strictly need.
func (l *Spin) ReleaseRO() {
	l.state.StoreRelease(0)
}
