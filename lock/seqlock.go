// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Seq is a sequence lock: writers take it exclusively and serially, but
// readers never block a writer and never block each other, instead
// detecting (and retrying past) a writer that ran concurrently with
// their read by checking whether the sequence counter changed.
//
// There is no p64_seqlock in the retrieval pack this module was built
// from; no progress64 component or sibling example implements one. This
// type is built directly from the general pattern: a single counter,
// odd while a write is in progress, even otherwise, with readers
// retrying whenever the counter they observed at the start of a read
// doesn't match the counter observed at the end — combined with the
// same ticket-publish idiom ([Ticket], [TaskFairRW]) this module already
// uses elsewhere for "increment to announce, compare to detect".
type Seq struct {
	seq atomix.Uint64
}

// WriteBegin blocks until this caller holds exclusive write access, then
// returns the value that must be passed to [Seq.WriteEnd].
func (l *Seq) WriteBegin() uint64 {
	var w spin.Wait
	for {
		old := l.seq.LoadAcquire()
		if old&1 != 0 {
			w.Once()
			continue
		}
		if l.seq.CompareAndSwapAcqRel(old, old+1) {
			return old + 1
		}
	}
}

// WriteEnd ends the write started with the tkt returned by
// [Seq.WriteBegin], publishing the writer's changes to readers.
func (l *Seq) WriteEnd(tkt uint64) {
	l.seq.StoreRelease(tkt + 1)
}

// ReadBegin waits out any writer currently in progress and returns a
// snapshot to pass to [Seq.ReadRetry].
func (l *Seq) ReadBegin() uint64 {
	var w spin.Wait
	for {
		v := l.seq.LoadAcquire()
		if v&1 == 0 {
			return v
		}
		w.Once()
	}
}

// ReadRetry reports whether a read that began at start must be retried
// because a writer ran (or is running) concurrently with it.
func (l *Seq) ReadRetry(start uint64) bool {
	return l.seq.LoadAcquire() != start
}
