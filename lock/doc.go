// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lock collects mutual-exclusion and reader/writer primitives
// mirroring progress64's queue-lock family: a test-and-test-and-set
// spinlock, a ticket lock, the CLH and MCS queue locks, Hemlock and
// Reciprocating (both queue locks built around a single exchanged tail
// pointer rather than a linked queue walk), a task-fair and a CLH-style
// reader/writer lock, a skip-ahead ticket lock, a fair counting
// semaphore, and a seqlock.
//
// Every queue lock here takes its wait node explicitly from the caller
// rather than relying on thread-local storage the way the C originals
// do: Go has no stable per-goroutine storage to hang a reused node off
// of, so callers thread a node value (or a *node slot, for locks that
// hand ownership of nodes back and forth across acquire/release pairs)
// through each call, the same way this module already threads an
// explicit *smr.Thread instead of relying on a thread-local.
package lock
