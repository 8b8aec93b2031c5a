// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package conc64 is the root of a library of concurrent data structures and
// synchronization primitives for shared-memory multiprocessors: safe memory
// reclamation, lock-free containers, queue locks and fair reader/writer
// locks, and stackful coroutine/fiber scheduling.
//
// The root package holds only the one thing every other package shares: a
// pluggable error handler (see [InstallErrorHandler]). All containers,
// locks, and schedulers live in subpackages:
//
//	conc64/smr        safe memory reclamation (hazard pointers, QSBR)
//	conc64/ring       blocking ring buffer, mode-selectable per side
//	conc64/lfstack    lock-free stack (LOCK/TAG/SMR ABA strategies)
//	conc64/msqueue    Michael-Scott unbounded queue
//	conc64/buckring   pass-the-buck non-blocking ring
//	conc64/hashtable  separate-chaining hash table
//	conc64/hopscotch  hopscotch hash table with overflow cellar
//	conc64/cuckoo     cuckoo hash table with overflow cellar
//	conc64/mbtrie     multi-bit longest-prefix-match trie
//	conc64/lock       spin/ticket/CLH/MCS/Hemlock/RP/RW/seqlock/skiplock
//	conc64/fiber      coroutines and round-robin fibers
//	conc64/reorder    reorder buffer and pass-the-buck reorder buffer
//	conc64/reassemble lock-free fragment reassembly table
//	conc64/mcas       multi-word compare-and-swap
//	conc64/timer      coarse hashed timing wheel
package conc64
