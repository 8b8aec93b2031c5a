// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mcas implements a lock-free multi-word compare-and-swap: CASN
// replaces the logical value behind any number of distinct [Loc]s as one
// indivisible group, succeeding only if every location still holds its
// expected value. It follows Harris, Fraser and Pratt's two-phase
// helping protocol — a location is first tagged with a single-word
// conditional CAS (CCAS) descriptor, which is promoted to the group-wide
// (MCAS) descriptor right after it is installed while the group's outcome
// is still undecided; once the outcome is decided every tag is resolved
// to either the new or the original value. Any
// goroutine that reads a tagged location helps the operation that owns
// it make progress before returning, so forward progress never depends
// on the thread that started a CASN. Grounded on p64_mcas.h/.c.
package mcas
