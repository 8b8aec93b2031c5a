// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ring implements a bounded blocking ring buffer whose producer
// and consumer sides each independently select an access mode at
// construction: single-writer, multi-writer that blocks a release until
// its predecessor has published, multi-writer that never blocks (a
// pending-release bitmask folds out-of-order completions into the
// public counter instead), and — consumer side only — a lock-free mode
// that reads speculatively and only commits via a CAS of its head.
// Sequence numbers are swizzled across slots so that two producers or
// consumers working adjacent positions touch different cache lines
// instead of false-sharing one. Grounded on p64_blkring.c and spec.md
// §4.4.
package ring
