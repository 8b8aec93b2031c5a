// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reassemble implements a lock-free fragment-reassembly table:
// fragments sharing a Hash (e.g. derived from an IP datagram's source,
// destination, protocol and identification fields) accumulate in a
// per-bucket list until every offset from zero is covered, at which
// point the completed chain is handed to a callback. A second callback
// receives fragments evicted by Expire for arriving before a caller-
// supplied cutoff, using serial-number arithmetic so the cutoff can
// wrap. An extendable table doubles its bucket count without blocking
// concurrent Insert/Expire callers. Grounded on p64_reassemble.h/.c.
package reassemble
