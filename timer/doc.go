// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package timer implements a coarse, lock-free software timer wheel: a
// fixed pool of slots, each holding a callback and an expiration tick,
// with a single shared "earliest" watermark so [Wheel.Expire] can skip
// the whole pool when nothing is due. Allocating and freeing a slot pops
// and pushes a lock-free singly linked freelist; setting, resetting and
// cancelling a slot's expiration are single-word compare-and-swaps.
// Grounded on p64_timer.h/.c.
package timer
