// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reorder provides non-blocking reorder buffers: Buffer, a
// strict reorder buffer where any releaser may retire in-order
// elements, and BuckBuffer, a pass-the-buck variant where retirement
// responsibility is handed from releaser to releaser so that only one
// goroutine is ever scanning the ring at a time. Grounded on
// p64_reorder.h/.c and p64_buckrob.h/.c.
package reorder
