// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package smr_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/conc64/smr"
)

type hpNode struct {
	val int
}

func TestHPAcquireReleaseBasic(t *testing.T) {
	dom := smr.NewHPDomain(0, 2)
	th := dom.Register()
	defer th.Unregister()

	var slot atomix.Pointer[hpNode]
	n := &hpNode{val: 7}
	slot.StoreRelease(n)

	var hp smr.Hazard
	got := smr.Acquire(th, &slot, &hp)
	if got != n {
		t.Fatalf("Acquire: got %v, want %v", got, n)
	}
	smr.Release(th, &hp)
}

func TestHPAcquireNilSlot(t *testing.T) {
	dom := smr.NewHPDomain(0, 1)
	th := dom.Register()
	defer th.Unregister()

	var slot atomix.Pointer[hpNode]
	var hp smr.Hazard
	if got := smr.Acquire(th, &slot, &hp); got != nil {
		t.Fatalf("Acquire on nil slot: got %v, want nil", got)
	}
}

func TestHPRetireDefersReclamationWhileAcquired(t *testing.T) {
	dom := smr.NewHPDomain(0, 2)
	th := dom.Register()
	defer th.Unregister()

	var slot atomix.Pointer[hpNode]
	n := &hpNode{val: 1}
	slot.StoreRelease(n)

	var hp smr.Hazard
	if smr.Acquire(th, &slot, &hp) != n {
		t.Fatalf("Acquire failed")
	}
	slot.StoreRelease(nil)

	var reclaimed int32
	smr.Retire(th, n, func(*hpNode) { atomic.AddInt32(&reclaimed, 1) })
	th.Reclaim()
	if atomic.LoadInt32(&reclaimed) != 0 {
		t.Fatalf("object reclaimed while still hazarded")
	}

	smr.Release(th, &hp)
	th.Reclaim()
	if atomic.LoadInt32(&reclaimed) != 1 {
		t.Fatalf("object not reclaimed after release: got %d", reclaimed)
	}
}

func TestHPConcurrentAcquireRetire(t *testing.T) {
	const nreaders = 8
	const niters = 2000

	dom := smr.NewHPDomain(0, 2)
	var slot atomix.Pointer[hpNode]
	slot.StoreRelease(&hpNode{val: 0})

	var wg sync.WaitGroup
	wg.Add(nreaders + 1)

	stop := make(chan struct{})
	for i := 0; i < nreaders; i++ {
		go func() {
			defer wg.Done()
			th := dom.Register()
			defer th.Unregister()
			var hp smr.Hazard
			for {
				select {
				case <-stop:
					return
				default:
				}
				if n := smr.Acquire(th, &slot, &hp); n != nil {
					_ = n.val
				}
				smr.Release(th, &hp)
			}
		}()
	}

	go func() {
		defer wg.Done()
		th := dom.Register()
		defer th.Unregister()
		for i := 0; i < niters; i++ {
			next := &hpNode{val: i}
			old := slot.SwapAcqRel(next)
			if old != nil {
				smr.Retire(th, old, func(*hpNode) {})
			}
			th.Reclaim()
		}
		close(stop)
	}()

	wg.Wait()
}

func TestHPUnregisterWithPendingObjectsReportsError(t *testing.T) {
	var reported bool
	conc64InstallReturnHandler(t, &reported)

	dom := smr.NewHPDomain(0, 1)
	th := dom.Register()
	smr.Retire(th, &hpNode{}, func(*hpNode) {})
	th.Unregister()

	if !reported {
		t.Fatalf("expected error handler to be invoked")
	}
}
