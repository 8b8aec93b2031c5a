// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mcas_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/conc64/mcas"
)

func TestReadReturnsInitialValue(t *testing.T) {
	v := 7
	loc := mcas.NewLoc(&v)
	got := mcas.Read(loc)
	if got != &v {
		t.Fatalf("Read = %p, want %p", got, &v)
	}
}

func TestCAS1SucceedsOnMatchAndFailsOnMismatch(t *testing.T) {
	a, b, c := 1, 2, 3
	loc := mcas.NewLoc(&a)

	if !mcas.CAS1(loc, &a, &b) {
		t.Fatalf("CAS1(a->b): want success")
	}
	if got := mcas.Read(loc); got != &b {
		t.Fatalf("Read = %p, want %p", got, &b)
	}
	if mcas.CAS1(loc, &a, &c) {
		t.Fatalf("CAS1(a->c): want failure, loc no longer holds a")
	}
	if got := mcas.Read(loc); got != &b {
		t.Fatalf("Read after failed CAS1 = %p, want %p unchanged", got, &b)
	}
}

func TestCASNCommitsAllLocationsTogether(t *testing.T) {
	va, vb, vc := 1, 2, 3
	na, nb, nc := 10, 20, 30
	la := mcas.NewLoc(&va)
	lb := mcas.NewLoc(&vb)
	lc := mcas.NewLoc(&vc)

	ok := mcas.CASN(
		[]*mcas.Loc[int]{lc, la, lb},
		[]*int{&vc, &va, &vb},
		[]*int{&nc, &na, &nb},
	)
	if !ok {
		t.Fatalf("CASN: want success")
	}
	if got := mcas.Read(la); got != &na {
		t.Fatalf("la = %p, want %p", got, &na)
	}
	if got := mcas.Read(lb); got != &nb {
		t.Fatalf("lb = %p, want %p", got, &nb)
	}
	if got := mcas.Read(lc); got != &nc {
		t.Fatalf("lc = %p, want %p", got, &nc)
	}
}

func TestCASNFailsAndLeavesEveryLocationUnchanged(t *testing.T) {
	va, vb, stale := 1, 2, 99
	na, nb := 10, 20
	la := mcas.NewLoc(&va)
	lb := mcas.NewLoc(&vb)

	ok := mcas.CASN(
		[]*mcas.Loc[int]{la, lb},
		[]*int{&va, &stale},
		[]*int{&na, &nb},
	)
	if ok {
		t.Fatalf("CASN: want failure, lb does not hold stale")
	}
	if got := mcas.Read(la); got != &va {
		t.Fatalf("la = %p, want unchanged %p", got, &va)
	}
	if got := mcas.Read(lb); got != &vb {
		t.Fatalf("lb = %p, want unchanged %p", got, &vb)
	}
}

func TestCASNRejectsDuplicateLocations(t *testing.T) {
	v := 1
	n := 2
	loc := mcas.NewLoc(&v)

	defer func() {
		if recover() == nil {
			t.Fatalf("CASN with duplicate locations: want a reported error")
		}
	}()
	mcas.CASN([]*mcas.Loc[int]{loc, loc}, []*int{&v, &v}, []*int{&n, &n})
}

func TestCASNConcurrentTransfersPreserveTotal(t *testing.T) {
	const accounts = 8
	const workers = 50
	const perWorker = 20
	const start = 100

	balances := make([]int, accounts)
	locs := make([]*mcas.Loc[int], accounts)
	for i := range balances {
		balances[i] = start
		locs[i] = mcas.NewLoc(&balances[i])
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				from := seed % accounts
				to := (seed + i + 1) % accounts
				if from == to {
					continue
				}
				for {
					fv := mcas.Read(locs[from])
					tv := mcas.Read(locs[to])
					if *fv <= 0 {
						break
					}
					nfv := *fv - 1
					ntv := *tv + 1
					if mcas.CASN(
						[]*mcas.Loc[int]{locs[from], locs[to]},
						[]*int{fv, tv},
						[]*int{&nfv, &ntv},
					) {
						break
					}
				}
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for i := range locs {
		total += *mcas.Read(locs[i])
	}
	if want := accounts * start; total != want {
		t.Fatalf("total = %d, want %d", total, want)
	}
}
