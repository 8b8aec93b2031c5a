// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hashtable_test

import (
	"fmt"
	"sync"
	"testing"

	"code.hybscloud.com/conc64/hashtable"
	"code.hybscloud.com/conc64/smr"
)

func hashOf(key int) uint64 { return uint64(key)*2654435761 + 1 }

func cf(e *hashtable.Elem[int], key any) int {
	if e.Value == key.(int) {
		return 0
	}
	return 1
}

func TestTableInsertLookupRemoveHP(t *testing.T) {
	dom := smr.NewHPDomain(0, 2)
	th := dom.Register()
	defer th.Unregister()

	tbl := hashtable.New[int](16, hashtable.ModeHP, cf, dom)
	elems := make([]*hashtable.Elem[int], 10)
	for i := range elems {
		elems[i] = &hashtable.Elem[int]{Value: i}
		tbl.Insert(th, nil, elems[i], hashOf(i))
	}
	for i := range elems {
		got := tbl.Lookup(th, nil, hashOf(i), i)
		if got == nil || got.Value != i {
			t.Fatalf("Lookup(%d): got %v, want elem with value %d", i, got, i)
		}
	}
	if got := tbl.Lookup(th, nil, hashOf(99), 99); got != nil {
		t.Fatalf("Lookup(99): got %v, want nil", got)
	}
	if !tbl.Remove(th, nil, elems[3], hashOf(3)) {
		t.Fatalf("Remove(3): want true")
	}
	smr.Retire(th, elems[3], func(*hashtable.Elem[int]) {})
	th.Reclaim()
	if got := tbl.Lookup(th, nil, hashOf(3), 3); got != nil {
		t.Fatalf("Lookup(3) after remove: got %v, want nil", got)
	}
	if tbl.Remove(th, nil, elems[3], hashOf(3)) {
		t.Fatalf("Remove(3) twice: want false")
	}
}

func TestTableRemoveByKeyQSBR(t *testing.T) {
	dom := smr.NewQSBRDomain(0)
	qt := dom.Register()
	defer qt.Unregister()

	tbl := hashtable.New[int](8, hashtable.ModeQSBR, cf, nil)
	for i := 0; i < 5; i++ {
		tbl.Insert(nil, qt, &hashtable.Elem[int]{Value: i}, hashOf(i))
	}
	found := tbl.RemoveByKey(nil, qt, hashOf(2), 2)
	if found == nil || found.Value != 2 {
		t.Fatalf("RemoveByKey(2): got %v", found)
	}
	if got := tbl.Lookup(nil, qt, hashOf(2), 2); got != nil {
		t.Fatalf("Lookup(2) after RemoveByKey: got %v, want nil", got)
	}
	if got := tbl.RemoveByKey(nil, qt, hashOf(2), 2); got != nil {
		t.Fatalf("RemoveByKey(2) twice: got %v, want nil", got)
	}
}

func TestTableInsertDuplicateReportsError(t *testing.T) {
	dom := smr.NewHPDomain(0, 2)
	th := dom.Register()
	defer th.Unregister()
	var called bool
	conc64InstallReturnHandler(t, &called)

	tbl := hashtable.New[int](4, hashtable.ModeHP, cf, dom)
	e := &hashtable.Elem[int]{Value: 1}
	tbl.Insert(th, nil, e, hashOf(1))
	tbl.Insert(th, nil, e, hashOf(1))
	if !called {
		t.Fatalf("expected error handler to be invoked for duplicate insert")
	}
}

func TestTableConcurrentInsertLookupHP(t *testing.T) {
	const n = 500
	dom := smr.NewHPDomain(0, 2)
	tbl := hashtable.New[int](64, hashtable.ModeHP, cf, dom)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			th := dom.Register()
			defer th.Unregister()
			tbl.Insert(th, nil, &hashtable.Elem[int]{Value: i}, hashOf(i))
		}(i)
	}
	wg.Wait()

	th := dom.Register()
	defer th.Unregister()
	for i := 0; i < n; i++ {
		if got := tbl.Lookup(th, nil, hashOf(i), i); got == nil {
			t.Fatalf("Lookup(%d): not found after concurrent insert", i)
		}
	}
}

func ExampleTable_collisionChaining() {
	dom := smr.NewHPDomain(0, 2)
	th := dom.Register()
	defer th.Unregister()
	tbl := hashtable.New[int](1, hashtable.ModeHP, cf, dom) // single bucket forces chaining
	for i := 0; i < 3; i++ {
		tbl.Insert(th, nil, &hashtable.Elem[int]{Value: i}, hashOf(i))
	}
	for i := 0; i < 3; i++ {
		fmt.Println(tbl.Lookup(th, nil, hashOf(i), i).Value)
	}
	// Output:
	// 0
	// 1
	// 2
}
