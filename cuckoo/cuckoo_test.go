// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cuckoo_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/conc64/cuckoo"
)

func hashOf(key int) uint64 { return uint64(key)*2654435761 + 1 }

func cf(e *cuckoo.Elem[int], key any) int {
	if e.Value == key.(int) {
		return 0
	}
	return 1
}

func TestTableInsertLookupRemove(t *testing.T) {
	tbl := cuckoo.New[int](16, 16, cf)
	elems := make([]*cuckoo.Elem[int], 64)
	for i := range elems {
		elems[i] = &cuckoo.Elem[int]{Value: i}
		if !tbl.Insert(elems[i], hashOf(i)) {
			t.Fatalf("Insert(%d): want success", i)
		}
	}
	for i := range elems {
		got := tbl.Lookup(i, hashOf(i))
		if got == nil || got.Value != i {
			t.Fatalf("Lookup(%d): got %v, want elem with value %d", i, got, i)
		}
	}
	if !tbl.Remove(elems[10], hashOf(10)) {
		t.Fatalf("Remove(10): want true")
	}
	if got := tbl.Lookup(10, hashOf(10)); got != nil {
		t.Fatalf("Lookup(10) after remove: got %v, want nil", got)
	}
	if tbl.Remove(elems[10], hashOf(10)) {
		t.Fatalf("Remove(10) twice: want false")
	}
}

func TestTableTraverseVisitsAllLiveElements(t *testing.T) {
	tbl := cuckoo.New[int](16, 16, cf)
	want := map[int]bool{}
	for i := 0; i < 40; i++ {
		if !tbl.Insert(&cuckoo.Elem[int]{Value: i}, hashOf(i)) {
			t.Fatalf("Insert(%d): want success", i)
		}
		want[i] = true
	}
	got := map[int]bool{}
	tbl.Traverse(func(e *cuckoo.Elem[int], idx uint32, isCellar bool) {
		got[e.Value] = true
	})
	if len(got) != len(want) {
		t.Fatalf("Traverse visited %d elements, want %d", len(got), len(want))
	}
}

func TestTableConcurrentInsertLookup(t *testing.T) {
	const n = 400
	tbl := cuckoo.New[int](128, 128, cf)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			tbl.Insert(&cuckoo.Elem[int]{Value: i}, hashOf(i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if got := tbl.Lookup(i, hashOf(i)); got == nil {
			t.Fatalf("Lookup(%d): not found after concurrent insert", i)
		}
	}
}
