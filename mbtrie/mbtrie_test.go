// Copyright 2026 The Conc64 Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mbtrie_test

import (
	"testing"

	"code.hybscloud.com/conc64/mbtrie"
	"code.hybscloud.com/conc64/smr"
)

func strides() []uint32 { return []uint32{8, 8, 8, 8, 8, 8, 8, 8} }

func TestTrieLongestPrefixMatch(t *testing.T) {
	dom := smr.NewHPDomain(0, 4)
	th := dom.Register()
	defer th.Unregister()

	var freed []int
	tr := mbtrie.New[int](strides(), func(e *mbtrie.Elem[int]) {
		freed = append(freed, e.Value)
	}, dom)

	defaultRoute := &mbtrie.Elem[int]{Value: 0}
	tr.Insert(0, 0, defaultRoute)

	specific := &mbtrie.Elem[int]{Value: 1}
	tr.Insert(0x0A00_0000_0000_0000, 8, specific) // 10.0.0.0/8

	moreSpecific := &mbtrie.Elem[int]{Value: 2}
	tr.Insert(0x0A0A_0000_0000_0000, 16, moreSpecific) // 10.10.0.0/16

	cases := []struct {
		key  uint64
		want int
	}{
		{0xFF00_0000_0000_0000, 0}, // no match but default
		{0x0A01_0000_0000_0000, 1}, // matches /8 only
		{0x0A0A_0102_0000_0000, 2}, // matches /16 (most specific)
	}
	for _, c := range cases {
		got, hp := tr.Lookup(th, c.key)
		smr.Release(th, &hp)
		if got == nil || got.Value != c.want {
			t.Fatalf("Lookup(%x): got %v, want value %d", c.key, got, c.want)
		}
	}
}

func TestTrieRemoveRestoresCoveringPrefix(t *testing.T) {
	dom := smr.NewHPDomain(0, 4)
	th := dom.Register()
	defer th.Unregister()

	var freed []int
	tr := mbtrie.New[int](strides(), func(e *mbtrie.Elem[int]) {
		freed = append(freed, e.Value)
	}, dom)

	broad := &mbtrie.Elem[int]{Value: 1}
	tr.Insert(0x0A00_0000_0000_0000, 8, broad)
	narrow := &mbtrie.Elem[int]{Value: 2}
	tr.Insert(0x0A0A_0000_0000_0000, 16, narrow)

	tr.Remove(0x0A0A_0000_0000_0000, 16, narrow, nil)

	got, hp := tr.Lookup(th, 0x0A0A_0102_0000_0000)
	smr.Release(th, &hp)
	if got == nil || got.Value != 1 {
		t.Fatalf("Lookup after Remove: got %v, want fallback to broad /8 route", got)
	}
	if len(freed) != 1 || freed[0] != 2 {
		t.Fatalf("freed callback: got %v, want [2] once refcount reached zero", freed)
	}
}

func TestTrieLookupVecQSBR(t *testing.T) {
	dom := smr.NewQSBRDomain(0)
	qt := dom.Register()
	defer qt.Unregister()

	tr := mbtrie.New[int](strides(), func(*mbtrie.Elem[int]) {}, nil)
	tr.Insert(0x0A00_0000_0000_0000, 8, &mbtrie.Elem[int]{Value: 7})

	keys := []uint64{0x0A01_0000_0000_0000, 0xFF00_0000_0000_0000}
	results := make([]*mbtrie.Elem[int], len(keys))
	mask := tr.LookupVec(qt, keys, results)
	if mask != 0b01 {
		t.Fatalf("LookupVec mask: got %b, want %b", mask, 0b01)
	}
	if results[0] == nil || results[0].Value != 7 {
		t.Fatalf("LookupVec results[0]: got %v, want value 7", results[0])
	}
	if results[1] != nil {
		t.Fatalf("LookupVec results[1]: got %v, want nil", results[1])
	}
}

func TestTrieTraverseReportsInsertedPrefixes(t *testing.T) {
	tr := mbtrie.New[int](strides(), func(*mbtrie.Elem[int]) {}, nil)
	tr.Insert(0x0A00_0000_0000_0000, 8, &mbtrie.Elem[int]{Value: 1})
	tr.Insert(0x0B00_0000_0000_0000, 8, &mbtrie.Elem[int]{Value: 2})

	seen := map[int]int{}
	tr.Traverse(func(pfx uint64, pfxlen uint32, elem *mbtrie.Elem[int], actlen uint32) {
		seen[elem.Value]++
	})
	// With an 8-bit first stride each /8 insert fills a single root
	// entry, one call per occupied entry.
	if seen[1] == 0 || seen[2] == 0 {
		t.Fatalf("Traverse: want both inserted prefixes visited, got %v", seen)
	}
}
