package rcu

import (
	"sync"
	"testing"
)

type fakeState struct {
	Value string
}

func TestSnapshotLoadReplace(t *testing.T) {
	snap := NewSnapshot(&fakeState{Value: "a"})
	if got := snap.Load(); got.Value != "a" {
		t.Fatalf("unexpected initial value: %q", got.Value)
	}

	snap.Replace(&fakeState{Value: "b"})
	if got := snap.Load(); got.Value != "b" {
		t.Fatalf("unexpected value after replace: %q", got.Value)
	}
}

func TestSnapshotCompareAndSwap(t *testing.T) {
	first := &fakeState{Value: "a"}
	snap := NewSnapshot(first)

	next := &fakeState{Value: "b"}
	if !snap.CompareAndSwap(first, next) {
		t.Fatalf("CAS against current snapshot should win")
	}
	if snap.CompareAndSwap(first, &fakeState{Value: "c"}) {
		t.Fatalf("CAS against stale snapshot should lose")
	}
	if got := snap.Load(); got != next {
		t.Fatalf("unexpected snapshot after CAS: %#v", got)
	}
}

func TestSnapshotCompareAndSwapConcurrent(t *testing.T) {
	old := &fakeState{Value: "old"}
	snap := NewSnapshot(old)

	const n = 32
	wins := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if snap.CompareAndSwap(old, &fakeState{Value: "new"}) {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one CAS winner, got %d", count)
	}
}
