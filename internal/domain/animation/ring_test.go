package animation

import "testing"

func TestRing_PrependsAndCaps(t *testing.T) {
	r := NewRing[int](3, nil)
	for i := 1; i <= 3; i++ {
		if ev := r.Push(i); ev != nil {
			t.Fatalf("unexpected eviction at %d: %v", i, ev)
		}
	}
	ev := r.Push(4)
	if len(ev) != 1 || ev[0] != 1 {
		t.Fatalf("evicted got=%v want=[1]", ev)
	}
	items := r.Items()
	want := []int{4, 3, 2}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("items got=%v want=%v", items, want)
		}
	}
}

func TestRing_NeverExceedsHistoryCap(t *testing.T) {
	r := NewRing[int](HistoryCap, nil)
	for i := 0; i < HistoryCap*3; i++ {
		r.Push(i)
		if r.Len() > HistoryCap {
			t.Fatalf("ring length %d exceeds cap", r.Len())
		}
	}
	if got := r.Items()[0]; got != HistoryCap*3-1 {
		t.Fatalf("newest got=%d", got)
	}
}

func TestRing_SeedTruncated(t *testing.T) {
	r := NewRing(2, []string{"a", "b", "c"})
	if r.Len() != 2 {
		t.Fatalf("len got=%d want=2", r.Len())
	}
}

func TestRing_ItemsIsCopy(t *testing.T) {
	r := NewRing(2, []int{1})
	items := r.Items()
	items[0] = 99
	if r.Items()[0] != 1 {
		t.Fatalf("Items must return a copy")
	}
}
