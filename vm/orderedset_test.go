package vm

import "testing"

func intLess(a, b int) bool { return a < b }

func TestOrderedSetInsertContains(t *testing.T) {
	s := NewOrderedSet(intLess)
	values := []int{5, 3, 8, 1, 4, 7, 2, 6}
	for _, v := range values {
		s.Insert(v)
	}
	if s.Len() != len(values) {
		t.Fatalf("Len() = %d, want %d", s.Len(), len(values))
	}
	for _, v := range values {
		if !s.Contains(v) {
			t.Errorf("Contains(%d) = false, want true", v)
		}
	}
	if s.Contains(99) {
		t.Error("Contains(99) = true, want false")
	}
}

func TestOrderedSetInsertDuplicateIsNoop(t *testing.T) {
	s := NewOrderedSet(intLess)
	s.Insert(1)
	s.Insert(1)
	if s.Len() != 1 {
		t.Errorf("Len() after inserting a duplicate = %d, want 1", s.Len())
	}
}

func TestOrderedSetItemsAreSorted(t *testing.T) {
	s := NewOrderedSet(intLess)
	for _, v := range []int{9, 1, 5, 3, 7} {
		s.Insert(v)
	}
	items := s.Items()
	want := []int{1, 3, 5, 7, 9}
	if len(items) != len(want) {
		t.Fatalf("Items() returned %d elements, want %d", len(items), len(want))
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("Items()[%d] = %d, want %d", i, items[i], want[i])
		}
	}
}

func TestOrderedSetRemove(t *testing.T) {
	s := NewOrderedSet(intLess)
	for _, v := range []int{1, 2, 3, 4, 5} {
		s.Insert(v)
	}
	s.Remove(3)
	if s.Contains(3) {
		t.Error("Contains(3) = true after Remove(3)")
	}
	if s.Len() != 4 {
		t.Errorf("Len() after removing one of five = %d, want 4", s.Len())
	}
	for _, v := range []int{1, 2, 4, 5} {
		if !s.Contains(v) {
			t.Errorf("Contains(%d) = false after removing an unrelated element", v)
		}
	}
	// Remaining structure should still be a valid, fully connected tree:
	// every remaining element should be reachable via Items in order.
	items := s.Items()
	want := []int{1, 2, 4, 5}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("Items() after Remove = %v, want %v", items, want)
		}
	}
}

func TestOrderedSetRemoveMissingIsNoop(t *testing.T) {
	s := NewOrderedSet(intLess)
	s.Insert(1)
	s.Remove(42)
	if s.Len() != 1 {
		t.Errorf("Len() after removing a missing element = %d, want 1", s.Len())
	}
}

func TestOrderedSetRemoveAllThenEmpty(t *testing.T) {
	s := NewOrderedSet(intLess)
	for _, v := range []int{1, 2, 3} {
		s.Insert(v)
	}
	for _, v := range []int{1, 2, 3} {
		s.Remove(v)
	}
	if s.Len() != 0 {
		t.Errorf("Len() after removing every element = %d, want 0", s.Len())
	}
	if len(s.Items()) != 0 {
		t.Errorf("Items() after removing every element = %v, want empty", s.Items())
	}
}
