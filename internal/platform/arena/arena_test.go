package arena

import "testing"

func TestInsertGetRemove(t *testing.T) {
	a := New[string]()
	h := a.Insert("hello")
	got, ok := a.Get(h)
	if !ok || got != "hello" {
		t.Fatalf("expected to resolve the handle, got %q ok=%v", got, ok)
	}
	a.Remove(h)
	if _, ok := a.Get(h); ok {
		t.Fatalf("expected the handle to miss after removal")
	}
}

func TestZeroHandleAlwaysMisses(t *testing.T) {
	a := New[int]()
	a.Insert(1)
	if _, ok := a.Get(0); ok {
		t.Fatalf("the zero handle must never resolve")
	}
}

func TestDoubleRemoveIsSafe(t *testing.T) {
	a := New[int]()
	h := a.Insert(1)
	a.Remove(h)
	a.Remove(h)
	if a.Len() != 0 {
		t.Fatalf("expected an empty arena")
	}
}
