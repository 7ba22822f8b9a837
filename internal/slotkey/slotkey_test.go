package slotkey

import "testing"

func TestInsertGetRemove(t *testing.T) {
	m := New[string]()
	k := m.Insert("a")
	v, ok := m.Get(k)
	if !ok || v != "a" {
		t.Fatalf("Get(k) = %q, %v; want a, true", v, ok)
	}
	if got, ok := m.Remove(k); !ok || got != "a" {
		t.Fatalf("Remove(k) = %q, %v; want a, true", got, ok)
	}
	if _, ok := m.Get(k); ok {
		t.Fatalf("Get(k) after Remove should fail")
	}
}

func TestStaleKeyRejectedAfterReuse(t *testing.T) {
	m := New[int]()
	k1 := m.Insert(1)
	if _, ok := m.Remove(k1); !ok {
		t.Fatal("Remove(k1) failed")
	}
	k2 := m.Insert(2)
	if k2.index != k1.index {
		t.Fatalf("expected slot reuse, got different indices %d != %d", k2.index, k1.index)
	}
	if _, ok := m.Get(k1); ok {
		t.Fatal("stale key k1 must not resolve to the slot reused by k2")
	}
	v, ok := m.Get(k2)
	if !ok || v != 2 {
		t.Fatalf("Get(k2) = %d, %v; want 2, true", v, ok)
	}
}

func TestEachVisitsOnlyLive(t *testing.T) {
	m := New[int]()
	k1 := m.Insert(10)
	_ = m.Insert(20)
	m.Remove(k1)
	count := 0
	m.Each(func(k Key, v int) {
		count++
		if v != 20 {
			t.Fatalf("unexpected live value %d", v)
		}
	})
	if count != 1 {
		t.Fatalf("Each visited %d slots, want 1", count)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}
