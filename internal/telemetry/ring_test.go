package telemetry

import (
	"fmt"
	"testing"
)

func TestRingBufferEvictsOldestFirst(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	got := r.Items()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("items = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("items = %v, want %v", got, want)
		}
	}
}

func TestRingBufferUnderCapacity(t *testing.T) {
	r := NewRingBuffer[string](10)
	r.Push("a")
	r.Push("b")
	if r.Len() != 2 {
		t.Errorf("len = %d", r.Len())
	}
	items := r.Items()
	if items[0] != "a" || items[1] != "b" {
		t.Errorf("items = %v", items)
	}
}

func TestRingBufferWrapsRepeatedly(t *testing.T) {
	r := NewRingBuffer[string](2)
	for i := 0; i < 7; i++ {
		r.Push(fmt.Sprintf("v%d", i))
	}
	items := r.Items()
	if items[0] != "v5" || items[1] != "v6" {
		t.Errorf("items = %v", items)
	}
}
