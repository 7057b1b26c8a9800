package util

import "testing"

func TestNewReqID_ShortAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewReqID()
		if len(id) != 8 {
			t.Fatalf("len(%q)=%d", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
