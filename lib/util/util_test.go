package util

import "testing"

func TestIn(t *testing.T) {
	addrs := []string{"a1", "a2"}

	if !In(addrs, "a2") || In(addrs, "a3") || In(nil, "a1") {
		t.Errorf("In failed for %v", addrs)
	}

	if !In([]int{-1, 0, 1}, -1) {
		t.Errorf("In failed for ints")
	}
}
