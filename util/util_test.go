package util

import "testing"

func TestMinMax(t *testing.T) {
	if got := Min(3, 7); got != 3 {
		t.Errorf("Min(3,7) = %d, want 3", got)
	}
	if got := Max(3, 7); got != 7 {
		t.Errorf("Max(3,7) = %d, want 7", got)
	}
	if got := Min(uint64(9), uint64(9)); got != 9 {
		t.Errorf("Min(9,9) = %d, want 9", got)
	}
}

func TestRounddownRoundup(t *testing.T) {
	cases := []struct {
		v, b, down, up uint64
	}{
		{0, 0x1000, 0, 0},
		{1, 0x1000, 0, 0x1000},
		{0x1000, 0x1000, 0x1000, 0x1000},
		{0x1001, 0x1000, 0x1000, 0x2000},
		{0x123456, 0x200000, 0, 0x200000},
	}
	for _, c := range cases {
		if got := Rounddown(c.v, c.b); got != c.down {
			t.Errorf("Rounddown(%#x,%#x) = %#x, want %#x", c.v, c.b, got, c.down)
		}
		if got := Roundup(c.v, c.b); got != c.up {
			t.Errorf("Roundup(%#x,%#x) = %#x, want %#x", c.v, c.b, got, c.up)
		}
	}
}
