package internal

import "testing"

func TestJumpHashRange(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		for key := uint64(0); key < 100; key++ {
			if got := JumpHash(key, n); got != 0 {
				t.Fatalf("JumpHash(%d, %d) = %d, want 0", key, n, got)
			}
		}
	}

	for key := uint64(0); key < 1000; key++ {
		if got := JumpHash(key*0x9E3779B97F4A7C15, 7); got < 0 || got >= 7 {
			t.Fatalf("JumpHash(%d, 7) = %d, out of range", key, got)
		}
	}
}

func TestJumpHashOnlyMovesToNewBucket(t *testing.T) {
	for key := uint64(0); key < 1000; key++ {
		k := key * 0x9E3779B97F4A7C15
		prev := JumpHash(k, 1)
		for n := 2; n <= 20; n++ {
			got := JumpHash(k, n)
			if got != prev && got != n-1 {
				t.Fatalf("key %d moved from %d to %d when growing to %d buckets", k, prev, got, n)
			}
			prev = got
		}
	}
}
