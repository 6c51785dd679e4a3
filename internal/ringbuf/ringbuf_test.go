package ringbuf_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Draegerwerk/sdc11073-sub000/internal/ringbuf"
)

func Test_New_Returns_Error_When_Capacity_Not_Positive(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{0, -1} {
		_, err := ringbuf.New[int](capacity)
		if !errors.Is(err, ringbuf.ErrInvalidCapacity) {
			t.Fatalf("capacity %d: err = %v, want ErrInvalidCapacity", capacity, err)
		}
	}
}

func Test_Buffer_Keeps_Insertion_Order_When_Not_Full(t *testing.T) {
	t.Parallel()

	b, err := ringbuf.New[int](4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	b.Push(1, 2, 3)

	if diff := cmp.Diff([]int{1, 2, 3}, b.Items()); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}

	if b.Evicted() != 0 {
		t.Fatalf("evicted = %d, want 0", b.Evicted())
	}
}

func Test_Buffer_Evicts_Oldest_When_Full(t *testing.T) {
	t.Parallel()

	b, err := ringbuf.New[int](3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	b.Push(1, 2, 3)
	b.Push(4)
	b.Push(5, 6, 7, 8)

	if diff := cmp.Diff([]int{6, 7, 8}, b.Items()); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}

	if b.Evicted() != 5 {
		t.Fatalf("evicted = %d, want 5", b.Evicted())
	}

	if b.Len() != 3 || b.Cap() != 3 {
		t.Fatalf("len/cap = %d/%d, want 3/3", b.Len(), b.Cap())
	}
}

func Test_Last_Returns_Newest_Elements_When_Wrapped(t *testing.T) {
	t.Parallel()

	b, err := ringbuf.New[int](4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	b.Push(1, 2, 3, 4, 5, 6)

	if diff := cmp.Diff([]int{5, 6}, b.Last(2)); diff != "" {
		t.Fatalf("last mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]int{3, 4, 5, 6}, b.Last(10)); diff != "" {
		t.Fatalf("last(10) mismatch (-want +got):\n%s", diff)
	}

	if got := b.Last(0); got != nil {
		t.Fatalf("last(0) = %v, want nil", got)
	}
}
