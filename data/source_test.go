package data

import (
	"errors"
	"io"
	"testing"
)

// drain pulls every element from an iterator until io.EOF.
func drain[T any](t *testing.T, it Iterator[T]) []T {
	t.Helper()
	var out []T
	for {
		ex, err := it.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("iterator error: %v", err)
		}
		out = append(out, ex)
	}
}

// countingSource yields 0..n-1 through fresh iterators; sequential-only.
func countingSource(n int) Source[int] {
	return NewIterSource(func() Iterator[int] {
		next := 0
		return IteratorFunc[int](func() (int, error) {
			if next >= n {
				return 0, io.EOF
			}
			v := next
			next++
			return v, nil
		})
	})
}

func TestSequenceSource(t *testing.T) {
	s := NewSequenceSource([]int{10, 20, 30})
	if s.Len() != 3 {
		t.Fatalf("expected len 3, got %d", s.Len())
	}
	v, err := s.Get(1)
	if err != nil {
		t.Fatalf("Get(1) error: %v", err)
	}
	if v != 20 {
		t.Fatalf("Get(1) = %d, want 20", v)
	}
	if _, err := s.Get(3); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Get(3) error = %v, want ErrOutOfRange", err)
	}
	got := drain(t, s.Iterate())
	if len(got) != 3 || got[0] != 10 || got[2] != 30 {
		t.Fatalf("unexpected iteration result: %v", got)
	}
	// Iteration restarts from scratch.
	again := drain(t, s.Iterate())
	if len(again) != 3 {
		t.Fatalf("expected restartable iteration, got %v", again)
	}
}

func TestIterSourceIsSequentialOnly(t *testing.T) {
	src := countingSource(4)
	if _, ok := src.(RandomAccess[int]); ok {
		t.Fatalf("IterSource must not support random access")
	}
	got := drain(t, src.Iterate())
	if len(got) != 4 || got[3] != 3 {
		t.Fatalf("unexpected iteration result: %v", got)
	}
}

func TestIteratorStickyEOF(t *testing.T) {
	it := NewSequenceSource([]int{1}).Iterate()
	if _, err := it.Next(); err != nil {
		t.Fatalf("first Next error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := it.Next(); err != io.EOF {
			t.Fatalf("Next after exhaustion = %v, want io.EOF", err)
		}
	}
}

func TestZipSource(t *testing.T) {
	z := NewZipSource[int](
		NewSequenceSource([]int{1, 2, 3}),
		NewSequenceSource([]int{4, 5}),
	)
	ra, ok := z.(RandomAccess[[]int])
	if !ok {
		t.Fatalf("zip of random-access members must support random access")
	}
	if ra.Len() != 2 {
		t.Fatalf("expected len 2, got %d", ra.Len())
	}
	v, err := ra.Get(1)
	if err != nil {
		t.Fatalf("Get(1) error: %v", err)
	}
	if len(v) != 2 || v[0] != 2 || v[1] != 5 {
		t.Fatalf("Get(1) = %v, want [2 5]", v)
	}
	if _, err := ra.Get(2); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Get(2) error = %v, want ErrOutOfRange", err)
	}
	// Iteration stops when the shorter member is exhausted.
	got := drain(t, z.Iterate())
	if len(got) != 2 {
		t.Fatalf("expected 2 zipped elements, got %d", len(got))
	}
}

func TestZipSourceSequentialMember(t *testing.T) {
	z := NewZipSource[int](
		NewSequenceSource([]int{1, 2, 3}),
		countingSource(3),
	)
	if _, ok := z.(RandomAccess[[]int]); ok {
		t.Fatalf("zip with a sequential-only member must not support random access")
	}
	got := drain(t, z.Iterate())
	if len(got) != 3 || got[2][0] != 3 || got[2][1] != 2 {
		t.Fatalf("unexpected zip result: %v", got)
	}
}

func TestRecordSource(t *testing.T) {
	r := NewRecordSource(map[string]Source[int]{
		"a": NewSequenceSource([]int{1, 2, 3}),
		"b": NewSequenceSource([]int{7, 8}),
	})
	ra, ok := r.(RandomAccess[map[string]int])
	if !ok {
		t.Fatalf("record of random-access members must support random access")
	}
	if ra.Len() != 2 {
		t.Fatalf("expected len 2, got %d", ra.Len())
	}
	v, err := ra.Get(1)
	if err != nil {
		t.Fatalf("Get(1) error: %v", err)
	}
	if v["a"] != 2 || v["b"] != 8 {
		t.Fatalf("Get(1) = %v", v)
	}
	got := drain(t, r.Iterate())
	if len(got) != 2 || got[0]["a"] != 1 || got[0]["b"] != 7 {
		t.Fatalf("unexpected record iteration: %v", got)
	}
}

func TestFilterSource(t *testing.T) {
	f := NewFilterSource[int](NewSequenceSource([]int{1, 2, 3, 4, 5, 6}), func(v int) bool {
		return v%2 == 0
	})
	if _, ok := f.(RandomAccess[int]); ok {
		t.Fatalf("filter must not support random access")
	}
	got := drain(t, f.Iterate())
	if len(got) != 3 || got[0] != 2 || got[2] != 6 {
		t.Fatalf("unexpected filter result: %v", got)
	}
}

func TestTruncateSource(t *testing.T) {
	seq := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tr := NewTruncateSource[int](NewSequenceSource(seq), 3)
	ra, ok := tr.(RandomAccess[int])
	if !ok {
		t.Fatalf("truncate of a random-access source must support random access")
	}
	if ra.Len() != 3 {
		t.Fatalf("expected len 3, got %d", ra.Len())
	}
	got := drain(t, tr.Iterate())
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("expected iteration [1 2 3], got %v", got)
	}
	if _, err := ra.Get(3); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Get(3) error = %v, want ErrOutOfRange", err)
	}

	// Truncating beyond the source length keeps the source length.
	short := NewTruncateSource[int](NewSequenceSource([]int{1, 2}), 5)
	if ra := short.(RandomAccess[int]); ra.Len() != 2 {
		t.Fatalf("expected len 2, got %d", ra.Len())
	}
}

func TestTruncateSequentialSource(t *testing.T) {
	tr := NewTruncateSource[int](countingSource(100), 4)
	if _, ok := tr.(RandomAccess[int]); ok {
		t.Fatalf("truncate of a sequential-only source must not support random access")
	}
	got := drain(t, tr.Iterate())
	if len(got) != 4 || got[3] != 3 {
		t.Fatalf("unexpected truncated iteration: %v", got)
	}
}

func TestTransformSource(t *testing.T) {
	double := func(v int) (int, error) { return v * 2, nil }

	tr := NewTransformSource[int, int](NewSequenceSource([]int{1, 2, 3}), double)
	ra, ok := tr.(RandomAccess[int])
	if !ok {
		t.Fatalf("transform must mirror the wrapped source's random access")
	}
	if ra.Len() != 3 {
		t.Fatalf("expected len 3, got %d", ra.Len())
	}
	v, err := ra.Get(2)
	if err != nil {
		t.Fatalf("Get(2) error: %v", err)
	}
	if v != 6 {
		t.Fatalf("Get(2) = %d, want 6", v)
	}

	seq := NewTransformSource[int, int](countingSource(3), double)
	if _, ok := seq.(RandomAccess[int]); ok {
		t.Fatalf("transform of a sequential-only source must not support random access")
	}
	got := drain(t, seq.Iterate())
	if len(got) != 3 || got[2] != 4 {
		t.Fatalf("unexpected transform iteration: %v", got)
	}

	// The wrapped source is reachable through the explicit accessor.
	wr, ok := seq.(Transformed[int, int])
	if !ok {
		t.Fatalf("transform should implement Transformed")
	}
	if wr.Wrapped() == nil {
		t.Fatalf("Wrapped returned nil")
	}
}

func TestTransformSourcePropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	tr := NewTransformSource[int, int](NewSequenceSource([]int{1}), func(int) (int, error) {
		return 0, boom
	})
	it := tr.Iterate()
	if _, err := it.Next(); !errors.Is(err, boom) {
		t.Fatalf("expected process error, got %v", err)
	}
}
