package data

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// This file provides the data source abstraction the pipeline engine is built
// on. A source produces raw examples either sequentially (Iterate) or, when it
// additionally implements RandomAccess, by index.
//
// Conventions:
//   - Iterators signal exhaustion with io.EOF, the same way csv.Reader does.
//     Once an iterator has returned io.EOF it must keep returning io.EOF.
//   - Whether a source supports random access is decided once, by a type
//     assertion against RandomAccess, not by speculative calls. Combinators
//     that mirror the capability of a wrapped source (Truncate, Transform,
//     Zip, Record) perform that assertion in their constructors and return a
//     random-access implementation only when the inner sources have one.

// ErrOutOfRange is wrapped by errors returned for indices outside a bounded
// source's declared length.
var ErrOutOfRange = errors.New("index out of range")

// Iterator yields examples one at a time. Next returns io.EOF when the source
// is exhausted and keeps returning io.EOF on subsequent calls.
type Iterator[T any] interface {
	Next() (T, error)
}

// IteratorFunc adapts a plain function to the Iterator interface. Handy for
// generator-style sources.
type IteratorFunc[T any] func() (T, error)

// Next calls the wrapped function.
func (f IteratorFunc[T]) Next() (T, error) { return f() }

// Source produces a lazy sequence of examples. Whether iteration is
// restartable is documented per implementation; slice-backed sources always
// restart, iterator-backed sources may be single-pass.
type Source[T any] interface {
	Iterate() Iterator[T]
}

// RandomAccess is the optional capability interface for sources that can
// fetch an element by index and report their total length without a
// sequential traversal.
type RandomAccess[T any] interface {
	Source[T]
	// Get returns the example at index. Errors wrap ErrOutOfRange for
	// invalid indices.
	Get(index int) (T, error)
	// Len returns the total number of examples.
	Len() int
}

// Transformed is implemented by sources returned from NewTransformSource. It
// exposes the wrapped source explicitly instead of forwarding unknown
// operations to it.
type Transformed[R, E any] interface {
	Source[E]
	Wrapped() Source[R]
}

func outOfRange(index, size int) error {
	return fmt.Errorf("data index (%d) out of range [0, %d): %w", index, size, ErrOutOfRange)
}

// SequenceSource reads from an in-memory slice. It supports random access and
// restartable iteration.
type SequenceSource[T any] struct {
	seq []T
}

// NewSequenceSource creates a source backed by the given slice. The slice is
// not copied.
func NewSequenceSource[T any](seq []T) *SequenceSource[T] {
	return &SequenceSource[T]{seq: seq}
}

// Iterate returns an iterator over the slice.
func (s *SequenceSource[T]) Iterate() Iterator[T] {
	return &sliceIterator[T]{seq: s.seq}
}

// Get returns the example at index.
func (s *SequenceSource[T]) Get(index int) (T, error) {
	if index < 0 || index >= len(s.seq) {
		var zero T
		return zero, outOfRange(index, len(s.seq))
	}
	return s.seq[index], nil
}

// Len returns the number of examples.
func (s *SequenceSource[T]) Len() int { return len(s.seq) }

type sliceIterator[T any] struct {
	seq []T
	pos int
}

func (it *sliceIterator[T]) Next() (T, error) {
	if it.pos >= len(it.seq) {
		var zero T
		return zero, io.EOF
	}
	ex := it.seq[it.pos]
	it.pos++
	return ex, nil
}

// IterSource reads from iterators produced by a factory function. It is
// sequential-only. If the factory returns a fresh iterator on every call the
// source is restartable; if it hands out a shared iterator the source can be
// iterated over only once.
type IterSource[T any] struct {
	factory func() Iterator[T]
}

// NewIterSource creates a sequential-only source from an iterator factory.
func NewIterSource[T any](factory func() Iterator[T]) *IterSource[T] {
	return &IterSource[T]{factory: factory}
}

// Iterate returns the factory's next iterator.
func (s *IterSource[T]) Iterate() Iterator[T] { return s.factory() }

// NewZipSource combines multiple same-typed sources positionally. Each
// produced example holds one element per member source, in argument order.
// Iteration stops as soon as any member is exhausted, so the length is the
// minimum of the member lengths. Random access is supported only when every
// member supports it.
func NewZipSource[T any](sources ...Source[T]) Source[[]T] {
	z := &zipSource[T]{sources: sources}
	members := make([]RandomAccess[T], len(sources))
	for i, s := range sources {
		ra, ok := s.(RandomAccess[T])
		if !ok {
			return z
		}
		members[i] = ra
	}
	return &randomZipSource[T]{zipSource: *z, members: members}
}

type zipSource[T any] struct {
	sources []Source[T]
}

func (z *zipSource[T]) Iterate() Iterator[[]T] {
	iters := make([]Iterator[T], len(z.sources))
	for i, s := range z.sources {
		iters[i] = s.Iterate()
	}
	return IteratorFunc[[]T](func() ([]T, error) {
		out := make([]T, len(iters))
		for i, it := range iters {
			ex, err := it.Next()
			if err != nil {
				return nil, err
			}
			out[i] = ex
		}
		return out, nil
	})
}

type randomZipSource[T any] struct {
	zipSource[T]
	members []RandomAccess[T]
}

func (z *randomZipSource[T]) Get(index int) ([]T, error) {
	if index < 0 || index >= z.Len() {
		return nil, outOfRange(index, z.Len())
	}
	out := make([]T, len(z.members))
	for i, m := range z.members {
		ex, err := m.Get(index)
		if err != nil {
			return nil, err
		}
		out[i] = ex
	}
	return out, nil
}

func (z *randomZipSource[T]) Len() int {
	n := -1
	for _, m := range z.members {
		if l := m.Len(); n < 0 || l < n {
			n = l
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// NewRecordSource combines named sources into mapping-valued examples. Member
// sources are pulled in a deterministic (sorted-key) order; iteration stops
// when any member is exhausted. Random access requires every member to
// support it.
func NewRecordSource[T any](sources map[string]Source[T]) Source[map[string]T] {
	keys := make([]string, 0, len(sources))
	for k := range sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := &recordSource[T]{keys: keys, sources: sources}
	members := make(map[string]RandomAccess[T], len(sources))
	for k, s := range sources {
		ra, ok := s.(RandomAccess[T])
		if !ok {
			return r
		}
		members[k] = ra
	}
	return &randomRecordSource[T]{recordSource: *r, members: members}
}

type recordSource[T any] struct {
	keys    []string
	sources map[string]Source[T]
}

func (r *recordSource[T]) Iterate() Iterator[map[string]T] {
	iters := make([]Iterator[T], len(r.keys))
	for i, k := range r.keys {
		iters[i] = r.sources[k].Iterate()
	}
	return IteratorFunc[map[string]T](func() (map[string]T, error) {
		out := make(map[string]T, len(r.keys))
		for i, k := range r.keys {
			ex, err := iters[i].Next()
			if err != nil {
				return nil, err
			}
			out[k] = ex
		}
		return out, nil
	})
}

type randomRecordSource[T any] struct {
	recordSource[T]
	members map[string]RandomAccess[T]
}

func (r *randomRecordSource[T]) Get(index int) (map[string]T, error) {
	if index < 0 || index >= r.Len() {
		return nil, outOfRange(index, r.Len())
	}
	out := make(map[string]T, len(r.members))
	for k, m := range r.members {
		ex, err := m.Get(index)
		if err != nil {
			return nil, err
		}
		out[k] = ex
	}
	return out, nil
}

func (r *randomRecordSource[T]) Len() int {
	n := -1
	for _, m := range r.members {
		if l := m.Len(); n < 0 || l < n {
			n = l
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// NewFilterSource yields only the elements of source for which pred returns
// true. The result is sequential-only: predicate selectivity is unknown ahead
// of time, so neither length nor indexed access can be offered.
func NewFilterSource[T any](source Source[T], pred func(T) bool) Source[T] {
	return &filterSource[T]{source: source, pred: pred}
}

type filterSource[T any] struct {
	source Source[T]
	pred   func(T) bool
}

func (f *filterSource[T]) Iterate() Iterator[T] {
	it := f.source.Iterate()
	return IteratorFunc[T](func() (T, error) {
		for {
			ex, err := it.Next()
			if err != nil {
				var zero T
				return zero, err
			}
			if f.pred(ex) {
				return ex, nil
			}
		}
	})
}

// NewTruncateSource caps the wrapped source at maxSize elements. Iteration
// stops after maxSize even if the source is longer. When the inner source
// supports random access the result does too, with length
// min(source.Len(), maxSize); otherwise the true length stays unknown until a
// traversal ends (at maxSize or at the source's own end, whichever is first).
func NewTruncateSource[T any](source Source[T], maxSize int) Source[T] {
	t := &truncateSource[T]{source: source, maxSize: maxSize}
	if ra, ok := source.(RandomAccess[T]); ok {
		return &randomTruncateSource[T]{truncateSource: *t, inner: ra}
	}
	return t
}

type truncateSource[T any] struct {
	source  Source[T]
	maxSize int
}

func (t *truncateSource[T]) Iterate() Iterator[T] {
	it := t.source.Iterate()
	count := 0
	return IteratorFunc[T](func() (T, error) {
		if count >= t.maxSize {
			var zero T
			return zero, io.EOF
		}
		ex, err := it.Next()
		if err != nil {
			var zero T
			return zero, err
		}
		count++
		return ex, nil
	})
}

type randomTruncateSource[T any] struct {
	truncateSource[T]
	inner RandomAccess[T]
}

func (t *randomTruncateSource[T]) Get(index int) (T, error) {
	if index < 0 || index >= t.maxSize {
		var zero T
		return zero, outOfRange(index, t.maxSize)
	}
	return t.inner.Get(index)
}

func (t *randomTruncateSource[T]) Len() int {
	if l := t.inner.Len(); l < t.maxSize {
		return l
	}
	return t.maxSize
}

// NewTransformSource lazily maps every element of source through fn. The
// result mirrors the capability of the wrapped source: it supports random
// access exactly when source does. The wrapped source stays reachable through
// the Transformed interface.
func NewTransformSource[R, E any](source Source[R], fn func(R) (E, error)) Source[E] {
	t := &transformSource[R, E]{source: source, fn: fn}
	if ra, ok := source.(RandomAccess[R]); ok {
		return &randomTransformSource[R, E]{transformSource: *t, inner: ra}
	}
	return t
}

type transformSource[R, E any] struct {
	source Source[R]
	fn     func(R) (E, error)
}

func (t *transformSource[R, E]) Iterate() Iterator[E] {
	it := t.source.Iterate()
	return IteratorFunc[E](func() (E, error) {
		raw, err := it.Next()
		if err != nil {
			var zero E
			return zero, err
		}
		return t.fn(raw)
	})
}

// Wrapped returns the source the transformation reads from.
func (t *transformSource[R, E]) Wrapped() Source[R] { return t.source }

type randomTransformSource[R, E any] struct {
	transformSource[R, E]
	inner RandomAccess[R]
}

func (t *randomTransformSource[R, E]) Get(index int) (E, error) {
	raw, err := t.inner.Get(index)
	if err != nil {
		var zero E
		return zero, err
	}
	return t.fn(raw)
}

func (t *randomTransformSource[R, E]) Len() int { return t.inner.Len() }
