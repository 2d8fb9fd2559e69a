package data

import (
	"errors"
	"fmt"
)

// ErrMissingEntry is wrapped by errors returned when a CachedSource is asked
// for an index that was never prefetched or was already erased. Hitting it
// means the caller violated the sequential-prefetch contract.
var ErrMissingEntry = errors.New("example not buffered")

// CachedSource adds buffered random access on top of a sequential-only
// source. Examples are pulled from the source's iterator by Prefetch and held
// until read. In erase-after-access mode each buffered example can be read
// exactly once and is dropped afterwards, keeping memory proportional to the
// prefetch window; otherwise the buffer is an append-only record that can
// serve repeated reads.
//
// CachedSource is not safe for concurrent use. Prefetch and Get must run on
// the single coordinating goroutine that owns the source chain.
type CachedSource[T any] struct {
	source           Source[T]
	it               Iterator[T]
	maxIndex         int
	eraseAfterAccess bool

	byIndex map[int]T // erase mode
	ordered []T       // retain mode
}

// NewCachedSource wraps a sequential-only source. With eraseAfterAccess set,
// buffered examples are removed when read through Get.
func NewCachedSource[T any](source Source[T], eraseAfterAccess bool) *CachedSource[T] {
	c := &CachedSource[T]{
		source:           source,
		it:               source.Iterate(),
		maxIndex:         -1,
		eraseAfterAccess: eraseAfterAccess,
	}
	if eraseAfterAccess {
		c.byIndex = make(map[int]T)
	}
	return c
}

// Iterate passes through to the wrapped source.
func (c *CachedSource[T]) Iterate() Iterator[T] { return c.source.Iterate() }

// Prefetch pulls from the underlying iterator until the buffer covers index.
// It returns io.EOF if the source is exhausted before reaching index; after
// that, MaxIndex is authoritative for the true source size. Prefetching an
// already-covered index is a no-op.
func (c *CachedSource[T]) Prefetch(index int) error {
	for c.maxIndex < index {
		ex, err := c.it.Next()
		if err != nil {
			return err
		}
		c.maxIndex++
		if c.eraseAfterAccess {
			c.byIndex[c.maxIndex] = ex
		} else {
			c.ordered = append(c.ordered, ex)
		}
	}
	return nil
}

// Get returns the buffered example at index. In erase-after-access mode the
// example is removed from the buffer, so a second Get of the same index fails
// with ErrMissingEntry, as does any index that was never prefetched.
func (c *CachedSource[T]) Get(index int) (T, error) {
	var zero T
	if c.eraseAfterAccess {
		ex, ok := c.byIndex[index]
		if !ok {
			return zero, fmt.Errorf("index %d: %w", index, ErrMissingEntry)
		}
		delete(c.byIndex, index)
		return ex, nil
	}
	if index < 0 || index > c.maxIndex {
		return zero, fmt.Errorf("index %d: %w", index, ErrMissingEntry)
	}
	return c.ordered[index], nil
}

// MaxIndex returns the last buffered position, or -1 when nothing has been
// prefetched. It never decreases except through Reset.
func (c *CachedSource[T]) MaxIndex() int { return c.maxIndex }

// Reset restarts iteration from scratch. Only meaningful in
// erase-after-access mode; otherwise the retained buffer already holds
// everything pulled so far and Reset is a no-op.
func (c *CachedSource[T]) Reset() {
	if !c.eraseAfterAccess {
		return
	}
	c.it = c.source.Iterate()
	c.maxIndex = -1
	c.byIndex = make(map[int]T)
}

// Evict drops the buffered raw example at index without returning it. Used
// when the read happened elsewhere (e.g. in a parallel worker) and the erase
// step could not run there. No-op in retain mode or for absent entries.
func (c *CachedSource[T]) Evict(index int) {
	if c.eraseAfterAccess {
		delete(c.byIndex, index)
	}
}
