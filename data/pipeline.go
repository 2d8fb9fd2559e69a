package data

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ProcessFunc converts a raw example into a processed one. When
// Options.ParallelizeProcessing is set it runs in external workers and must
// not mutate shared state.
type ProcessFunc[R, E any] func(R) (E, error)

// CollateFunc combines processed examples into a batch. It must be safe to
// invoke from worker contexts.
type CollateFunc[E any] func([]E) (any, error)

// prefetcher is the type-erased view of a CachedSource held by the engine,
// which may cache raw or processed examples depending on where processing was
// fused into the chain.
type prefetcher interface {
	Prefetch(index int) error
	MaxIndex() int
	Reset()
}

// prefetchProbeStart is the initial target of the exponential full-source
// prefetch. A source still going at this size triggers a possible-infinite
// warning.
const prefetchProbeStart = 100_000_000

// Pipeline serves processed examples by index from a raw data source,
// according to the configured laziness and caching strategies. It owns the
// wrapped source chain and the caches; external parallel workers feed results
// back only through AddProcessed.
//
// The pipeline itself is single-threaded: all methods must be called from the
// one coordinating goroutine, since data sources are not assumed to be
// thread-safe.
type Pipeline[R, E any] struct {
	opts  Options
	log   zerolog.Logger
	lazy  LazyStrategy
	cache CacheStrategy
	pol   policy

	process ProcessFunc[R, E]
	collate CollateFunc[E]

	// The wrapped chain. source always holds the raw chain (after truncate,
	// possibly a CachedSource). fused is non-nil when processing was fused
	// into the chain via a transform; the random/cached variants below
	// record which access path the chain supports.
	source       Source[R]
	sourceRandom RandomAccess[R]
	fused        Source[E]
	fusedRandom  RandomAccess[E]
	cachedRaw    *CachedSource[R]
	cachedFused  *CachedSource[E]
	cached       prefetcher // whichever cached source exists, or nil

	supportsRandomAccess bool
	datasetSize          int // -1 while unknown
	processedCache       []E
	reorderCache         map[int]E
	fullyCached          bool
}

// New builds a pipeline over source with the given process function. The
// strategy combination in opts is validated and normalized first (with
// warnings through opts.Logger); eager strategies then perform their loading
// and processing before New returns.
func New[R, E any](source Source[R], process ProcessFunc[R, E], opts Options) (*Pipeline[R, E], error) {
	if source == nil {
		return nil, errors.New("data: source is nil")
	}
	if process == nil {
		return nil, errors.New("data: process function is not configured")
	}
	opts.applyDefaults()
	log := opts.logger().With().Str("data", opts.Name).Logger()

	lazy, cache := resolveStrategies(opts.LazyStrategy, opts.CacheStrategy, log)
	p := &Pipeline[R, E]{
		opts:        opts,
		log:         log,
		lazy:        lazy,
		cache:       cache,
		process:     process,
		datasetSize: -1,
	}

	// Cap the source before anything else so no wrapper ever observes
	// excess elements.
	if opts.MaxDatasetSize > 0 {
		source = NewTruncateSource(source, opts.MaxDatasetSize)
	}
	p.source = source

	parallelize := opts.ParallelizeProcessing

	// Fuse processing into the chain when it runs on the coordinator and
	// the cache should hold processed rather than raw examples.
	if !parallelize && lazy == LazyAll && cache != CacheLoaded {
		p.fused = NewTransformSource(p.source, process)
	}

	// Probe random-access support once. Sequential-only chains get a
	// buffering adapter; their size stays unknown until a traversal ends.
	p.supportsRandomAccess = true
	if lazy != LazyNone {
		if p.fused != nil {
			if ra, ok := p.fused.(RandomAccess[E]); ok {
				p.fusedRandom = ra
				p.datasetSize = ra.Len()
			} else {
				p.supportsRandomAccess = false
				p.cachedFused = NewCachedSource(p.fused, cache != CacheLoaded)
				p.cached = p.cachedFused
			}
		} else {
			if ra, ok := p.source.(RandomAccess[R]); ok {
				p.sourceRandom = ra
				p.datasetSize = ra.Len()
			} else {
				p.supportsRandomAccess = false
				p.cachedRaw = NewCachedSource(p.source, cache != CacheLoaded)
				p.source = p.cachedRaw
				p.cached = p.cachedRaw
			}
		}
	}

	// Fuse now when raw examples are what gets cached: the transform sits
	// on top of the CachedSource, so processing runs per access.
	if !parallelize && cache == CacheLoaded {
		p.fused = NewTransformSource(p.source, process)
		if fr, ok := p.fused.(RandomAccess[E]); ok {
			p.fusedRandom = fr
		}
	}

	p.pol = derivePolicy(lazy, cache, parallelize, opts.NumParallelCalls > 1, p.supportsRandomAccess)

	if lazy == LazyNone {
		// Eager: traverse and process everything up front.
		it := p.source.Iterate()
		for {
			raw, err := it.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("data: eager load: %w", err)
			}
			ex, err := process(raw)
			if err != nil {
				return nil, fmt.Errorf("data: eager process: %w", err)
			}
			p.processedCache = append(p.processedCache, ex)
		}
		p.datasetSize = len(p.processedCache)
		p.fullyCached = true
		return p, nil
	}

	if lazy == LazyProcess && !p.supportsRandomAccess {
		// Eager loading over a sequential-only source: force the full raw
		// traversal now.
		if _, err := p.prefetchAll(); err != nil {
			return nil, err
		}
	}
	if cache == CacheProcessed {
		// Parallel results may arrive out of order and need reassembly.
		p.reorderCache = make(map[int]E)
	}
	return p, nil
}

// SetCollate installs the batch-assembly function used by
// CollateAndMaybeReturn.
func (p *Pipeline[R, E]) SetCollate(fn CollateFunc[E]) { p.collate = fn }

// Name returns the configured pipeline name.
func (p *Pipeline[R, E]) Name() string { return p.opts.Name }

// NumEpochs returns the configured number of epochs.
func (p *Pipeline[R, E]) NumEpochs() int { return p.opts.NumEpochs }

// BatchSize returns the configured batch size.
func (p *Pipeline[R, E]) BatchSize() int { return p.opts.BatchSize }

// SupportsRandomAccess reports whether the wrapped chain can serve arbitrary
// indices without buffering.
func (p *Pipeline[R, E]) SupportsRandomAccess() bool { return p.supportsRandomAccess }

// FullyCached reports whether every processed example is cached.
func (p *Pipeline[R, E]) FullyCached() bool { return p.fullyCached }

// ProcessedCount returns the length of the contiguous processed prefix held
// in the cache.
func (p *Pipeline[R, E]) ProcessedCount() int { return len(p.processedCache) }

// Size returns the dataset size if already known. Unlike Len it never forces
// a traversal.
func (p *Pipeline[R, E]) Size() (int, bool) {
	if p.datasetSize < 0 {
		return 0, false
	}
	return p.datasetSize, true
}

// Len returns the dataset size. When the source does not support random
// access and no traversal has completed yet, this requires prefetching the
// entire source; a performance warning is logged because callers rarely need
// to pay that cost.
func (p *Pipeline[R, E]) Len() (int, error) {
	if p.datasetSize < 0 {
		p.log.Warn().Msg("data source does not support random access; " +
			"obtaining the dataset size requires a full traversal")
		if _, err := p.prefetchAll(); err != nil {
			return 0, err
		}
	}
	return p.datasetSize, nil
}

// prefetchAll forces a full traversal of a sequential-only source to
// determine its size. Since the true length is unknown, it probes
// exponentially: a first large target, then doubling until the source
// exhausts. A source that outlives the first target draws a warning because
// it may be infinite; a truly infinite source makes this loop until external
// intervention.
func (p *Pipeline[R, E]) prefetchAll() (int, error) {
	if p.cached == nil {
		return 0, errors.New("data: prefetchAll called on a random-access source")
	}
	target := prefetchProbeStart
	err := p.cached.Prefetch(target)
	for err == nil {
		p.log.Warn().
			Int("examples", target).
			Msg("data source contains more examples than the probe target; check whether it is infinite")
		target *= 2
		err = p.cached.Prefetch(target)
	}
	if err != io.EOF {
		return 0, fmt.Errorf("data: prefetch: %w", err)
	}
	p.datasetSize = p.cached.MaxIndex() + 1
	return p.datasetSize, nil
}

// PrefetchSource makes sure Get(index) will find its example. For
// sequential-only chains it advances the buffering adapter; when the source
// exhausts first, the dataset size is finalized and returned with done=true.
// For random-access chains it reports done=true when index is past the end.
// done=false means more examples remain and the size may still be unknown.
func (p *Pipeline[R, E]) PrefetchSource(index int) (size int, done bool, err error) {
	if !p.supportsRandomAccess {
		err = p.cached.Prefetch(index)
		if err == io.EOF {
			p.datasetSize = p.cached.MaxIndex() + 1
			if p.pol.prefetchProcessedOnLoad {
				if perr := p.prefetchProcessed(p.datasetSize - 1); perr != nil {
					return 0, false, perr
				}
			}
			return p.datasetSize, true, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("data: prefetch: %w", err)
		}
		if p.pol.prefetchProcessedOnLoad {
			if perr := p.prefetchProcessed(index); perr != nil {
				return 0, false, perr
			}
		}
		return 0, false, nil
	}
	if index >= p.datasetSize {
		return p.datasetSize, true, nil
	}
	return 0, false, nil
}

// prefetchProcessed extends the processed prefix up to index by processing on
// the coordinating goroutine. Runs only under the prefetch-processed-on-load
// policy.
func (p *Pipeline[R, E]) prefetchProcessed(index int) error {
	for len(p.processedCache) <= index {
		x := len(p.processedCache)
		raw, err := p.rawGet(x)
		if err != nil {
			return err
		}
		ex, err := p.process(raw)
		if err != nil {
			return fmt.Errorf("data: process index %d: %w", x, err)
		}
		p.processedCache = append(p.processedCache, ex)
	}
	if p.datasetSize >= 0 && len(p.processedCache) == p.datasetSize {
		p.fullyCached = true
	}
	return nil
}

// rawGet fetches the raw example at index from whichever access path the raw
// chain supports.
func (p *Pipeline[R, E]) rawGet(index int) (R, error) {
	if p.cachedRaw != nil {
		return p.cachedRaw.Get(index)
	}
	if p.sourceRandom != nil {
		return p.sourceRandom.Get(index)
	}
	var zero R
	return zero, fmt.Errorf("data: raw example %d not reachable: source supports neither random access nor buffering", index)
}

// fusedGet fetches the processed example at index from the fused chain.
func (p *Pipeline[R, E]) fusedGet(index int) (E, error) {
	switch {
	case p.cachedFused != nil:
		return p.cachedFused.Get(index)
	case p.fusedRandom != nil:
		return p.fusedRandom.Get(index)
	case p.cachedRaw != nil:
		// Transform over a buffering adapter: read raw, process per access.
		raw, err := p.cachedRaw.Get(index)
		if err != nil {
			var zero E
			return zero, err
		}
		return p.process(raw)
	}
	var zero E
	return zero, fmt.Errorf("data: processed example %d not reachable", index)
}

// Get returns the processed example at index. Sequential-only chains require
// a prior PrefetchSource covering the index. Under cache strategies that
// erase after access, an index can be read only once per traversal round.
func (p *Pipeline[R, E]) Get(index int) (E, error) {
	var zero E
	if index < 0 {
		return zero, outOfRange(index, max(p.datasetSize, 0))
	}
	if p.fullyCached {
		if index >= len(p.processedCache) {
			return zero, outOfRange(index, len(p.processedCache))
		}
		return p.processedCache[index], nil
	}
	if !p.pol.parallelize {
		// Processing happens on the coordinator: the value is either in the
		// processed prefix or already fused into the chain.
		if index < len(p.processedCache) {
			return p.processedCache[index], nil
		}
		if p.fused != nil {
			return p.fusedGet(index)
		}
		// prefetch-processed-on-load before the catch-up reached index.
		raw, err := p.rawGet(index)
		if err != nil {
			return zero, err
		}
		return p.process(raw)
	}
	raw, err := p.rawGet(index)
	if err != nil {
		return zero, err
	}
	return p.process(raw)
}

// Raw returns the raw example at index for handing over to an external
// worker. It must be called on the coordinating goroutine; under
// erase-after-access caching the read consumes the buffered entry. Only
// meaningful when processing is parallelized — otherwise processing is fused
// into the chain and Get is the right entry point.
func (p *Pipeline[R, E]) Raw(index int) (R, error) {
	return p.rawGet(index)
}

// ProcessYielded resolves an (index, example) pair handed over by a traversal
// collaborator that already pulled the example from the source. Under
// parallel processing the example is raw and is processed here (typically on
// a worker); otherwise it was already processed inside the fused chain and is
// returned as-is.
func (p *Pipeline[R, E]) ProcessYielded(index int, example any) (E, error) {
	var zero E
	if !p.pol.parallelize {
		ex, ok := example.(E)
		if !ok {
			return zero, fmt.Errorf("data: yielded example %d has type %T, want processed example", index, example)
		}
		return ex, nil
	}
	raw, ok := example.(R)
	if !ok {
		return zero, fmt.Errorf("data: yielded example %d has type %T, want raw example", index, example)
	}
	return p.process(raw)
}

// AddProcessed ingests processed examples returned by external workers in
// arbitrary order. Contiguous examples extend the processed prefix directly;
// the rest wait in a reorder buffer that is drained whenever the next
// contiguous index becomes available. Must be called from the coordinating
// goroutine only.
func (p *Pipeline[R, E]) AddProcessed(indices []int, examples []E) error {
	if len(indices) != len(examples) {
		return fmt.Errorf("data: %d indices for %d examples", len(indices), len(examples))
	}
	if p.reorderCache == nil {
		return errors.New("data: AddProcessed requires the 'processed' cache strategy")
	}
	if p.pol.deleteSourceInAddCache && p.cachedRaw != nil {
		// Workers read raw examples without erasing them; drop the buffer
		// entries here instead.
		for _, index := range indices {
			p.cachedRaw.Evict(index)
		}
	}
	for i, index := range indices {
		if index == len(p.processedCache) {
			p.processedCache = append(p.processedCache, examples[i])
		} else {
			p.reorderCache[index] = examples[i]
		}
	}
	for {
		next, ok := p.reorderCache[len(p.processedCache)]
		if !ok {
			break
		}
		delete(p.reorderCache, len(p.processedCache))
		p.processedCache = append(p.processedCache, next)
	}
	if p.datasetSize >= 0 && len(p.processedCache) == p.datasetSize {
		p.fullyCached = true
	}
	return nil
}

// StartIteration prepares the pipeline for a new traversal round. Called by
// the sampler collaborator before each round; it rewinds the buffering
// adapter when the underlying source has to be re-iterated.
func (p *Pipeline[R, E]) StartIteration() {
	if !p.supportsRandomAccess {
		p.cached.Reset()
	}
}

// CollateAndMaybeReturn combines processed examples into a batch with the
// installed collate function. Under the return-processed-too policy (and
// while the cache is still filling) it also hands the examples back so the
// coordinator can pass them to AddProcessed.
func (p *Pipeline[R, E]) CollateAndMaybeReturn(examples []E) (any, []E, error) {
	if p.collate == nil {
		return nil, nil, errors.New("data: collate function is not configured")
	}
	batch, err := p.collate(examples)
	if err != nil {
		return nil, nil, err
	}
	if p.ShouldReturnProcessed() {
		return batch, examples, nil
	}
	return batch, nil, nil
}

// ShouldReturnProcessed reports whether workers should hand processed
// examples back for caching.
func (p *Pipeline[R, E]) ShouldReturnProcessed() bool {
	return !p.fullyCached && p.pol.returnProcessedToo
}

// ShouldYieldRaw reports whether the sampler should pull raw examples from
// the source during traversal instead of relying on caches.
func (p *Pipeline[R, E]) ShouldYieldRaw() bool {
	return p.lazy == LazyAll &&
		(p.cache == CacheNone || !p.fullyCached)
}

// ShouldPrefetchSource reports whether the sampler must call PrefetchSource
// before accessing each index.
func (p *Pipeline[R, E]) ShouldPrefetchSource() bool {
	return p.datasetSize < 0 || p.pol.prefetchSourceEagerly
}
