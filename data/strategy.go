package data

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LazyStrategy controls when loading and processing happen relative to
// pipeline construction.
type LazyStrategy int

const (
	// LazyNone performs eager loading and processing: the whole source is
	// traversed and processed at construction.
	LazyNone LazyStrategy = iota
	// LazyProcess performs eager loading but lazy processing.
	LazyProcess
	// LazyAll defers both loading and processing until access.
	LazyAll
)

// String returns the configuration-string form of the strategy.
func (s LazyStrategy) String() string {
	switch s {
	case LazyNone:
		return "none"
	case LazyProcess:
		return "process"
	case LazyAll:
		return "all"
	}
	return fmt.Sprintf("LazyStrategy(%d)", int(s))
}

// ParseLazyStrategy converts the string form ("none", "process", "all") into
// a LazyStrategy.
func ParseLazyStrategy(s string) (LazyStrategy, error) {
	switch s {
	case "none":
		return LazyNone, nil
	case "process":
		return LazyProcess, nil
	case "all":
		return LazyAll, nil
	}
	return LazyNone, fmt.Errorf("unknown lazy strategy %q", s)
}

// CacheStrategy controls which representation of an example is retained for
// reuse.
type CacheStrategy int

const (
	// CacheNone retains nothing; examples are re-loaded and re-processed on
	// every access.
	CacheNone CacheStrategy = iota
	// CacheLoaded retains raw examples; processing runs on every access.
	CacheLoaded
	// CacheProcessed retains processed examples. Raw examples are not kept,
	// since they only exist to construct the processed ones.
	CacheProcessed
)

// String returns the configuration-string form of the strategy.
func (s CacheStrategy) String() string {
	switch s {
	case CacheNone:
		return "none"
	case CacheLoaded:
		return "loaded"
	case CacheProcessed:
		return "processed"
	}
	return fmt.Sprintf("CacheStrategy(%d)", int(s))
}

// ParseCacheStrategy converts the string form ("none", "loaded", "processed")
// into a CacheStrategy.
func ParseCacheStrategy(s string) (CacheStrategy, error) {
	switch s {
	case "none":
		return CacheNone, nil
	case "loaded":
		return CacheLoaded, nil
	case "processed":
		return CacheProcessed, nil
	}
	return CacheNone, fmt.Errorf("unknown cache strategy %q", s)
}

// resolveStrategies reconciles the two strategy axes into a consistent
// combination, logging a warning when the requested values contradict each
// other. It must run before any source-wrapping decisions, since the wrapping
// order depends on the resolved values.
//
// Rules:
//   - lazy=none has nothing but processed output to cache, so any other
//     cache setting is overridden to processed.
//   - lazy=process with cache=none would reprocess from raw on every access,
//     which costs the same as caching the loaded result once; it is
//     normalized to cache=loaded.
//   - lazy=all is compatible with every cache setting.
func resolveStrategies(lazy LazyStrategy, cache CacheStrategy, log zerolog.Logger) (LazyStrategy, CacheStrategy) {
	switch lazy {
	case LazyNone:
		if cache != CacheProcessed {
			log.Warn().
				Str("cache_strategy", cache.String()).
				Msg("'none' lazy strategy makes this equivalent to 'processed' cache strategy")
			cache = CacheProcessed
		}
	case LazyProcess:
		if cache == CacheNone {
			log.Warn().
				Msg("'none' cache strategy with 'process' lazy strategy is equivalent to 'loaded' cache strategy")
			cache = CacheLoaded
		}
	}
	return lazy, cache
}

// policy is the immutable record of behavior flags derived once at
// construction, after the random-access probe. Runtime paths branch on these
// instead of re-evaluating strategy combinations.
type policy struct {
	parallelize bool

	// returnProcessedToo: workers hand processed examples back alongside the
	// collated batch so the coordinator can cache them.
	returnProcessedToo bool
	// prefetchSourceEagerly: the traversal must drive source prefetching
	// itself because nothing is cached.
	prefetchSourceEagerly bool
	// prefetchProcessedOnLoad: processing catches up synchronously during
	// source prefetch.
	prefetchProcessedOnLoad bool
	// deleteSourceInAddCache: raw buffer entries are erased during
	// AddProcessed because parallel workers read them without erasing.
	deleteSourceInAddCache bool
}

func derivePolicy(lazy LazyStrategy, cache CacheStrategy, parallelize, multiWorker, supportsRandomAccess bool) policy {
	return policy{
		parallelize: parallelize,
		returnProcessedToo: lazy != LazyNone &&
			cache == CacheProcessed &&
			parallelize,
		prefetchSourceEagerly: lazy == LazyAll &&
			cache == CacheNone,
		prefetchProcessedOnLoad: !parallelize &&
			lazy == LazyProcess &&
			cache == CacheProcessed,
		deleteSourceInAddCache: !supportsRandomAccess &&
			parallelize &&
			multiWorker &&
			lazy == LazyProcess &&
			cache == CacheProcessed,
	}
}
