// Package data provides a lazy, cacheable data-loading pipeline: it wraps a
// raw data source and serves processed examples by index, with configurable
// laziness and caching strategies that trade memory, latency, and
// parallelism.
//
// A Source produces raw examples, either sequentially or by index when it
// implements RandomAccess. Combinators (zip, record, filter, truncate,
// transform) build derived sources; CachedSource gives buffered random access
// to sources that only support iteration. Pipeline ties it all together: it
// resolves the laziness/cache strategy combination, wraps the source chain in
// the right order, performs eager loading/processing when configured, and
// reassembles out-of-order results arriving from external parallel workers.
//
// The pipeline is single-threaded by design. Data sources are not assumed to
// be thread-safe, so every source access happens on the one coordinating
// goroutine; external workers only receive already-fetched raw examples and
// hand results back through AddProcessed on that same coordinator.
package data
