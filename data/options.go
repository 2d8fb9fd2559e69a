package data

import "github.com/rs/zerolog"

// Options holds the configurable settings of a pipeline.
// Start from DefaultOptions and override fields as needed; New fills in
// defaults for numeric fields left at or below zero.
type Options struct {
	// Name identifies the pipeline in logs.
	Name string

	// NumEpochs is how many times consumers intend to repeat the dataset.
	// The engine itself does not drive epochs; the value is exposed to
	// traversal collaborators.
	NumEpochs int

	// BatchSize is the number of consecutive examples combined into one
	// batch by traversal collaborators.
	BatchSize int

	// AllowSmallerFinalBatch keeps the final batch when fewer than BatchSize
	// examples remain.
	AllowSmallerFinalBatch bool

	// Shuffle asks traversal collaborators to randomize order.
	Shuffle bool

	// ShuffleBufferSize bounds the shuffle buffer; 0 means the whole
	// dataset.
	ShuffleBufferSize int

	// ShardAndShuffle is accepted for configuration compatibility but not
	// implemented.
	ShardAndShuffle bool

	// NumParallelCalls is the number of external workers processing
	// examples. Values above 1 mark the pipeline as multi-worker.
	NumParallelCalls int

	// PrefetchBufferSize is accepted for configuration compatibility but
	// not implemented.
	PrefetchBufferSize int

	// MaxDatasetSize caps the number of examples. Non-positive means
	// unlimited.
	MaxDatasetSize int

	// Seed is accepted for configuration compatibility but not implemented.
	Seed int64

	// LazyStrategy controls when loading/processing happen. See the
	// LazyStrategy constants.
	LazyStrategy LazyStrategy

	// CacheStrategy controls what is retained for reuse. See the
	// CacheStrategy constants. Contradictory combinations with LazyStrategy
	// are normalized with a logged warning.
	CacheStrategy CacheStrategy

	// ParallelizeProcessing marks processing as executed by external
	// workers. When false, processing is fused into the source chain and
	// runs on the coordinating goroutine. Process functions used with
	// parallel processing must not mutate shared state.
	ParallelizeProcessing bool

	// Logger receives configuration and performance warnings. Nil disables
	// diagnostics.
	Logger *zerolog.Logger
}

// DefaultOptions returns the default pipeline settings: eager
// loading/processing, processed-example caching, parallel processing enabled,
// batch size 64, one epoch.
func DefaultOptions() Options {
	return Options{
		Name:                   "data",
		NumEpochs:              1,
		BatchSize:              64,
		AllowSmallerFinalBatch: true,
		Shuffle:                true,
		NumParallelCalls:       1,
		MaxDatasetSize:         -1,
		LazyStrategy:           LazyNone,
		CacheStrategy:          CacheProcessed,
		ParallelizeProcessing:  true,
	}
}

func (o *Options) applyDefaults() {
	if o.Name == "" {
		o.Name = "data"
	}
	if o.NumEpochs <= 0 {
		o.NumEpochs = 1
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.NumParallelCalls <= 0 {
		o.NumParallelCalls = 1
	}
}

func (o *Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return zerolog.Nop()
}
