// Command strategies benchmarks the laziness and caching strategy
// combinations of the data pipeline against each other. It traverses the same
// dataset twice under every combination, reports the cold and warm traversal
// times, and optionally writes the comparison as a CSV file and a bar chart.
//
// By default it runs over a synthetic in-memory dataset; pass -pattern to
// benchmark over real CSV files instead.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Noofbiz/datapipe/data"
	"github.com/Noofbiz/datapipe/datasets"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// result holds the timings for one strategy combination.
type result struct {
	name     string
	buildDur time.Duration
	coldDur  time.Duration
	warmDur  time.Duration
	examples int
}

var (
	nExamples = flag.Int("n", 20000, "number of synthetic examples")
	cost      = flag.Int("cost", 200, "per-example processing cost (busy-loop iterations)")
	workers   = flag.Int("workers", 4, "worker count for parallel processing combinations")
	pattern   = flag.String("pattern", "", "optional glob pattern for CSV files; overrides the synthetic dataset")
	outDir    = flag.String("out", "plots", "output directory for the generated chart")
	outCSV    = flag.String("out-csv", "", "if set, write the timing table to this CSV path")
	verbose   = flag.Bool("v", false, "log strategy warnings and debug output")
)

func main() {
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	var results []result
	var err error
	if *pattern != "" {
		log.Info().Str("pattern", *pattern).Msg("benchmarking over CSV files")
		results, err = runAll(log, func() (data.Source[[]string], data.ProcessFunc[[]string, float64], error) {
			src, err := datasets.NewCSVSource(*pattern, true)
			if err != nil {
				return nil, nil, err
			}
			return src, processCSVRow, nil
		})
	} else {
		log.Info().Int("examples", *nExamples).Msg("benchmarking over synthetic dataset")
		results, err = runAll(log, func() (data.Source[int], data.ProcessFunc[int, float64], error) {
			return syntheticSource(*nExamples), processSynthetic(*cost), nil
		})
	}
	if err != nil {
		log.Fatal().Err(err).Msg("benchmark failed")
	}

	printTable(results)

	if *outCSV != "" {
		if err := writeCSV(*outCSV, results); err != nil {
			log.Fatal().Err(err).Str("path", *outCSV).Msg("failed to write CSV")
		}
		log.Info().Str("path", *outCSV).Msg("timing table written")
	}

	if err := plotResults(*outDir, results); err != nil {
		log.Fatal().Err(err).Msg("failed to generate chart")
	}
	log.Info().Str("dir", *outDir).Msg("chart written")
}

// syntheticSource yields ints 0..n-1 through a sequential-only iterator, which
// exercises the buffering path the way a streaming file source would.
func syntheticSource(n int) data.Source[int] {
	return data.NewIterSource(func() data.Iterator[int] {
		next := 0
		return data.IteratorFunc[int](func() (int, error) {
			if next >= n {
				return 0, io.EOF
			}
			v := next
			next++
			return v, nil
		})
	})
}

// processSynthetic burns roughly iters floating point operations per example
// so the parallel combinations have work to spread across workers.
func processSynthetic(iters int) data.ProcessFunc[int, float64] {
	return func(v int) (float64, error) {
		acc := float64(v)
		for i := 0; i < iters; i++ {
			acc = math.Sqrt(acc + float64(i))
		}
		return acc, nil
	}
}

// processCSVRow sums the parseable numeric fields of a record.
func processCSVRow(record []string) (float64, error) {
	var sum float64
	for _, field := range record {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		sum += v
	}
	return sum, nil
}

// runAll benchmarks every strategy combination, sequential and parallel, over
// fresh pipelines built from newSource.
func runAll[R any](log zerolog.Logger, newSource func() (data.Source[R], data.ProcessFunc[R, float64], error)) ([]result, error) {
	lazies := []data.LazyStrategy{data.LazyNone, data.LazyProcess, data.LazyAll}
	caches := []data.CacheStrategy{data.CacheNone, data.CacheLoaded, data.CacheProcessed}

	var results []result
	for _, parallel := range []bool{false, true} {
		for _, lazy := range lazies {
			for _, cache := range caches {
				name := fmt.Sprintf("%s/%s", lazy, cache)
				if parallel {
					name += "/par"
				}

				source, process, err := newSource()
				if err != nil {
					return nil, err
				}
				opts := data.DefaultOptions()
				opts.Name = name
				opts.Shuffle = false
				opts.LazyStrategy = lazy
				opts.CacheStrategy = cache
				opts.ParallelizeProcessing = parallel
				opts.NumParallelCalls = *workers
				opts.Logger = &log

				buildStart := time.Now()
				pipe, err := data.New(source, process, opts)
				if err != nil {
					return nil, fmt.Errorf("build %s: %w", name, err)
				}
				buildDur := time.Since(buildStart)

				r := result{name: name, buildDur: buildDur}
				for pass := 0; pass < 2; pass++ {
					start := time.Now()
					n, err := traverse(pipe, parallel)
					if err != nil {
						return nil, fmt.Errorf("traverse %s pass %d: %w", name, pass, err)
					}
					if pass == 0 {
						r.coldDur = time.Since(start)
						r.examples = n
					} else {
						r.warmDur = time.Since(start)
					}
				}
				results = append(results, r)
				log.Debug().
					Str("combo", r.name).
					Dur("build", r.buildDur).
					Dur("cold", r.coldDur).
					Dur("warm", r.warmDur).
					Msg("combination done")
			}
		}
	}
	return results, nil
}

// traverse walks every example of the pipeline once. Sequential combinations
// read through Get; parallel combinations hand raw examples to a worker pool
// and feed the processed results back.
func traverse[R any](pipe *data.Pipeline[R, float64], parallel bool) (int, error) {
	pipe.StartIteration()
	if !parallel || pipe.FullyCached() {
		return traverseSequential(pipe)
	}
	return traverseParallel(pipe)
}

func traverseSequential[R any](pipe *data.Pipeline[R, float64]) (int, error) {
	count := 0
	for i := 0; ; i++ {
		_, done, err := pipe.PrefetchSource(i)
		if err != nil {
			return 0, err
		}
		if done {
			return count, nil
		}
		if _, err := pipe.Get(i); err != nil {
			return 0, err
		}
		count++
	}
}

func traverseParallel[R any](pipe *data.Pipeline[R, float64]) (int, error) {
	// Phase 1: pull raw examples on the coordinating goroutine. Sources are
	// not assumed thread-safe, so only processing fans out.
	type job struct {
		index int
		raw   R
	}
	var jobs []job
	for i := 0; ; i++ {
		_, done, err := pipe.PrefetchSource(i)
		if err != nil {
			return 0, err
		}
		if done {
			break
		}
		raw, err := pipe.Raw(i)
		if err != nil {
			return 0, err
		}
		jobs = append(jobs, job{index: i, raw: raw})
	}

	// Phase 2: process on a worker pool.
	type done struct {
		index   int
		example float64
		err     error
	}
	jobCh := make(chan job, len(jobs))
	doneCh := make(chan done, len(jobs))
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				ex, err := pipe.ProcessYielded(j.index, j.raw)
				doneCh <- done{index: j.index, example: ex, err: err}
			}
		}()
	}
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)
	wg.Wait()
	close(doneCh)

	// Phase 3: feed results back on the coordinator so later rounds can hit
	// the processed cache.
	cacheResults := pipe.ShouldReturnProcessed()
	count := 0
	for d := range doneCh {
		if d.err != nil {
			return 0, d.err
		}
		if cacheResults {
			if err := pipe.AddProcessed([]int{d.index}, []float64{d.example}); err != nil {
				return 0, err
			}
		}
		count++
	}
	return count, nil
}

func printTable(results []result) {
	fmt.Printf("%-28s %12s %12s %12s %10s\n", "combination", "build", "cold", "warm", "examples")
	for _, r := range results {
		fmt.Printf("%-28s %12v %12v %12v %10d\n", r.name, r.buildDur, r.coldDur, r.warmDur, r.examples)
	}
}

func writeCSV(path string, results []result) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"combination", "build_ms", "cold_ms", "warm_ms", "examples"}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.name,
			strconv.FormatFloat(float64(r.buildDur)/float64(time.Millisecond), 'f', 3, 64),
			strconv.FormatFloat(float64(r.coldDur)/float64(time.Millisecond), 'f', 3, 64),
			strconv.FormatFloat(float64(r.warmDur)/float64(time.Millisecond), 'f', 3, 64),
			strconv.Itoa(r.examples),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// plotResults writes a PNG bar chart comparing cold (red) and warm (blue)
// traversal times per combination.
func plotResults(outDir string, results []result) error {
	p := plot.New()
	p.Title.Text = "Traversal time per strategy combination"
	p.Y.Label.Text = "milliseconds"

	coldVals := make(plotter.Values, len(results))
	warmVals := make(plotter.Values, len(results))
	names := make([]string, len(results))
	for i, r := range results {
		coldVals[i] = float64(r.coldDur) / float64(time.Millisecond)
		warmVals[i] = float64(r.warmDur) / float64(time.Millisecond)
		names[i] = r.name
	}

	w := vg.Points(8)

	coldBars, err := plotter.NewBarChart(coldVals, w)
	if err != nil {
		return err
	}
	coldBars.Color = color.RGBA{R: 200, G: 30, B: 30, A: 220}
	coldBars.Offset = -w / 2
	p.Add(coldBars)
	p.Legend.Add("cold", coldBars)

	warmBars, err := plotter.NewBarChart(warmVals, w)
	if err != nil {
		return err
	}
	warmBars.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	warmBars.Offset = w / 2
	p.Add(warmBars)
	p.Legend.Add("warm", warmBars)

	p.Legend.Top = true
	p.NominalX(names...)
	p.X.Tick.Label.Rotation = math.Pi / 3
	p.X.Tick.Label.XAlign = -1
	p.X.Tick.Label.YAlign = -0.5

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	outPath := filepath.Join(outDir, "strategies.png")
	return p.Save(10*vg.Inch, 6*vg.Inch, outPath)
}
