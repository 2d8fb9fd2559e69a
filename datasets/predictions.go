package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/datapipe/data"
)

// PredictionData serves player-state examples from CSV files through the
// data pipeline, for the prediction portion of the competition. Each CSV
// file is expected to have columns:
// "x", "y", "s", "a", "o", "dir", "ball_land_x", "ball_land_y".
//
// Rows stream in from disk through a CSVSource; the pipeline's laziness and
// cache strategies decide when rows are parsed into examples and which
// representation stays in memory. With the default options everything is
// loaded and parsed up front; lazy strategies keep only what the configured
// cache retains.
type PredictionData struct {
	// Pattern used to find CSV files (e.g., "assets/kaggle/*.csv")
	Pattern string

	opts     data.Options
	colIndex map[string]int
	pipeline *data.Pipeline[[]string, Example]

	// Traversal state for Yield
	rand   *rand.Rand
	order  []int
	cursor int
}

// Example is one processed prediction example: the player state at the
// moment of the throw and the landing position of the ball.
type Example struct {
	// Inputs are x, y, s, a, o, dir (in that order).
	Inputs []float32
	// Labels are ball_land_x, ball_land_y.
	Labels []float32
}

var (
	featureColumns = []string{"x", "y", "s", "a", "o", "dir"}
	labelColumns   = []string{"ball_land_x", "ball_land_y"}
)

// NewPredictionData creates a prediction dataset over the CSV files matching
// pattern, using the given pipeline options.
func NewPredictionData(pattern string, opts data.Options) (*PredictionData, error) {
	source, err := NewCSVSource(pattern, true)
	if err != nil {
		return nil, err
	}

	d := &PredictionData{
		Pattern: pattern,
		opts:    opts,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := d.initializeColumns(source); err != nil {
		return nil, err
	}

	pipe, err := data.New[[]string, Example](source, d.processRow, opts)
	if err != nil {
		return nil, err
	}
	pipe.SetCollate(collateExamples)
	d.pipeline = pipe
	return d, nil
}

// initializeColumns reads the first CSV header to determine column indices.
func (d *PredictionData) initializeColumns(source *CSVSource) error {
	header, err := source.Header()
	if err != nil {
		return err
	}
	d.colIndex = make(map[string]int)
	for i, col := range header {
		d.colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range append(append([]string{}, featureColumns...), labelColumns...) {
		if _, ok := d.colIndex[col]; !ok {
			return fmt.Errorf("required column %q not found in CSV", col)
		}
	}
	return nil
}

// processRow parses a CSV record into an Example. It is the pipeline's
// process function, so depending on configuration it may run during eager
// construction, per access, or in parallel workers.
func (d *PredictionData) processRow(record []string) (Example, error) {
	inputs := make([]float32, len(featureColumns))
	for i, col := range featureColumns {
		idx := d.colIndex[col]
		if idx >= len(record) {
			return Example{}, fmt.Errorf("row too short for column %q", col)
		}
		val, err := parseFloat32(record[idx])
		if err != nil {
			return Example{}, fmt.Errorf("failed to parse %s: %w", col, err)
		}
		inputs[i] = val
	}
	labels := make([]float32, len(labelColumns))
	for i, col := range labelColumns {
		idx := d.colIndex[col]
		if idx >= len(record) {
			return Example{}, fmt.Errorf("row too short for column %q", col)
		}
		val, err := parseFloat32(record[idx])
		if err != nil {
			return Example{}, fmt.Errorf("failed to parse %s: %w", col, err)
		}
		labels[i] = val
	}
	return Example{Inputs: inputs, Labels: labels}, nil
}

func collateExamples(examples []Example) (any, error) {
	inputs := make([][]float32, len(examples))
	labels := make([][]float32, len(examples))
	for i, ex := range examples {
		inputs[i] = ex.Inputs
		labels[i] = ex.Labels
	}
	return MakeBatchFlat(inputs, labels)
}

// Len returns the total number of examples across all CSV files. For lazy
// configurations this may force a full traversal on the first call.
func (d *PredictionData) Len() int {
	n, err := d.pipeline.Len()
	if err != nil {
		return 0
	}
	return n
}

// Example reads a single example by global index.
func (d *PredictionData) Example(idx int) (inputs []float32, labels []float32, err error) {
	if idx < 0 {
		return nil, nil, fmt.Errorf("index %d out of range: %w", idx, data.ErrOutOfRange)
	}
	size, done, err := d.pipeline.PrefetchSource(idx)
	if err != nil {
		return nil, nil, err
	}
	if done {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d): %w", idx, size, data.ErrOutOfRange)
	}
	ex, err := d.pipeline.Get(idx)
	if err != nil {
		return nil, nil, err
	}
	return ex.Inputs, ex.Labels, nil
}

// Batch reads multiple examples by their indices.
func (d *PredictionData) Batch(indices []int) ([][]float32, [][]float32, error) {
	inputs := make([][]float32, len(indices))
	labels := make([][]float32, len(indices))
	for i, idx := range indices {
		in, lab, err := d.Example(idx)
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = in
		labels[i] = lab
	}
	return inputs, labels, nil
}

// Shuffle reshuffles the traversal order used by Yield.
func (d *PredictionData) Shuffle(seed int64) {
	d.rand = rand.New(rand.NewSource(seed))
	if d.order != nil {
		d.rand.Shuffle(len(d.order), func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
}

// Tensors reads a batch of examples by index and returns them as gomlx
// tensors.
func (d *PredictionData) Tensors(indices []int) (inputs *tensors.Tensor, labels *tensors.Tensor, err error) {
	examples := make([]Example, len(indices))
	for i, idx := range indices {
		size, done, err := d.pipeline.PrefetchSource(idx)
		if err != nil {
			return nil, nil, err
		}
		if done {
			return nil, nil, fmt.Errorf("index %d out of range [0, %d): %w", idx, size, data.ErrOutOfRange)
		}
		examples[i], err = d.pipeline.Get(idx)
		if err != nil {
			return nil, nil, err
		}
	}
	batch, _, err := d.pipeline.CollateAndMaybeReturn(examples)
	if err != nil {
		return nil, nil, err
	}
	return batch.(*BatchFlat).ToGomlxTensors()
}

// Name returns the name of the dataset.
func (d *PredictionData) Name() string { return d.pipeline.Name() }

// Yield returns the next batch of data for the gomlx train.Dataset
// interface. Batch size comes from the pipeline options; io.EOF signals the
// end of the epoch.
func (d *PredictionData) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	n := d.Len()
	if d.order == nil {
		d.order = make([]int, n)
		for i := range d.order {
			d.order[i] = i
		}
		if d.opts.Shuffle {
			d.rand.Shuffle(len(d.order), func(i, j int) {
				d.order[i], d.order[j] = d.order[j], d.order[i]
			})
		}
	}
	if d.cursor >= n {
		return nil, nil, nil, io.EOF
	}
	end := d.cursor + d.pipeline.BatchSize()
	if end > n {
		end = n
		if !d.opts.AllowSmallerFinalBatch {
			d.cursor = n
			return nil, nil, nil, io.EOF
		}
	}
	indices := d.order[d.cursor:end]
	d.cursor = end

	in, lab, err := d.Tensors(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{in}, []*tensors.Tensor{lab}, nil
}

// Restart resets the dataset for a new epoch.
func (d *PredictionData) Restart() error {
	d.cursor = 0
	d.pipeline.StartIteration()
	return nil
}

// BatchFlat stores a batch in flat contiguous buffers along with shape
// metadata, ready for conversion into gomlx tensors.
type BatchFlat struct {
	Inputs    []float32
	Labels    []float32
	BatchSize int
	InputDim  int
	LabelDim  int
}

// MakeBatchFlat flattens a batch into contiguous buffers.
func MakeBatchFlat(inputs, labels [][]float32) (*BatchFlat, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("inputs and labels batch sizes don't match: %d != %d", len(inputs), len(labels))
	}
	if len(inputs) == 0 {
		return &BatchFlat{}, nil
	}

	batchSize := len(inputs)
	inputDim := len(inputs[0])
	labelDim := len(labels[0])

	flatInputs := make([]float32, batchSize*inputDim)
	flatLabels := make([]float32, batchSize*labelDim)

	for i := range batchSize {
		if len(inputs[i]) != inputDim {
			return nil, fmt.Errorf("inconsistent input dimensions at example %d: expected %d, got %d",
				i, inputDim, len(inputs[i]))
		}
		if len(labels[i]) != labelDim {
			return nil, fmt.Errorf("inconsistent label dimensions at example %d: expected %d, got %d",
				i, labelDim, len(labels[i]))
		}
		copy(flatInputs[i*inputDim:], inputs[i])
		copy(flatLabels[i*labelDim:], labels[i])
	}

	return &BatchFlat{
		Inputs:    flatInputs,
		Labels:    flatLabels,
		BatchSize: batchSize,
		InputDim:  inputDim,
		LabelDim:  labelDim,
	}, nil
}

// ToGomlxTensors converts BatchFlat to gomlx tensors.
func (b *BatchFlat) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	// handle empty batch gracefully
	if b.BatchSize == 0 || b.InputDim == 0 || b.LabelDim == 0 {
		inT := tensors.FromAnyValue(make([][]float32, 0))
		labT := tensors.FromAnyValue(make([][]float32, 0))
		return inT, labT, nil
	}
	inputs := make([][]float32, b.BatchSize)
	labels := make([][]float32, b.BatchSize)
	for i := range b.BatchSize {
		inputs[i] = b.Inputs[i*b.InputDim : (i+1)*b.InputDim]
		labels[i] = b.Labels[i*b.LabelDim : (i+1)*b.LabelDim]
	}
	inT := tensors.FromAnyValue(inputs)
	labT := tensors.FromAnyValue(labels)
	return inT, labT, nil
}
