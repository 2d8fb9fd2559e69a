package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Noofbiz/datapipe/data"
)

// CSVSource streams rows from CSV files matching a glob pattern, in file
// order. It is sequential-only: rows are read straight off the files, so
// there is no indexed access and the total row count is unknown until a full
// pass completes. Every call to Iterate reopens the files, which makes the
// source restartable.
type CSVSource struct {
	paths      []string
	skipHeader bool
}

// NewCSVSource finds all CSV files matching pattern. With skipHeader set,
// the first row of every file is treated as a header and dropped from
// iteration.
func NewCSVSource(pattern string, skipHeader bool) (*CSVSource, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no CSV files found matching pattern: %s", pattern)
	}
	return &CSVSource{paths: paths, skipHeader: skipHeader}, nil
}

// Paths returns the matched file paths.
func (s *CSVSource) Paths() []string { return s.paths }

// Header reads and returns the first row of the first matched file.
func (s *CSVSource) Header() ([]string, error) {
	file, err := os.Open(s.paths[0])
	if err != nil {
		return nil, fmt.Errorf("failed to open first CSV %s: %w", s.paths[0], err)
	}
	defer file.Close()

	header, err := csv.NewReader(file).Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return header, nil
}

// Iterate returns an iterator over all data rows across the matched files.
func (s *CSVSource) Iterate() data.Iterator[[]string] {
	return &csvIterator{source: s}
}

type csvIterator struct {
	source  *CSVSource
	fileIdx int
	file    *os.File
	reader  *csv.Reader
	done    bool
}

func (it *csvIterator) Next() ([]string, error) {
	for {
		if it.done {
			return nil, io.EOF
		}
		if it.reader == nil {
			if err := it.openNext(); err != nil {
				return nil, err
			}
			continue
		}
		record, err := it.reader.Read()
		if err == io.EOF {
			it.file.Close()
			it.file = nil
			it.reader = nil
			it.fileIdx++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		return record, nil
	}
}

func (it *csvIterator) openNext() error {
	if it.fileIdx >= len(it.source.paths) {
		it.done = true
		return nil
	}
	file, err := os.Open(it.source.paths[it.fileIdx])
	if err != nil {
		return fmt.Errorf("failed to open CSV: %w", err)
	}
	it.file = file
	it.reader = csv.NewReader(file)
	if it.source.skipHeader {
		if _, err := it.reader.Read(); err != nil && err != io.EOF {
			file.Close()
			it.file = nil
			it.reader = nil
			return fmt.Errorf("failed to read header: %w", err)
		}
	}
	return nil
}

// CountRows counts the data rows (excluding headers) across all files
// matched by the source. This reads every file end to end.
func (s *CSVSource) CountRows() (int, error) {
	count := 0
	it := s.Iterate()
	for {
		_, err := it.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		count++
	}
}
