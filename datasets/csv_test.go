package datasets

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

// writeCSV writes a CSV file with the given header and rows to path.
func writeCSV(t *testing.T, path, header string, rows []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create csv %s: %v", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(header + "\n"); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	for _, r := range rows {
		if _, err := f.WriteString(r + "\n"); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
}

func TestCSVSource_IterateAcrossFiles(t *testing.T) {
	tmp := t.TempDir()
	header := "a,b"

	writeCSV(t, filepath.Join(tmp, "f1.csv"), header, []string{"1,2", "3,4"})
	writeCSV(t, filepath.Join(tmp, "f2.csv"), header, []string{"5,6"})

	src, err := NewCSVSource(filepath.Join(tmp, "*.csv"), true)
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	if got := len(src.Paths()); got != 2 {
		t.Fatalf("expected 2 matched files, got %d", got)
	}

	it := src.Iterate()
	var rows [][]string
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		rows = append(rows, rec)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 data rows, got %d", len(rows))
	}
	if rows[0][0] != "1" || rows[2][1] != "6" {
		t.Fatalf("unexpected row contents: %v", rows)
	}

	// EOF should be sticky
	if _, err := it.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after exhaustion, got %v", err)
	}
}

func TestCSVSource_Restartable(t *testing.T) {
	tmp := t.TempDir()
	writeCSV(t, filepath.Join(tmp, "f.csv"), "a", []string{"1", "2"})

	src, err := NewCSVSource(filepath.Join(tmp, "*.csv"), true)
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}

	for pass := 0; pass < 2; pass++ {
		it := src.Iterate()
		count := 0
		for {
			if _, err := it.Next(); err == io.EOF {
				break
			} else if err != nil {
				t.Fatalf("pass %d Next error: %v", pass, err)
			}
			count++
		}
		if count != 2 {
			t.Fatalf("pass %d: expected 2 rows, got %d", pass, count)
		}
	}
}

func TestCSVSource_HeaderAndCount(t *testing.T) {
	tmp := t.TempDir()
	writeCSV(t, filepath.Join(tmp, "f1.csv"), "x,y", []string{"1,2", "3,4", "5,6"})
	writeCSV(t, filepath.Join(tmp, "f2.csv"), "x,y", []string{"7,8"})

	src, err := NewCSVSource(filepath.Join(tmp, "*.csv"), true)
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}

	hdr, err := src.Header()
	if err != nil {
		t.Fatalf("Header error: %v", err)
	}
	if len(hdr) != 2 || hdr[0] != "x" || hdr[1] != "y" {
		t.Fatalf("unexpected header: %v", hdr)
	}

	n, err := src.CountRows()
	if err != nil {
		t.Fatalf("CountRows error: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 rows, got %d", n)
	}
}

func TestCSVSource_NoMatches(t *testing.T) {
	tmp := t.TempDir()
	if _, err := NewCSVSource(filepath.Join(tmp, "*.csv"), true); err == nil {
		t.Fatalf("expected error when pattern matches nothing, got nil")
	}
}
