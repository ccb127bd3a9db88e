package testutil

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Rows returns n rows of the form {"r<i>", i} starting at 1
func Rows(n int) [][]interface{} {
	rows := make([][]interface{}, n)
	for i := range rows {
		rows[i] = []interface{}{fmt.Sprintf("r%d", i+1), i + 1}
	}
	return rows
}

// WriteCSVFixture writes a CSV file with a header and records into dir and
// returns its path.
func WriteCSVFixture(t *testing.T, dir, name string, header []string, records [][]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create fixture %s: %v", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		t.Fatalf("failed to write fixture header: %v", err)
	}
	if err := w.WriteAll(records); err != nil {
		t.Fatalf("failed to write fixture records: %v", err)
	}
	return path
}
