package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestFileValidator_ValidateCSVFile(t *testing.T) {
	tests := []struct {
		name          string
		setupFunc     func(t *testing.T) string
		errorContains string
	}{
		{
			name: "valid csv",
			setupFunc: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "contacts.CSV")
				require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0644))
				return path
			},
		},
		{
			name: "non-existent file",
			setupFunc: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.csv")
			},
			errorContains: "does not exist",
		},
		{
			name: "directory",
			setupFunc: func(t *testing.T) string {
				dir := filepath.Join(t.TempDir(), "data.csv")
				require.NoError(t, os.Mkdir(dir, 0755))
				return dir
			},
			errorContains: "is a directory",
		},
		{
			name: "wrong extension",
			setupFunc: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "contacts.txt")
				require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0644))
				return path
			},
			errorContains: "not a CSV file",
		},
	}

	v := NewFileValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateCSVFile(tt.setupFunc(t))
			if tt.errorContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestFileValidator_ValidateOutputDirectory(t *testing.T) {
	v := NewFileValidator(nil)

	dir := filepath.Join(t.TempDir(), "nested", "out")
	require.NoError(t, v.ValidateOutputDirectory(dir))
	assert.DirExists(t, dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the probe file is removed")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, v.ValidateOutputDirectory(file))
}

func TestFileValidator_ValidateWorkbook(t *testing.T) {
	v := NewFileValidator(nil)
	dir := t.TempDir()

	book := excelize.NewFile()
	_, err := book.NewSheet("Contacts 2")
	require.NoError(t, err)
	require.NoError(t, book.SetSheetName("Sheet1", "Contacts 1"))
	path := filepath.Join(dir, "export.xlsx")
	require.NoError(t, book.SaveAs(path))
	require.NoError(t, book.Close())

	sheets, err := v.ValidateWorkbook(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Contacts 1", "Contacts 2"}, sheets)

	corrupt := filepath.Join(dir, "corrupt.xlsx")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a zip"), 0644))
	_, err = v.ValidateWorkbook(corrupt)
	assert.ErrorContains(t, err, "not a valid workbook")

	lock := filepath.Join(dir, "~$export.xlsx")
	require.NoError(t, os.WriteFile(lock, []byte("x"), 0644))
	_, err = v.ValidateWorkbook(lock)
	assert.ErrorContains(t, err, "temporary")

	csvPath := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a\n"), 0644))
	_, err = v.ValidateWorkbook(csvPath)
	assert.ErrorContains(t, err, "not an Excel file")
}
