package exporter

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain text unchanged", input: "hello world", expected: "hello world"},
		{name: "keeps tab newline and carriage return", input: "a\tb\nc\rd", expected: "a\tb\nc\rd"},
		{name: "strips control characters", input: "a\x00b\x07c\x1fd", expected: "abcd"},
		{name: "strips non-characters", input: "x\uFFFEy\uFFFFz", expected: "xyz"},
		{name: "replaces invalid utf-8", input: "ok\xffok", expected: "ok\uFFFDok"},
		{name: "keeps non-latin text", input: "مرحبا 你好", expected: "مرحبا 你好"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanString(tt.input))
		})
	}
}

func TestNormalize(t *testing.T) {
	kigali, err := time.LoadLocation("Africa/Kigali")
	require.NoError(t, err)

	var nilPtr *string
	var nilNullString *sql.NullString
	var nilTime *time.Time
	text := "=SUM(A1)"
	stamp := time.Date(2024, 3, 1, 22, 30, 15, 0, time.UTC)
	count := 12

	tests := []struct {
		name     string
		input    interface{}
		expected interface{}
	}{
		{name: "nil", input: nil, expected: ""},
		{name: "typed nil pointer", input: nilPtr, expected: ""},
		{name: "nil null string pointer", input: nilNullString, expected: ""},
		{name: "nil time pointer", input: nilTime, expected: ""},
		{name: "null string pointer", input: &sql.NullString{String: "=x", Valid: true}, expected: "'=x"},
		{name: "time pointer", input: &stamp, expected: time.Date(2024, 3, 2, 0, 30, 15, 0, time.UTC)},
		{name: "pointer to string", input: &text, expected: "'=SUM(A1)"},
		{name: "pointer to int", input: &count, expected: "12"},
		{name: "plain string", input: "hello", expected: "hello"},
		{name: "formula is escaped", input: "=1+2", expected: "'=1+2"},
		{name: "equals sign later is untouched", input: "a=b", expected: "a=b"},
		{name: "escaped then cleaned", input: "=A1\x00", expected: "'=A1"},
		{name: "bytes", input: []byte("=cmd"), expected: "'=cmd"},
		{name: "true", input: true, expected: true},
		{name: "false", input: false, expected: false},
		{name: "int", input: 1234, expected: "1234"},
		{name: "float", input: 12.5, expected: "12.5"},
		{name: "null string", input: sql.NullString{}, expected: ""},
		{name: "valid null string", input: sql.NullString{String: "=x", Valid: true}, expected: "'=x"},
		{name: "null int", input: sql.NullInt64{Int64: 9, Valid: true}, expected: "9"},
		{name: "null bool", input: sql.NullBool{Bool: true, Valid: true}, expected: true},
		{
			name:     "datetime",
			input:    time.Date(2024, 3, 1, 22, 30, 15, 987654321, time.UTC),
			expected: time.Date(2024, 3, 2, 0, 30, 15, 0, time.UTC),
		},
		{
			name:     "null time",
			input:    sql.NullTime{Time: time.Date(2024, 1, 1, 0, 0, 0, 5, time.UTC), Valid: true},
			expected: time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input, kigali))
		})
	}
}

func TestNormalize_FormulaDiffersByEscapeOnly(t *testing.T) {
	inputs := []string{"=", "=A1", "==", "=HYPERLINK(\"http://x\")", "=\t1"}
	for _, in := range inputs {
		out, ok := Normalize(in, time.UTC).(string)
		require.True(t, ok)
		assert.Equal(t, FormulaEscape+in, out)
		assert.Equal(t, in, strings.TrimPrefix(out, FormulaEscape))
	}
}

func TestNormalize_DatetimeInOrgZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	input := time.Date(2023, 7, 4, 12, 0, 0, 500_000_000, time.UTC)
	out, ok := NewNormalizer(ny).Value(input).(time.Time)
	require.True(t, ok)

	assert.Equal(t, 0, out.Nanosecond())
	assert.Equal(t, 8, out.Hour())
	assert.Equal(t, time.UTC, out.Location())
}

func TestNormalize_NilLocationIsUTC(t *testing.T) {
	in := time.Date(2022, 5, 6, 7, 8, 9, 10, time.FixedZone("X", 3600))
	out := Normalize(in, nil)
	assert.Equal(t, time.Date(2022, 5, 6, 6, 8, 9, 0, time.UTC), out)
	assert.Equal(t, time.UTC, NewNormalizer(nil).Location())
}

func TestNormalizer_Row(t *testing.T) {
	n := NewNormalizer(time.UTC)
	in := []interface{}{nil, "=x", 3, false}
	out := n.Row(in)

	assert.Equal(t, []interface{}{"", "'=x", "3", false}, out)
	// input is not modified
	assert.Equal(t, "=x", in[1])
}
