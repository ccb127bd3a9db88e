package exporter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{
			name:     "zero value",
			input:    0.0,
			expected: "0",
		},
		{
			name:     "positive integer",
			input:    123.0,
			expected: "123",
		},
		{
			name:     "negative integer",
			input:    -456.0,
			expected: "-456",
		},
		{
			name:     "trailing zeros removed",
			input:    123.450000,
			expected: "123.45",
		},
		{
			name:     "small number is not in exponent form",
			input:    1.23e-5,
			expected: "0.0000123",
		},
		{
			name:     "large number is not in exponent form",
			input:    1e21,
			expected: "1000000000000000000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatFloat(tt.input)
			assert.Equal(t, tt.expected, result, "formatFloat(%v) = %s, want %s", tt.input, result, tt.expected)
		})
	}
}

func TestFormatInt(t *testing.T) {
	assert.Equal(t, "0", formatInt(0))
	assert.Equal(t, "9223372036854775807", formatInt(9223372036854775807))
	assert.Equal(t, "-9223372036854775808", formatInt(-9223372036854775808))
}

type stringerValue struct{ label string }

func (s stringerValue) String() string { return "label:" + s.label }

func TestDisplayString(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{name: "int", input: 42, expected: "42"},
		{name: "int32", input: int32(-7), expected: "-7"},
		{name: "uint64", input: uint64(18446744073709551615), expected: "18446744073709551615"},
		{name: "float32", input: float32(1.5), expected: "1.5"},
		{name: "duration", input: 90 * time.Second, expected: "1m30s"},
		{name: "stringer", input: stringerValue{label: "x"}, expected: "label:x"},
		{name: "error", input: errors.New("boom"), expected: "boom"},
		{name: "slice", input: []int{1, 2}, expected: "[1 2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, displayString(tt.input))
		})
	}
}

// BenchmarkFormatFloat tests the performance of formatFloat function
func BenchmarkFormatFloat(b *testing.B) {
	testValues := []float64{
		0.0,
		123.456789,
		-987.654321,
		1234567.890123,
		0.000001,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, val := range testValues {
			_ = formatFloat(val)
		}
	}
}
