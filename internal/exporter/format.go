package exporter

import (
	"fmt"
	"strconv"
	"time"
)

// displayString renders a value the way it should read in a cell when it
// has no native spreadsheet type. Floats never use exponent notation.
func displayString(value interface{}) string {
	switch v := value.(type) {
	case float64:
		return formatFloat(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return formatInt(int64(v))
	case int64:
		return formatInt(v)
	case int32:
		return formatInt(int64(v))
	case uint64:
		return strconv.FormatUint(v, 10)
	case time.Duration:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

// formatFloat formats a float64 with the shortest exact decimal form
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatInt formats an int64 value
func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
