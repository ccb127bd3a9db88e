package exporter

import (
	"database/sql/driver"
	"reflect"
	"strings"
	"time"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// FormulaEscape is prepended to strings that would otherwise be evaluated
// as a formula by a spreadsheet application.
const FormulaEscape = "'"

// illegalRunes matches characters that cannot appear in an xlsx cell:
// C0 control characters other than tab, newline and carriage return,
// surrogate halves and the two Unicode non-characters U+FFFE and U+FFFF.
var illegalRunes = runes.Predicate(func(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return false
	case r < 0x20:
		return true
	case r >= 0xD800 && r <= 0xDFFF:
		return true
	case r == 0xFFFE || r == 0xFFFF:
		return true
	}
	return false
})

// CleanString removes characters the sheet format cannot store and
// replaces invalid UTF-8 sequences with U+FFFD.
func CleanString(s string) string {
	// transformers are stateful, so each call builds its own chain
	t := transform.Chain(runes.ReplaceIllFormed(), runes.Remove(illegalRunes))
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToValidUTF8(s, "")
	}
	return out
}

// Normalizer converts raw row values into cell values for one
// organization's timezone.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a normalizer for the given timezone. A nil
// location is treated as UTC.
func NewNormalizer(loc *time.Location) Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return Normalizer{loc: loc}
}

// Location returns the timezone datetimes are converted into
func (n Normalizer) Location() *time.Location {
	if n.loc == nil {
		return time.UTC
	}
	return n.loc
}

// Value normalizes a single cell value
func (n Normalizer) Value(value interface{}) interface{} {
	return Normalize(value, n.Location())
}

// Row normalizes every value of a row into a fresh slice
func (n Normalizer) Row(values []interface{}) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = n.Value(v)
	}
	return out
}

// Normalize converts one raw value into something safe to hand to the sheet
// sink. The result is always one of string, bool or time.Time:
//
//   - nil (including typed nil pointers and SQL NULLs) becomes ""
//   - strings starting with "=" get FormulaEscape prepended, then are cleaned
//   - bools pass through unchanged
//   - datetimes are moved into loc, truncated to the second and returned as a
//     zone-naive wall clock (carried in time.UTC)
//   - anything else is rendered as its display string and cleaned
//
// Normalize never panics and never fails.
func Normalize(value interface{}, loc *time.Location) interface{} {
	if loc == nil {
		loc = time.UTC
	}

	// typed nil pointers never reach a method, driver.Valuer included
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return ""
	}

	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return normalizeString(v)
	case []byte:
		return normalizeString(string(v))
	case bool:
		return v
	case time.Time:
		return localize(v, loc)
	case driver.Valuer:
		inner, err := v.Value()
		if err != nil {
			return ""
		}
		if _, again := inner.(driver.Valuer); again {
			return CleanString(displayString(inner))
		}
		return Normalize(inner, loc)
	}

	if rv.Kind() == reflect.Ptr {
		return Normalize(rv.Elem().Interface(), loc)
	}

	return CleanString(displayString(value))
}

func normalizeString(s string) string {
	if strings.HasPrefix(s, "=") {
		s = FormulaEscape + s
	}
	return CleanString(s)
}

// localize returns t's wall clock in loc, without sub-second precision,
// carried in UTC so the sink does not shift it again.
func localize(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), 0, time.UTC)
}
