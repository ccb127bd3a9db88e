// Package shared holds helpers used across the export packages.
//
// testutil provides the buffered slog handler used for log assertions and
// row and CSV fixtures. It must only be imported from tests.
package shared
