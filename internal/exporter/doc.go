// Package exporter writes large tables into spreadsheet files.
//
// This package contains three main components:
//
// Normalizer: Converts raw row values into cell-safe values. Strings that
// would be evaluated as formulas are escaped, characters the file format
// cannot hold are stripped, and datetimes are rendered as wall clock time
// in the organization's timezone.
//
// SheetWriter: Streams rows into a single xlsx sheet with a header row and
// a fixed data row capacity.
//
// TableExporter: Spreads one logical table over as many sheets as needed,
// named "<table> 1", "<table> 2" and so on, and falls back to a single CSV
// stream when the table is wider than a sheet allows.
//
// Example usage:
//
//	table, err := exporter.New(exporter.TableSpec{
//		Name:    "Contacts",
//		Columns: []string{"UUID", "Name", "Created On"},
//	}, exporter.Options{Location: loc, Logger: logger})
//	if err != nil {
//		return err
//	}
//	defer table.Close()
//
//	for _, row := range rows {
//		if err := table.WriteRow(row); err != nil {
//			return err
//		}
//	}
//
//	out, err := table.Finalize()
//	if err != nil {
//		return err
//	}
//	defer out.Close()
package exporter
