// exportctl runs exports locally and inspects export jobs.
//
// Usage:
//
//	# Export a CSV file to a workbook
//	exportctl run --kind contacts --file contacts.csv --out exports/
//
//	# List the jobs recorded by exportd
//	exportctl jobs list --org org-1 --status failed
//
//	# Show version information
//	exportctl version
package main

func main() {
	Execute()
}
