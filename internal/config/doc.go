// Package config loads the export service configuration.
//
// # Configuration Sources
//
// Configuration is built in layers, later layers winning:
//
//	1. Default values (Default)
//	2. A YAML file: $EXPORT_CONFIG, or config.yaml / configs/config.yaml
//	3. Environment variables
//
// # Environment Variables
//
// Every variable is prefixed with EXPORT and named after its section:
//
//	EXPORT_SERVER_PORT=8080
//	EXPORT_STORAGE_DRIVER=postgres
//	EXPORT_STORAGE_POSTGRES_URL=postgres://...
//	EXPORT_EXPORT_WORKERS=8
//	EXPORT_EXPORT_TIMEZONES=org-1:Africa/Kigali,org-2:UTC
//	EXPORT_ASSETS_PROVIDER=s3
//
// # Validation
//
// Load validates ranges and enumerations (storage driver, assets provider,
// logging output) and returns the first problem found.
//
// # Paths
//
// Relative directories are resolved against a base directory, usually the
// executable's, with ResolvePaths.
package config
