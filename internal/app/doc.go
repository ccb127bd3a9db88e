// Package app wires the export service together and manages its lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration from defaults, the YAML file and EXPORT_* variables
//  2. Initialize logging and OpenTelemetry
//  3. Open the job store (memory, SQLite or Postgres) and the asset store
//     (filesystem or S3)
//  4. Register a producer per configured export kind
//  5. Build the runner, queue, service, websocket hub and retention
//     scheduler
//  6. Set up the HTTP router and server
//
// # Usage
//
//	a, err := app.NewApplication("")
//	if err != nil {
//	    return err
//	}
//	return a.RunUntilSignal()
//
// # Graceful Shutdown
//
// Run returns once its context is done. The HTTP server drains first, then
// the queue waits for running exports up to Export.StopTimeout. Jobs still
// queued stay Pending and are picked up again on the next start.
//
// The package never calls os.Exit; errors are returned to main.
package app
