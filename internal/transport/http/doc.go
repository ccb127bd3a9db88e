// Package http implements the HTTP API of the export service.
//
// Handlers are thin: they decode and validate requests, call the export
// service and render its results. Errors are turned into RFC 7807 problem
// responses by the shared error handler.
//
// # Endpoints
//
//	POST /api/exports                request an export (201, or 200 when an
//	                                 unfinished export was reused)
//	GET  /api/exports                list exports of an organization
//	GET  /api/exports/kinds          list the kinds that can be requested
//	GET  /api/exports/{id}           export status
//	GET  /api/exports/{id}/download  redirect to or stream the finished file
//	GET  /api/health                 liveness with queue and runtime stats
//	GET  /api/health/ready           readiness of the job store
package http
