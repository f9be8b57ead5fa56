/*
Package httpserver serves the blob storage libraries over HTTP.

The server exposes a read-only viewer over the registered libraries, the
intake endpoint that hands ingestion requests to an ingest.Coordinator, and
the intake status listing. Routes are documented in package api.

# Lifecycle

  - /livez always reports alive
  - /readyz reports ready until /drain is called; /undrain reverts it
  - Shutdown stops the HTTP listener first, then waits up to the graceful
    shutdown duration for running ingestions, then stops the metrics server

Prometheus metrics are served on a separate address by metrics.MetricsServer.
With EnablePprof the pprof handlers are mounted under /debug.

# Errors

Handlers report failures as plain text with a status derived from the error:
interfaces.ErrInvalidArgument maps to 400, interfaces.ErrLibraryNotFound to
404 and anything else to 500. Intake reports unknown libraries as 400, since
the library id is part of the request body.
*/
package httpserver
