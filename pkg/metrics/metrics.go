// Package metrics provides the centralized Prometheus metrics registry for
// the dispatcher. All metrics are defined in their respective packages
// (api, pipeline, scheduler) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the dispatcher.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Service Client Metrics (pkg/api):
//   - dispatch_api_requests_total{service, endpoint, status} (Counter): Downstream requests by service, endpoint and HTTP status
//   - dispatch_api_request_duration_seconds{service, endpoint} (Histogram): Request duration by service and endpoint
//   - dispatch_api_errors_total{service, class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/api):
//   - dispatch_api_retries_total{service, error_class} (Counter): Retry attempts by service and error class
//   - dispatch_api_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - dispatch_api_retry_exhausted_total{service, error_class} (Counter): Requests that exhausted max retries
//
// Pipeline Metrics (pkg/pipeline):
//   - dispatch_runs_total{result} (Counter): Pipeline runs by result (ok, empty, error)
//   - dispatch_run_duration_seconds (Histogram): Pipeline run duration
//   - dispatch_rows_parsed_total (Counter): Export rows successfully normalized
//   - dispatch_rows_skipped_total (Counter): Export rows skipped as malformed
//   - dispatch_location_lookups_total{result} (Counter): Location batch lookups by result
//   - dispatch_location_unresolved_total (Counter): Records left without a location
//   - dispatch_admission_queue_depth{warehouse} (Gauge): Unassigned queue depth at run start
//   - dispatch_admission_rejected_total{warehouse} (Counter): Runs with no remaining capacity
//   - dispatch_requests_created_total{warehouse} (Counter): Runner requests accepted downstream
//   - dispatch_requests_duplicate_total{warehouse} (Counter): Creations answered as already existing
//   - dispatch_requests_failed_total{warehouse} (Counter): Creations that errored and were skipped
//   - dispatch_stock_skipped_total{reason} (Counter): Records skipped by inventory verification
//
// Scheduler Metrics (pkg/scheduler):
//   - dispatch_scheduler_ticks_total{outcome} (Counter): Scheduler ticks by outcome (ok, error, skipped_inflight, skipped_locked, lock_error)
//
// Example Prometheus Queries:
//
//   # Run Error Rate
//   rate(dispatch_runs_total{result="error"}[1h])
//
//   # Admission Pressure
//   dispatch_admission_queue_depth > 250
//
//   # Creation Failure Rate
//   rate(dispatch_requests_failed_total[1h]) / rate(dispatch_requests_created_total[1h])
//
//   # P95 Downstream Latency
//   histogram_quantile(0.95, rate(dispatch_api_request_duration_seconds_bucket[5m]))
//
//   # Unresolved Location Rate
//   rate(dispatch_location_unresolved_total[1h])
