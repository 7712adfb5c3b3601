// Package metrics exposes Prometheus metrics derived from the event stream.
//
// Key metrics:
//   - Job executions and durations by job name
//   - Queue depth by priority class
//   - Tick entity outcomes and pool size
//   - Remote error budget remaining and reset
//   - Event bus drops and live subscribers
package metrics
