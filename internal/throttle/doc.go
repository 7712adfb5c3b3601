// Package throttle couples local work admission to the remote error budget.
//
// ErrorBudget is the single shared cell written by the ESI client after every
// response. Controller reads it to size the tick worker pool; Limiter reads it
// to gate and pace the job queue worker.
package throttle
