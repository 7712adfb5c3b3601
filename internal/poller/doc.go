// Package poller implements the refresh tick.
//
// One tick selects the tracked entities whose next refresh is due, fetches
// their regional orders through a bounded worker pool sized by the adaptive
// concurrency controller, stores a venue snapshot per entity and reports
// start, progress and finish events for the run. The tick is synchronous
// and is normally executed as the snapshot_orders job.
package poller
