// Package jobs runs named background jobs from an in-process priority queue.
//
// A single worker drains the queue, gated by the remote error budget. The
// scheduler enqueues each enabled job kind when its interval or cron
// schedule comes due. Every execution is recorded as a JobRun and reported
// through job_started / job_finished events.
package jobs

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownJob is returned for a job name outside the dispatch table.
var ErrUnknownJob = errors.New("unknown job")

// Kind is a closed set of schedulable jobs.
type Kind int

const (
	SyncCharacter Kind = iota
	RefreshTrends
	SnapshotOrders
	RefreshTypeValuations
	RecommenderScan
)

// Kinds returns every kind in dispatch order.
func Kinds() []Kind {
	return []Kind{SyncCharacter, RefreshTrends, SnapshotOrders, RefreshTypeValuations, RecommenderScan}
}

func (k Kind) String() string {
	switch k {
	case SyncCharacter:
		return "sync_character"
	case RefreshTrends:
		return "refresh_trends"
	case SnapshotOrders:
		return "snapshot_orders"
	case RefreshTypeValuations:
		return "refresh_type_valuations"
	case RecommenderScan:
		return "recommender_scan"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a job name. "recommendations" is accepted as a legacy
// alias of recommender_scan.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "sync_character":
		return SyncCharacter, nil
	case "refresh_trends":
		return RefreshTrends, nil
	case "snapshot_orders":
		return SnapshotOrders, nil
	case "refresh_type_valuations":
		return RefreshTypeValuations, nil
	case "recommender_scan", "recommendations":
		return RecommenderScan, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownJob, name)
}

// Result is what a job reports on success.
type Result struct {
	Items   int
	Details map[string]any
}

// Func is a parameterless job body.
type Func func(ctx context.Context) (Result, error)

// Handlers binds one Func to each Kind.
type Handlers struct {
	SyncCharacter         Func
	RefreshTrends         Func
	SnapshotOrders        Func
	RefreshTypeValuations Func
	RecommenderScan       Func
}

// For returns the handler bound to k.
func (h Handlers) For(k Kind) (Func, error) {
	var fn Func
	switch k {
	case SyncCharacter:
		fn = h.SyncCharacter
	case RefreshTrends:
		fn = h.RefreshTrends
	case SnapshotOrders:
		fn = h.SnapshotOrders
	case RefreshTypeValuations:
		fn = h.RefreshTypeValuations
	case RecommenderScan:
		fn = h.RecommenderScan
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, k)
	}
	if fn == nil {
		return nil, fmt.Errorf("no handler bound for %s", k)
	}
	return fn, nil
}
