package jobs

import (
	"context"

	"github.com/rickgao/eve-market/internal/events"
)

type runKey struct{}

func withRun(ctx context.Context, run *events.Run) context.Context {
	return context.WithValue(ctx, runKey{}, run)
}

// RunFrom returns the reporter of the job executing in ctx.
// Outside a job it returns a reporter that discards everything.
func RunFrom(ctx context.Context) *events.Run {
	if run, ok := ctx.Value(runKey{}).(*events.Run); ok {
		return run
	}
	return events.NewRun(events.Discard, "", "", 0)
}

// RunID returns the run id of the job executing in ctx, or "".
func RunID(ctx context.Context) string {
	return RunFrom(ctx).ID()
}
