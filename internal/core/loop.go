package core

import (
	"context"
	"errors"

	"ForgeLedger/internal/command"
)

// Submission is a command waiting for the core loop. Reply, when set,
// receives exactly one Reply.
type Submission struct {
	Ctx     context.Context
	Command command.Command
	Reply   chan<- Reply
}

type Reply struct {
	Result *Result
	Err    error
}

// SnapshotRequest asks the loop for a consistent snapshot.
type SnapshotRequest struct {
	Reply chan<- *SnapshotState
}

// ErrLoopStopped is returned to callers waiting on a loop that has exited.
var ErrLoopStopped = errors.New("core loop stopped")

// RequestSnapshot asks the loop behind reqs for a snapshot and waits for it.
func RequestSnapshot(ctx context.Context, reqs chan<- SnapshotRequest) (*SnapshotState, error) {
	if reqs == nil {
		return nil, ErrLoopStopped
	}
	reply := make(chan *SnapshotState, 1)
	select {
	case reqs <- SnapshotRequest{Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drains submissions one at a time. It is the only goroutine that
// touches the engine once started.
func (e *Engine) Run(ctx context.Context, submissions <-chan Submission, snapshots <-chan SnapshotRequest) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-snapshots:
			req.Reply <- e.CreateSnapshotState()

		case sub, ok := <-submissions:
			if !ok {
				return nil
			}
			cmdCtx := sub.Ctx
			if cmdCtx == nil {
				cmdCtx = ctx
			}

			res, err := e.Process(cmdCtx, sub.Command)
			if err != nil {
				e.logger.Warn().Err(err).
					Str("command", sub.Command.Kind().String()).
					Str("key", sub.Command.IdempotencyKey()).
					Msg("command failed")
			}
			if sub.Reply != nil {
				sub.Reply <- Reply{Result: res, Err: err}
			}
		}
	}
}
