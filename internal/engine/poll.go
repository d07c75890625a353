package engine

import (
	"context"
	"time"

	"github.com/starford/raido/internal/remote"
)

// Clock abstracts time for the polling loop so tests run deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Polling states. The loop is an explicit state machine:
// pending -> polling -> {complete, error, timedOut}.
type pollState int

const (
	statePending pollState = iota
	statePolling
	stateComplete
	stateError
	stateTimedOut
)

// pollOutcome is the terminal result of waiting on one remote operation.
type pollOutcome struct {
	state  pollState
	status *remote.StatusResponse
	err    error
}

// poll waits for the remote operation to reach a terminal state, checking at
// a fixed interval and giving up after the chunk timeout. Status fetch
// failures are terminal for the chunk: the remote client already absorbed
// retryable rate limits.
func (e *Executor) poll(ctx context.Context, opID string) pollOutcome {
	deadline := e.clock.Now().Add(e.chunkTimeout)
	state := statePending

	var last *remote.StatusResponse
	for {
		switch state {
		case statePending:
			state = statePolling

		case statePolling:
			st, err := e.client.OperationStatus(ctx, opID)
			if err != nil {
				return pollOutcome{state: stateError, err: err}
			}
			last = st
			switch {
			case st.Status == remote.StatusComplete:
				state = stateComplete
			case st.Status == remote.StatusError:
				state = stateError
			case !e.clock.Now().Before(deadline):
				state = stateTimedOut
			default:
				if err := e.clock.Sleep(ctx, e.pollInterval); err != nil {
					return pollOutcome{state: stateTimedOut, status: last, err: err}
				}
			}

		case stateComplete, stateError, stateTimedOut:
			return pollOutcome{state: state, status: last}
		}
	}
}
