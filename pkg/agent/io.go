package agent

import (
	"context"
	"errors"
	"io"

	"specter/pkg/agent/types"
)

var (
	// ErrBusy is reported to an input source when an utterance arrives while
	// the dispatch queue is full.
	ErrBusy = errors.New("agent is busy")
	// ErrSourceClosed ends a session the same way io.EOF does.
	ErrSourceClosed   = errors.New("input source closed")
	ErrAlreadyRunning = errors.New("orchestrator is already running")
	ErrNotRunning     = errors.New("orchestrator is not running")
	ErrCancelled      = errors.New("request cancelled")
	ErrExecutorPanic  = errors.New("executor panicked")
)

// InputSource produces utterances. NextUtterance blocks until input arrives,
// ctx is done, or the source ends with io.EOF or ErrSourceClosed.
type InputSource interface {
	NextUtterance(ctx context.Context) (types.Utterance, error)
	// NotifyBusy tells the user their utterance was not accepted.
	NotifyBusy(ctx context.Context, utt types.Utterance)
}

// OutputSink receives exactly one reply per accepted utterance.
type OutputSink interface {
	Deliver(ctx context.Context, reply types.Reply) error
}

// SinkFunc adapts a function to OutputSink.
type SinkFunc func(ctx context.Context, reply types.Reply) error

func (f SinkFunc) Deliver(ctx context.Context, reply types.Reply) error {
	return f(ctx, reply)
}

func isEndOfInput(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, ErrSourceClosed)
}
