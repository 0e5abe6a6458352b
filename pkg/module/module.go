// Package module defines the capability contract implemented by every
// pluggable skill and the registry the router consults for candidates.
package module

import (
	"context"

	"specter/pkg/agent/types"
)

// Module is one pluggable capability.
//
// Match must be a cheap, side-effect-free probe: no network or disk I/O.
// Execute may do real work and must return promptly once ctx is done.
type Module interface {
	ID() string
	DisplayName() string
	Match(utt types.Utterance, snap types.Snapshot) types.Match
	Execute(ctx context.Context, match types.Match, snap types.Snapshot) types.Result
	Available() bool
}

// Helper is implemented by modules that can describe their commands.
type Helper interface {
	Help() []string
}

// Closer is implemented by modules holding resources (processes, databases).
type Closer interface {
	Close() error
}

// Fallback is the conversational path used when no module claims an
// utterance. It has the same result shape as a module executor.
type Fallback interface {
	Complete(ctx context.Context, snap types.Snapshot, utt types.Utterance) types.Result
}

// FallbackFunc adapts a function to Fallback.
type FallbackFunc func(ctx context.Context, snap types.Snapshot, utt types.Utterance) types.Result

func (f FallbackFunc) Complete(ctx context.Context, snap types.Snapshot, utt types.Utterance) types.Result {
	return f(ctx, snap, utt)
}
