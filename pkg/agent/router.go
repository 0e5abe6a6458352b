package agent

import (
	"specter/pkg/agent/types"
	"specter/pkg/module"
)

const DefaultAcceptThreshold = 0.5

// Target is where a routing decision sends an utterance.
type Target string

const (
	TargetModule   Target = "module"
	TargetFallback Target = "fallback"
)

// Decision is the outcome of routing one utterance.
type Decision struct {
	Target     Target
	Module     module.Module
	Match      types.Match
	Candidates []types.Match
	Tied       bool
}

// ModuleID returns the routed module id, or "" for the fallback.
func (d Decision) ModuleID() string {
	if d.Target != TargetModule {
		return ""
	}

	return d.Match.ModuleID
}

// Policy picks a candidate from a ranked list. ok is false when the utterance
// should go to the fallback.
type Policy func(candidates []types.Match, threshold float64) (chosen types.Match, tied bool, ok bool)

// DefaultPolicy accepts the top candidate when it clears the threshold. The
// candidates arrive ranked with ties in registration order, so the first
// entry is already the tie winner.
func DefaultPolicy(candidates []types.Match, threshold float64) (types.Match, bool, bool) {
	if len(candidates) == 0 {
		return types.Match{}, false, false
	}

	top := candidates[0]
	if top.Confidence < threshold {
		return types.Match{}, false, false
	}

	tied := len(candidates) > 1 && candidates[1].Confidence == top.Confidence
	return top, tied, true
}

type candidateFinder interface {
	FindCandidates(utt types.Utterance, snap types.Snapshot) []types.Match
	Get(id string) (module.Module, error)
}

// Router turns an utterance into a Decision. It holds no state of its own.
type Router struct {
	registry  candidateFinder
	threshold float64
	policy    Policy
}

func NewRouter(registry *module.Registry, threshold float64, policy Policy) *Router {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultAcceptThreshold
	}
	if policy == nil {
		policy = DefaultPolicy
	}

	return &Router{registry: registry, threshold: threshold, policy: policy}
}

func (r *Router) Threshold() float64 {
	return r.threshold
}

// Route consults every eligible module and applies the acceptance policy.
func (r *Router) Route(utt types.Utterance, snap types.Snapshot) Decision {
	candidates := r.registry.FindCandidates(utt, snap)
	decision := Decision{Target: TargetFallback, Candidates: candidates}

	chosen, tied, ok := r.policy(candidates, r.threshold)
	if !ok {
		return decision
	}

	m, err := r.registry.Get(chosen.ModuleID)
	if err != nil {
		return decision
	}

	decision.Target = TargetModule
	decision.Module = m
	decision.Match = chosen
	decision.Tied = tied
	return decision
}
