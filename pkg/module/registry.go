package module

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"specter/pkg/agent/types"
)

var (
	ErrDuplicateModuleID = errors.New("duplicate module id")
	ErrModuleNotFound    = errors.New("module not found")
	ErrInvalidModule     = errors.New("invalid module")
)

// SessionID tags turns answered by the orchestrator's built-in commands. No
// module may register under it.
const SessionID = "session"

// Descriptor is a point-in-time view of one registered module.
type Descriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Order       int    `json:"order"`
	Enabled     bool   `json:"enabled"`
	Available   bool   `json:"available"`
}

type entry struct {
	module  Module
	order   int
	enabled bool
}

// Registry holds registered modules in registration order.
//
// Reads (FindCandidates, Get) are safe from any goroutine. Writes are
// expected at startup or through the orchestrator's serialized Do.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	index   map[string]*entry
	log     *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		index: make(map[string]*entry),
		log:   log.With("component", "module.registry"),
	}
}

// Register adds m after every previously registered module. A duplicate id
// fails with ErrDuplicateModuleID and leaves the registry untouched.
// SessionID is rejected with ErrInvalidModule.
func (r *Registry) Register(m Module) error {
	if m == nil {
		return fmt.Errorf("%w: module is nil", ErrInvalidModule)
	}

	id := strings.TrimSpace(m.ID())
	if id == "" {
		return fmt.Errorf("%w: module id is empty", ErrInvalidModule)
	}
	if strings.EqualFold(id, SessionID) {
		return fmt.Errorf("%w: module id %q is reserved", ErrInvalidModule, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModuleID, id)
	}

	e := &entry{module: m, order: len(r.entries), enabled: true}
	r.entries = append(r.entries, e)
	r.index[id] = e

	r.log.Debug("Module registered", "module_id", id, "order", e.order)
	return nil
}

// Get returns the module registered under id.
func (r *Registry) Get(id string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.index[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	return e.module, nil
}

// SetEnabled toggles whether a module takes part in candidate matching.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.index[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	e.enabled = enabled
	return nil
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Modules returns registered modules in registration order.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Module, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.module)
	}

	return out
}

// Descriptors reports id, order, enablement and availability per module.
func (r *Registry) Descriptors() []Descriptor {
	entries := r.snapshotEntries()

	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, Descriptor{
			ID:          e.module.ID(),
			DisplayName: e.module.DisplayName(),
			Order:       e.order,
			Enabled:     e.enabled,
			Available:   e.module.Available(),
		})
	}

	return out
}

// FindCandidates probes every enabled, available module and returns the
// matches with positive confidence, highest first. Equal confidences keep
// registration order, so the first-registered module wins a tie.
func (r *Registry) FindCandidates(utt types.Utterance, snap types.Snapshot) []types.Match {
	entries := r.snapshotEntries()

	type ranked struct {
		match types.Match
		order int
	}

	found := make([]ranked, 0, len(entries))
	for _, e := range entries {
		if !e.enabled || !e.module.Available() {
			continue
		}

		match, ok := r.probe(e.module, utt, snap)
		if !ok {
			continue
		}
		found = append(found, ranked{match: match, order: e.order})
	}

	sort.SliceStable(found, func(i int, j int) bool {
		if found[i].match.Confidence != found[j].match.Confidence {
			return found[i].match.Confidence > found[j].match.Confidence
		}
		return found[i].order < found[j].order
	})

	out := make([]types.Match, 0, len(found))
	for _, item := range found {
		out = append(out, item.match)
	}

	return out
}

// probe runs one matcher, normalizing its confidence. A panicking matcher is
// treated as not matching.
func (r *Registry) probe(m Module, utt types.Utterance, snap types.Snapshot) (match types.Match, ok bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.log.Error("Module matcher panicked", "module_id", m.ID(), "panic", fmt.Sprint(recovered))
			match, ok = types.Match{}, false
		}
	}()

	match = m.Match(utt, snap)
	confidence := match.Confidence
	if math.IsNaN(confidence) || confidence <= 0 {
		return types.Match{}, false
	}
	if confidence > 1 {
		confidence = 1
	}

	match.Confidence = confidence
	match.ModuleID = m.ID()
	match.Utterance = utt
	return match, true
}

func (r *Registry) snapshotEntries() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}

	return out
}
