// Package rules turns config-defined CEL expressions into modules with a
// fixed reply.
//
// An expression sees:
//
//	text   string        the lower-cased utterance
//	words  list(string)  its words
//	source string        "typed" or "voice"
//	turns  int           turns already in the conversation window
//
// and must evaluate to a bool, e.g. `text.contains("coffee") && turns < 5`.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"

	"specter/pkg/agent/types"
	"specter/pkg/config"
	"specter/pkg/modules/match"
)

var ErrInvalidRule = errors.New("invalid rule")

type Module struct {
	id         string
	name       string
	reply      string
	confidence float64
	program    cel.Program
	log        *slog.Logger
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("words", cel.ListType(cel.StringType)),
		cel.Variable("source", cel.StringType),
		cel.Variable("turns", cel.IntType),
	)
}

// New compiles one rule. The expression is type-checked here so a bad rule
// fails at startup instead of on first use.
func New(cfg config.RuleConfig) (*Module, error) {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if strings.TrimSpace(cfg.When) == "" {
		return nil, fmt.Errorf("%w %q: when is required", ErrInvalidRule, id)
	}
	if strings.TrimSpace(cfg.Reply) == "" {
		return nil, fmt.Errorf("%w %q: reply is required", ErrInvalidRule, id)
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	checked, issues := env.Compile(cfg.When)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidRule, id, issues.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w %q: expression must return bool, got %s", ErrInvalidRule, id, checked.OutputType())
	}
	program, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidRule, id, err)
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = id
	}
	confidence := cfg.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.8
	}

	return &Module{
		id:         id,
		name:       name,
		reply:      cfg.Reply,
		confidence: confidence,
		program:    program,
		log:        slog.Default().With("component", "modules.rules", "rule", id),
	}, nil
}

// Compile builds every configured rule, stopping at the first invalid one.
func Compile(cfgs []config.RuleConfig) ([]*Module, error) {
	modules := make([]*Module, 0, len(cfgs))
	for _, cfg := range cfgs {
		m, err := New(cfg)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func (m *Module) ID() string          { return m.id }
func (m *Module) DisplayName() string { return m.name }
func (m *Module) Available() bool     { return true }

func (m *Module) Match(utt types.Utterance, snap types.Snapshot) types.Match {
	text := utt.Normalized()
	out, _, err := m.program.Eval(map[string]any{
		"text":   text,
		"words":  match.Tokens(text),
		"source": string(utt.Source),
		"turns":  int64(snap.Len()),
	})
	if err != nil {
		m.log.Debug("rule evaluation failed", "error", err)
		return types.Match{}
	}
	if matched, ok := out.Value().(bool); !ok || !matched {
		return types.Match{}
	}

	return types.Match{ModuleID: m.id, Confidence: m.confidence, Utterance: utt}
}

func (m *Module) Execute(context.Context, types.Match, types.Snapshot) types.Result {
	return types.Succeeded(m.reply)
}
