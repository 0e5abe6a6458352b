package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"specter/pkg/agent/types"
	"specter/pkg/config"
)

func TestRuleMatchesExpression(t *testing.T) {
	m, err := New(config.RuleConfig{
		ID:         "coffee",
		When:       `text.contains("coffee") && "break" in words`,
		Confidence: 0.7,
		Reply:      "Enjoy your coffee break.",
	})
	require.NoError(t, err)
	require.Equal(t, "coffee", m.DisplayName())

	mt := m.Match(types.NewUtterance("Time for a coffee break", types.SourceTyped), types.Snapshot{})
	require.Equal(t, "coffee", mt.ModuleID)
	require.Equal(t, 0.7, mt.Confidence)

	result := m.Execute(context.Background(), mt, types.Snapshot{})
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "Enjoy your coffee break.", result.Payload)

	require.Zero(t, m.Match(types.NewUtterance("coffee please", types.SourceTyped), types.Snapshot{}).Confidence)
}

func TestRuleSeesSourceAndTurns(t *testing.T) {
	m, err := New(config.RuleConfig{ID: "greet", When: `source == "voice" && turns == 0 && text == "hello"`, Reply: "Hi there."})
	require.NoError(t, err)
	require.Equal(t, 0.8, m.confidence)

	require.NotZero(t, m.Match(types.NewUtterance("Hello", types.SourceVoice), types.Snapshot{}).Confidence)
	require.Zero(t, m.Match(types.NewUtterance("Hello", types.SourceTyped), types.Snapshot{}).Confidence)
	require.Zero(t, m.Match(types.NewUtterance("Hello", types.SourceVoice), types.Snapshot{Turns: []types.Turn{{ID: 1}}}).Confidence)
}

func TestInvalidRules(t *testing.T) {
	tests := []config.RuleConfig{
		{When: `true`, Reply: "x"},
		{ID: "a", Reply: "x"},
		{ID: "a", When: `true`},
		{ID: "a", When: `text.contains(`, Reply: "x"},
		{ID: "a", When: `text + "x"`, Reply: "x"},
		{ID: "a", When: `unknown_var == 1`, Reply: "x"},
	}

	for _, cfg := range tests {
		_, err := New(cfg)
		require.True(t, errors.Is(err, ErrInvalidRule), "%+v: %v", cfg, err)
	}
}

func TestCompileStopsAtFirstError(t *testing.T) {
	modules, err := Compile([]config.RuleConfig{
		{ID: "ok", When: `true`, Reply: "x"},
		{ID: "bad", When: `1`, Reply: "x"},
	})
	require.ErrorIs(t, err, ErrInvalidRule)
	require.Nil(t, modules)

	modules, err = Compile([]config.RuleConfig{{ID: "ok", When: `true`, Reply: "x"}})
	require.NoError(t, err)
	require.Len(t, modules, 1)
}
