package agent

import (
	"context"
	"fmt"
	"strings"

	"specter/pkg/agent/types"
	"specter/pkg/bus"
	"specter/pkg/module"
)

// SessionModuleID marks turns answered by a built-in session command.
const SessionModuleID = module.SessionID

type command struct {
	run    func(o *Orchestrator, ctx context.Context, utt types.Utterance, snap types.Snapshot) types.Result
	record bool
}

var commands = map[string]command{
	"help":              {run: (*Orchestrator).helpCommand, record: true},
	"commands":          {run: (*Orchestrator).helpCommand, record: true},
	"status":            {run: (*Orchestrator).statusCommand, record: true},
	"module status":     {run: (*Orchestrator).statusCommand, record: true},
	"reset":             {run: (*Orchestrator).resetCommand},
	"start over":        {run: (*Orchestrator).resetCommand},
	"new conversation":  {run: (*Orchestrator).resetCommand},
	"forget everything": {run: (*Orchestrator).resetCommand},
}

func lookupCommand(utt types.Utterance) (command, bool) {
	text := strings.Trim(utt.Normalized(), " .!?")
	cmd, ok := commands[text]
	return cmd, ok
}

func (o *Orchestrator) helpCommand(_ context.Context, _ types.Utterance, _ types.Snapshot) types.Result {
	var b strings.Builder
	b.WriteString("Here is what I can help with:\n")

	for _, m := range o.registry.Modules() {
		helper, ok := m.(module.Helper)
		if !ok || !m.Available() {
			continue
		}
		for _, line := range helper.Help() {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	b.WriteString("- status: show which modules are available\n")
	b.WriteString("- new conversation: forget this conversation")
	return types.Succeeded(b.String())
}

func (o *Orchestrator) statusCommand(_ context.Context, _ types.Utterance, _ types.Snapshot) types.Result {
	descriptors := o.registry.Descriptors()
	if len(descriptors) == 0 {
		return types.Succeeded("No modules are registered.")
	}

	var b strings.Builder
	data := make(map[string]string, len(descriptors))
	for i, d := range descriptors {
		state := "ready"
		switch {
		case !d.Enabled:
			state = "disabled"
		case !d.Available:
			state = "unavailable"
		}
		data[d.ID] = state

		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", d.DisplayName, state)
	}

	return types.Result{Status: types.StatusSuccess, Payload: b.String(), Data: data}
}

func (o *Orchestrator) resetCommand(ctx context.Context, utt types.Utterance, _ types.Snapshot) types.Result {
	dropped := o.memory.Len()
	o.memory.Clear()

	o.log.Info("Conversation cleared", "dropped_turns", dropped)
	o.publish(ctx, bus.EventSessionReset, utt, map[string]string{"dropped_turns": fmt.Sprint(dropped)}, nil)
	return types.Succeeded("Okay, let's start a new conversation.")
}
