package runtime

import (
	"context"
	"errors"
	"strings"

	"specter/pkg/agent"
	"specter/pkg/agent/types"
	"specter/pkg/bus"
)

// BusSource feeds an orchestrator from the inbound side of a message bus.
type BusSource struct {
	bus   *bus.MessageBus
	route Route
}

func NewBusSource(messageBus *bus.MessageBus, route Route) *BusSource {
	return &BusSource{bus: messageBus, route: route}
}

func (s *BusSource) NextUtterance(ctx context.Context) (types.Utterance, error) {
	inbound, ok := s.bus.ConsumeInbound(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return types.Utterance{}, err
		}
		return types.Utterance{}, agent.ErrSourceClosed
	}

	return utteranceFromInbound(inbound), nil
}

// NotifyBusy answers a rejected utterance on the outbound side so the waiting
// caller is released.
func (s *BusSource) NotifyBusy(ctx context.Context, utt types.Utterance) {
	s.bus.PublishOutbound(ctx, busyOutbound(s.route, utt))
}

// BusSink publishes replies to the outbound side of a message bus.
type BusSink struct {
	bus   *bus.MessageBus
	route Route
}

func NewBusSink(messageBus *bus.MessageBus, route Route) *BusSink {
	return &BusSink{bus: messageBus, route: route}
}

func (s *BusSink) Deliver(ctx context.Context, reply types.Reply) error {
	if !s.bus.PublishOutbound(ctx, OutboundFromReply(s.route, reply)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("message bus closed")
	}

	return nil
}

func utteranceFromInbound(inbound bus.InboundMessage) types.Utterance {
	source := types.Source(strings.TrimSpace(inbound.Meta(bus.MetaSource)))
	utt := types.NewUtterance(inbound.Content, source)
	if id := strings.TrimSpace(inbound.Meta(bus.MetaUtteranceID)); id != "" {
		utt.ID = id
	}

	return utt
}
