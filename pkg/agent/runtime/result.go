package runtime

import (
	"strconv"
	"strings"

	"specter/pkg/agent"
	"specter/pkg/agent/types"
	"specter/pkg/bus"
)

// dataKeyPrefix namespaces reply data inside outbound metadata.
const dataKeyPrefix = "data."

const busyText = "I'm still working on your last request. Please wait a moment."

// Route addresses one conversation on a transport.
type Route struct {
	Channel    string
	ChatID     string
	SessionKey string
}

// OutboundFromReply serializes a reply into an outbound bus message.
func OutboundFromReply(route Route, reply types.Reply) bus.OutboundMessage {
	metadata := map[string]string{
		bus.MetaUtteranceID: reply.UtteranceID,
		bus.MetaTurnID:      strconv.FormatUint(reply.TurnID, 10),
		bus.MetaModuleID:    reply.ModuleID,
		bus.MetaStatus:      string(reply.Status),
	}
	for key, value := range reply.Data {
		metadata[dataKeyPrefix+key] = value
	}

	outbound := bus.OutboundMessage{
		Channel:    route.Channel,
		ChatID:     route.ChatID,
		SessionKey: route.SessionKey,
		Content:    reply.Text,
		Metadata:   metadata,
	}
	if reply.Status != types.StatusSuccess && reply.Status != "" {
		outbound.Error = string(reply.Status)
	}

	return outbound
}

// ReplyFromOutbound reconstructs a reply from bus metadata.
func ReplyFromOutbound(outbound bus.OutboundMessage) types.Reply {
	reply := types.Reply{
		UtteranceID: outbound.Meta(bus.MetaUtteranceID),
		Text:        outbound.Content,
		ModuleID:    outbound.Meta(bus.MetaModuleID),
		Status:      types.Status(outbound.Meta(bus.MetaStatus)),
	}
	if turnID, err := strconv.ParseUint(strings.TrimSpace(outbound.Meta(bus.MetaTurnID)), 10, 64); err == nil {
		reply.TurnID = turnID
	}

	for key, value := range outbound.Metadata {
		name, ok := strings.CutPrefix(key, dataKeyPrefix)
		if !ok {
			continue
		}
		if reply.Data == nil {
			reply.Data = map[string]string{}
		}
		reply.Data[name] = value
	}

	return reply
}

func busyOutbound(route Route, utt types.Utterance) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:    route.Channel,
		ChatID:     route.ChatID,
		SessionKey: route.SessionKey,
		Content:    busyText,
		Error:      agent.ErrBusy.Error(),
		Metadata: map[string]string{
			bus.MetaUtteranceID: utt.ID,
			bus.MetaBusy:        "true",
		},
	}
}

// IsBusy reports whether an outbound message is a busy rejection.
func IsBusy(outbound bus.OutboundMessage) bool {
	return outbound.Meta(bus.MetaBusy) == "true"
}
