package bus

// Metadata keys shared by inbound and outbound messages.
const (
	MetaSource      = "source"
	MetaUtteranceID = "utterance_id"
	MetaTurnID      = "turn_id"
	MetaModuleID    = "module_id"
	MetaStatus      = "status"
	MetaBusy        = "busy"
)

type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Meta returns a metadata value or "".
func (m InboundMessage) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}

	return m.Metadata[key]
}

type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key,omitempty"`
	Content    string            `json:"content"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Meta returns a metadata value or "".
func (m OutboundMessage) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}

	return m.Metadata[key]
}
