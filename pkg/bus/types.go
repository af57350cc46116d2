package bus

// InboundMessage is what the WhatsApp channel hands to the agent pipeline
// after webhook normalization. Metadata carries the canonical message fields
// that have no column of their own (message type, group flag, author, ...).
type InboundMessage struct {
	Channel       string            `json:"channel"`
	SenderID      string            `json:"sender_id"`
	ChatID        string            `json:"chat_id"`
	Content       string            `json:"content"`
	Media         []string          `json:"media,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// Poll describes an outbound poll message.
type Poll struct {
	Name            string   `json:"name"`
	Choices         []string `json:"choices"`
	SelectableCount int      `json:"selectable_count,omitempty"`
}

// OutboundMessage is produced by the agent pipeline for delivery through the
// gateway. Exactly one of Content, Media, Poll or VoiceBase64 drives the
// gateway operation used; Content doubles as caption when Media is set.
type OutboundMessage struct {
	Channel     string   `json:"channel"`
	ChatID      string   `json:"chat_id"`
	Content     string   `json:"content"`
	Media       []string `json:"media,omitempty"` // local file paths
	ReplyTo     string   `json:"reply_to,omitempty"`
	IsGroup     bool     `json:"is_group,omitempty"`
	Poll        *Poll    `json:"poll,omitempty"`
	VoiceBase64 string   `json:"voice_base64,omitempty"`
}

type MessageHandler func(InboundMessage) error
