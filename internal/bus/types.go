// Package bus holds the message types exchanged between chat channels
// and the supervisor runtime.
package bus

// Inbound is a message received from a channel (Telegram today).
type Inbound struct {
	Channel   string            `json:"channel"`
	ChatID    string            `json:"chat_id"`
	UserID    string            `json:"user_id"`
	MessageID string            `json:"message_id,omitempty"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Button is one inline keyboard button attached to an outbound message.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Outbound is a message to be delivered back to a channel. Buttons are
// rows of inline buttons; channels without inline keyboards flatten
// them into text.
type Outbound struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Text     string            `json:"text"`
	Markdown bool              `json:"markdown,omitempty"`
	Buttons  [][]Button        `json:"buttons,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// InboundHandler consumes one inbound message.
type InboundHandler func(Inbound) error

// Sender delivers outbound messages to one channel.
type Sender interface {
	Send(Outbound) error
}
