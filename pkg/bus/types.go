package bus

// Peer identifies the routing peer for a message (direct, group, channel, etc.)
type Peer struct {
	Kind string `json:"kind"` // "direct" | "group" | "channel" | ""
	ID   string `json:"id"`
}

type InboundMessage struct {
	Channel    string            `json:"channel"`
	AccountID  string            `json:"account_id"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Peer       Peer              `json:"peer"`                   // routing peer
	MessageID  string            `json:"message_id,omitempty"`   // platform message ID
	ReplyToID  string            `json:"reply_to_id,omitempty"`  // message being replied to
	ThreadID   string            `json:"thread_id,omitempty"`    // forum topic
	Injected   bool              `json:"injected,omitempty"`     // delivered through the external bridge
	History    []HistoryEntry    `json:"history,omitempty"`      // unanswered group context
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// HistoryEntry is a group message the bot saw but did not answer.
type HistoryEntry struct {
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"message_id,omitempty"`
}

type OutboundMessage struct {
	Channel   string `json:"channel"`
	AccountID string `json:"account_id"`
	ChatID    string `json:"chat_id"`
	Content   string `json:"content"`
	ReplyToID string `json:"reply_to_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}
