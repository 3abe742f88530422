package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mingtsay/openclaw/pkg/bus"
	"github.com/mingtsay/openclaw/pkg/config"
	"github.com/mingtsay/openclaw/pkg/logger"
	"github.com/mingtsay/openclaw/pkg/providers"
)

const defaultSystemPrompt = "You are a helpful assistant taking part in a chat. Keep replies short and conversational."

// AgentLoop turns inbound messages into provider calls and publishes the
// replies. Conversations are kept per session key and trimmed to MaxHistory
// messages.
type AgentLoop struct {
	bus          *bus.MessageBus
	provider     providers.LLMProvider
	model        string
	maxTokens    int
	temperature  *float64
	systemPrompt string
	maxHistory   int

	mu       sync.Mutex
	sessions map[string][]providers.Message

	running atomic.Bool
	stop    chan struct{}
	once    sync.Once
}

func NewAgentLoop(cfg *config.Config, msgBus *bus.MessageBus, provider providers.LLMProvider, model string) *AgentLoop {
	d := cfg.Agents.Defaults
	prompt := d.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	maxHistory := d.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 40
	}
	return &AgentLoop{
		bus:          msgBus,
		provider:     provider,
		model:        model,
		maxTokens:    d.MaxTokens,
		temperature:  d.Temperature,
		systemPrompt: prompt,
		maxHistory:   maxHistory,
		sessions:     make(map[string][]providers.Message),
		stop:         make(chan struct{}),
	}
}

// Run consumes the inbound queue until ctx is done, Stop is called or the
// bus closes.
func (a *AgentLoop) Run(ctx context.Context) {
	a.running.Store(true)
	defer a.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		msg, ok := a.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		reply, err := a.ProcessMessage(ctx, msg)
		if err != nil {
			logger.ErrorCF("agent", "Failed to process message", map[string]any{
				"session_key": msg.SessionKey,
				"injected":    msg.Injected,
				"error":       err.Error(),
			})
			continue
		}
		if reply == "" {
			continue
		}

		out := bus.OutboundMessage{
			Channel:   msg.Channel,
			AccountID: msg.AccountID,
			ChatID:    msg.ChatID,
			Content:   reply,
			ThreadID:  msg.ThreadID,
		}
		if msg.Peer.Kind == "group" {
			out.ReplyToID = msg.MessageID
		}
		if err := a.bus.PublishOutbound(ctx, out); err != nil {
			logger.WarnCF("agent", "Failed to publish reply", map[string]any{
				"session_key": msg.SessionKey,
				"error":       err.Error(),
			})
		}
	}
}

func (a *AgentLoop) Stop() {
	a.once.Do(func() { close(a.stop) })
}

func (a *AgentLoop) IsRunning() bool {
	return a.running.Load()
}

// ProcessMessage asks the provider for a reply to msg within its session and
// records the exchange.
func (a *AgentLoop) ProcessMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	key := msg.SessionKey
	if key == "" {
		key = msg.Channel + ":" + msg.AccountID + ":" + msg.ChatID
	}
	turn := providers.Message{Role: "user", Content: formatTurn(msg)}

	a.mu.Lock()
	history := append([]providers.Message(nil), a.sessions[key]...)
	a.mu.Unlock()

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: a.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, turn)

	opts := map[string]any{}
	if a.maxTokens > 0 {
		opts["max_tokens"] = a.maxTokens
	}
	if a.temperature != nil {
		opts["temperature"] = *a.temperature
	}

	logger.DebugCF("agent", "Calling provider", map[string]any{
		"session_key": key,
		"history":     len(history),
		"injected":    msg.Injected,
	})

	resp, err := a.provider.Chat(ctx, messages, a.model, opts)
	if err != nil {
		return "", fmt.Errorf("provider chat: %w", err)
	}
	reply := strings.TrimSpace(resp.Content)

	a.mu.Lock()
	session := append(a.sessions[key], turn)
	if reply != "" {
		session = append(session, providers.Message{Role: "assistant", Content: reply})
	}
	if len(session) > a.maxHistory {
		session = append([]providers.Message(nil), session[len(session)-a.maxHistory:]...)
	}
	a.sessions[key] = session
	a.mu.Unlock()

	return reply, nil
}

// SessionHistory returns a copy of the recorded conversation for key.
func (a *AgentLoop) SessionHistory(key string) []providers.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]providers.Message(nil), a.sessions[key]...)
}

// formatTurn renders the user turn. Group messages are attributed to their
// sender and carry the unanswered messages that preceded them.
func formatTurn(msg bus.InboundMessage) string {
	if msg.Peer.Kind != "group" {
		return msg.Content
	}

	var sb strings.Builder
	if len(msg.History) > 0 {
		sb.WriteString("[Chat messages since your last reply - for context]\n")
		for _, h := range msg.History {
			fmt.Fprintf(&sb, "%s: %s\n", h.Sender, h.Body)
		}
		sb.WriteString("\n[Current message - respond to this]\n")
	}
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	fmt.Fprintf(&sb, "%s: %s", sender, msg.Content)
	return sb.String()
}
