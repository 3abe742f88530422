package channels

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/mingtsay/openclaw/pkg/bus"
	"github.com/mingtsay/openclaw/pkg/logger"
)

// ErrNotRunning is returned when sending through a stopped channel.
var ErrNotRunning = errors.New("channel not running")

type Channel interface {
	Name() string
	AccountID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannelOption func(*BaseChannel)

// WithMaxMessageLength bounds outbound chunks to n runes; 0 disables splitting.
func WithMaxMessageLength(n int) BaseChannelOption {
	return func(c *BaseChannel) { c.maxMessageLength = n }
}

// MessageLengthProvider is checked by Manager.Send before chunking a reply.
type MessageLengthProvider interface {
	MaxMessageLength() int
}

type BaseChannel struct {
	bus              *bus.MessageBus
	running          atomic.Bool
	name             string
	accountID        string
	allowList        []string
	maxMessageLength int
}

func NewBaseChannel(
	name string,
	accountID string,
	bus *bus.MessageBus,
	allowList []string,
	opts ...BaseChannelOption,
) *BaseChannel {
	bc := &BaseChannel{
		bus:       bus,
		name:      name,
		accountID: accountID,
		allowList: allowList,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

func (c *BaseChannel) MaxMessageLength() int {
	return c.maxMessageLength
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) AccountID() string {
	return c.accountID
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	// "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// HandleMessage stamps msg with the channel and account and publishes it to
// the bus. Senders outside the allow list are dropped silently.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg bus.InboundMessage) error {
	if !c.IsAllowed(msg.SenderID) {
		logger.DebugCF(c.name, "Dropping message from sender outside allow list", map[string]any{
			"account_id": c.accountID,
			"sender_id":  msg.SenderID,
		})
		return nil
	}

	msg.Channel = c.name
	msg.AccountID = c.accountID
	if msg.SessionKey == "" {
		msg.SessionKey = BuildSessionKey(c.name, c.accountID, msg.ChatID, msg.ThreadID)
	}

	return c.bus.PublishInbound(ctx, msg)
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}

// BuildSessionKey identifies a conversation: one per chat, or per topic in
// forum chats.
func BuildSessionKey(channel, accountID, chatID, threadID string) string {
	key := channel + ":" + accountID + ":" + chatID
	if threadID != "" {
		key += ":" + threadID
	}
	return key
}
