package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mymmrac/telego"

	"github.com/mingtsay/openclaw/pkg/bus"
	"github.com/mingtsay/openclaw/pkg/config"
	"github.com/mingtsay/openclaw/pkg/logger"
)

const (
	telegramName          = "telegram"
	telegramMaxMessageLen = 4096
	pollTimeoutSeconds    = 30
)

// TelegramAPI is the part of *telego.Bot the channel uses.
type TelegramAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
}

// TelegramChannel runs one bot account. Every update, polled or injected,
// goes through DispatchUpdate.
type TelegramChannel struct {
	*BaseChannel
	api            TelegramAPI
	requireMention bool
	historyLimit   atomic.Int64
	me             atomic.Pointer[telego.User]

	mu      sync.Mutex
	history map[int64][]bus.HistoryEntry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTelegramChannel creates the bot client for an account. proxy, when
// set, is used for every Bot API request.
func NewTelegramChannel(
	accountID string,
	acc config.TelegramAccountConfig,
	proxy string,
	historyLimit int,
	msgBus *bus.MessageBus,
) (*TelegramChannel, error) {
	opts := []telego.BotOption{
		telego.WithLogger(telegoLogger{accountID: accountID, token: acc.Token}),
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram proxy %q: %w", proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(acc.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot for account %s: %w", accountID, err)
	}
	return newTelegramChannel(accountID, acc, bot, historyLimit, msgBus), nil
}

func newTelegramChannel(
	accountID string,
	acc config.TelegramAccountConfig,
	api TelegramAPI,
	historyLimit int,
	msgBus *bus.MessageBus,
) *TelegramChannel {
	c := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramName, accountID, msgBus, acc.AllowFrom,
			WithMaxMessageLength(telegramMaxMessageLen)),
		api:            api,
		requireMention: acc.RequireMention != nil && *acc.RequireMention,
		history:        make(map[int64][]bus.HistoryEntry),
	}
	c.SetHistoryLimit(historyLimit)
	return c
}

// SetHistoryLimit bounds the per-chat buffer of unanswered group messages.
func (c *TelegramChannel) SetHistoryLimit(n int) {
	if n <= 0 {
		n = config.DefaultGroupHistoryLimit
	}
	c.historyLimit.Store(int64(n))
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	me, err := c.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	c.me.Store(me)

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := c.api.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        pollTimeoutSeconds,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	c.SetRunning(true)

	logger.InfoCF(telegramName, "Telegram bot connected", map[string]any{
		"account_id": c.AccountID(),
		"username":   me.Username,
	})

	go func() {
		defer close(c.done)
		for update := range updates {
			if err := c.DispatchUpdate(pollCtx, update); err != nil {
				logger.ErrorCF(telegramName, "Failed to process update", map[string]any{
					"account_id": c.AccountID(),
					"update_id":  update.UpdateID,
					"error":      err.Error(),
				})
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	logger.InfoCF(telegramName, "Telegram bot stopped", map[string]any{"account_id": c.AccountID()})
	return nil
}

// DispatchUpdate processes one update the way the platform would deliver it.
// Updates with a negative id come from the external bridge.
func (c *TelegramChannel) DispatchUpdate(ctx context.Context, update telego.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	me := c.me.Load()
	if me != nil && msg.From.ID == me.ID {
		return nil
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.Username != "" {
		senderID += "|" + msg.From.Username
	}
	if !c.IsAllowed(senderID) {
		logger.DebugCF(telegramName, "Ignoring update from sender outside allow list", map[string]any{
			"account_id": c.AccountID(),
			"sender_id":  senderID,
		})
		return nil
	}

	injected := update.UpdateID < 0
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	messageID := strconv.Itoa(msg.MessageID)
	isGroup := msg.Chat.Type != telego.ChatTypePrivate

	if isGroup && c.requireMention && !c.addressesBot(msg) {
		c.recordHistory(msg.Chat.ID, bus.HistoryEntry{
			Sender:    displayName(msg.From),
			Body:      content,
			Timestamp: msg.Date,
			MessageID: messageID,
		})
		return nil
	}

	inbound := bus.InboundMessage{
		SenderID:   senderID,
		SenderName: displayName(msg.From),
		ChatID:     chatID,
		Content:    content,
		MessageID:  messageID,
		Injected:   injected,
		Metadata: map[string]string{
			"chat_type": msg.Chat.Type,
			"update_id": strconv.Itoa(update.UpdateID),
		},
	}
	if isGroup {
		inbound.Peer = bus.Peer{Kind: "group", ID: chatID}
	} else {
		inbound.Peer = bus.Peer{Kind: "direct", ID: strconv.FormatInt(msg.From.ID, 10)}
	}
	if msg.ReplyToMessage != nil {
		inbound.ReplyToID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}
	if msg.IsTopicMessage && msg.MessageThreadID != 0 {
		inbound.ThreadID = strconv.Itoa(msg.MessageThreadID)
	}
	if msg.From.Username != "" {
		inbound.Metadata["username"] = msg.From.Username
	}

	inbound.History = c.takeHistory(msg.Chat.ID)
	if err := c.HandleMessage(ctx, inbound); err != nil {
		c.restoreHistory(msg.Chat.ID, inbound.History)
		return fmt.Errorf("publish inbound: %w", err)
	}
	return nil
}

// addressesBot reports whether a group message mentions the bot or replies
// to one of its messages.
func (c *TelegramChannel) addressesBot(msg *telego.Message) bool {
	me := c.me.Load()
	if me == nil {
		return false
	}
	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.From.ID == me.ID {
		return true
	}
	if me.Username != "" {
		text := strings.ToLower(msg.Text + " " + msg.Caption)
		if strings.Contains(text, "@"+strings.ToLower(me.Username)) {
			return true
		}
	}
	for _, e := range msg.Entities {
		if e.Type == telego.EntityTypeTextMention && e.User != nil && e.User.ID == me.ID {
			return true
		}
	}
	return false
}

func (c *TelegramChannel) recordHistory(chatID int64, entry bus.HistoryEntry) {
	limit := int(c.historyLimit.Load())
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := append(c.history[chatID], entry)
	if len(buf) > limit {
		buf = append([]bus.HistoryEntry(nil), buf[len(buf)-limit:]...)
	}
	c.history[chatID] = buf
}

func (c *TelegramChannel) takeHistory(chatID int64) []bus.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.history[chatID]
	delete(c.history, chatID)
	return buf
}

func (c *TelegramChannel) restoreHistory(chatID int64, entries []bus.HistoryEntry) {
	if len(entries) == 0 {
		return
	}
	limit := int(c.historyLimit.Load())
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := append(append([]bus.HistoryEntry(nil), entries...), c.history[chatID]...)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	c.history[chatID] = buf
}

// History returns a copy of the buffered history for a chat.
func (c *TelegramChannel) History(chatID int64) []bus.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bus.HistoryEntry(nil), c.history[chatID]...)
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return ErrNotRunning
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   msg.Content,
	}
	if msg.ThreadID != "" {
		if id, err := strconv.Atoi(msg.ThreadID); err == nil {
			params.MessageThreadID = id
		}
	}
	if msg.ReplyToID != "" {
		if id, err := strconv.Atoi(msg.ReplyToID); err == nil && id > 0 {
			params.ReplyParameters = &telego.ReplyParameters{
				MessageID:                id,
				AllowSendingWithoutReply: true,
			}
		}
	}

	if _, err := c.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func displayName(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

// telegoLogger routes the bot library's logs through the gateway logger.
type telegoLogger struct {
	accountID string
	token     string
}

func (l telegoLogger) Debugf(format string, args ...any) {
	logger.DebugCF(telegramName, l.redact(fmt.Sprintf(format, args...)), map[string]any{"account_id": l.accountID})
}

func (l telegoLogger) Errorf(format string, args ...any) {
	logger.ErrorCF(telegramName, l.redact(fmt.Sprintf(format, args...)), map[string]any{"account_id": l.accountID})
}

func (l telegoLogger) redact(s string) string {
	if l.token == "" {
		return s
	}
	return strings.ReplaceAll(s, l.token, "BOT_TOKEN")
}
