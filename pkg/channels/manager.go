package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mingtsay/openclaw/pkg/bridge"
	"github.com/mingtsay/openclaw/pkg/bus"
	"github.com/mingtsay/openclaw/pkg/config"
	"github.com/mingtsay/openclaw/pkg/logger"
)

// ErrUnknownAccount is returned when an outbound message names no running account.
var ErrUnknownAccount = errors.New("no channel for account")

type channelFactory func(accountID string, acc config.TelegramAccountConfig) (Channel, error)

// Manager owns the per-account channels. It registers each running channel
// with the bridge registry when the account has a bridge secret, and routes
// outbound bus messages back to the owning channel.
type Manager struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	registry *bridge.Registry

	mu       sync.RWMutex
	channels map[string]Channel
	bridged  map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds a Telegram channel for every enabled account. registry
// may be nil, in which case no account is bridged.
func NewManager(cfg *config.Config, msgBus *bus.MessageBus, registry *bridge.Registry) (*Manager, error) {
	tg := cfg.Channels.Telegram
	return newManager(cfg, msgBus, registry, func(accountID string, acc config.TelegramAccountConfig) (Channel, error) {
		return NewTelegramChannel(accountID, acc, tg.Proxy, cfg.TelegramHistoryLimit(accountID), msgBus)
	})
}

func newManager(cfg *config.Config, msgBus *bus.MessageBus, registry *bridge.Registry, factory channelFactory) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		bus:      msgBus,
		registry: registry,
		channels: make(map[string]Channel),
		bridged:  make(map[string]bool),
	}

	tg := cfg.Channels.Telegram
	if !tg.Enabled {
		return m, nil
	}
	for _, id := range tg.AccountIDs() {
		acc, ok := tg.Account(id)
		if !ok {
			continue
		}
		ch, err := factory(id, acc)
		if err != nil {
			return nil, err
		}
		m.channels[id] = ch
		logger.InfoCF("channels", "Telegram account configured", map[string]any{"account_id": id})
	}
	return m, nil
}

// StartAll starts every channel and the outbound dispatcher. A channel that
// fails to start is logged and skipped.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, id := range m.sortedIDs() {
		ch := m.channels[id]
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]any{
				"account_id": id,
				"error":      err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		m.attachBridge(id, ch)
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.dispatchOutbound(dispatchCtx)

	return errors.Join(errs...)
}

func (m *Manager) attachBridge(id string, ch Channel) {
	if m.registry == nil {
		return
	}
	d, ok := ch.(bridge.Dispatcher)
	if !ok {
		return
	}
	bc, ok := bridge.Resolve(m.cfg, id)
	if !ok {
		return
	}
	if hl, ok := ch.(interface{ SetHistoryLimit(int) }); ok {
		hl.SetHistoryLimit(bc.HistoryLimit)
	}
	if err := m.registry.Register(id, d, bc); err != nil {
		logger.ErrorCF("channels", "Failed to register account with bridge", map[string]any{
			"account_id": id,
			"error":      err.Error(),
		})
		return
	}
	m.bridged[id] = true
	logger.InfoCF("channels", "External message bridge enabled", map[string]any{
		"account_id":    id,
		"history_limit": bc.HistoryLimit,
	})
}

// StopAll unregisters bridged accounts before stopping their channels so no
// injection reaches a session that is shutting down.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	for id := range m.bridged {
		m.registry.Unregister(id)
		delete(m.bridged, id)
	}
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.wg.Wait()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.sortedIDs() {
		if err := m.channels[id].Stop(ctx); err != nil {
			logger.WarnCF("channels", "Error stopping channel", map[string]any{
				"account_id": id,
				"error":      err.Error(),
			})
		}
	}
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	defer m.wg.Done()
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if err := m.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Failed to deliver outbound message", map[string]any{
				"account_id": msg.AccountID,
				"chat_id":    msg.ChatID,
				"error":      err.Error(),
			})
		}
	}
}

// Send delivers msg through the channel of its account, splitting it to the
// channel's message length limit. Only the first chunk carries the reply link.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) error {
	accountID := msg.AccountID
	if accountID == "" {
		accountID = config.DefaultAccountID
	}
	ch, ok := m.GetChannel(accountID)
	if !ok || (msg.Channel != "" && msg.Channel != ch.Name()) {
		return fmt.Errorf("%w: %s/%s", ErrUnknownAccount, msg.Channel, accountID)
	}

	limit := 0
	if lp, ok := ch.(MessageLengthProvider); ok {
		limit = lp.MaxMessageLength()
	}
	for i, chunk := range SplitMessage(msg.Content, limit) {
		part := msg
		part.Content = chunk
		if i > 0 {
			part.ReplyToID = ""
		}
		if err := ch.Send(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) GetChannel(accountID string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[accountID]
	return ch, ok
}

// GetEnabledChannels lists the configured accounts as "channel:account".
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for _, id := range m.sortedIDs() {
		names = append(names, m.channels[id].Name()+":"+id)
	}
	return names
}

// BridgedAccounts lists the accounts currently registered with the bridge.
func (m *Manager) BridgedAccounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.bridged))
	for id := range m.bridged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunningCount reports how many configured channels are running.
func (m *Manager) RunningCount() (running, total int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if ch.IsRunning() {
			running++
		}
	}
	return running, len(m.channels)
}
