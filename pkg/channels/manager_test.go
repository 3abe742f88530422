package channels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mingtsay/openclaw/pkg/bridge"
	"github.com/mingtsay/openclaw/pkg/bus"
	"github.com/mingtsay/openclaw/pkg/config"
)

func testManagerConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Channels.Telegram = config.TelegramConfig{
		Enabled:        true,
		Token:          "1:default",
		ExternalBridge: &config.ExternalBridgeConfig{Secret: "s3cret", HistoryLimit: 4},
		Accounts: map[string]config.TelegramAccountConfig{
			"work": {Token: "2:work"},
		},
	}
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, reg *bridge.Registry) (*Manager, map[string]*fakeTelegramAPI, *bus.MessageBus) {
	t.Helper()
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)
	apis := map[string]*fakeTelegramAPI{}
	m, err := newManager(cfg, mb, reg, func(id string, acc config.TelegramAccountConfig) (Channel, error) {
		api := newFakeTelegramAPI()
		apis[id] = api
		return newTelegramChannel(id, acc, api, cfg.TelegramHistoryLimit(id), mb), nil
	})
	require.NoError(t, err)
	return m, apis, mb
}

func TestManager_BuildsEnabledAccounts(t *testing.T) {
	m, _, _ := newTestManager(t, testManagerConfig(), nil)
	assert.Equal(t, []string{"telegram:default", "telegram:work"}, m.GetEnabledChannels())

	cfg := testManagerConfig()
	cfg.Channels.Telegram.Enabled = false
	m, _, _ = newTestManager(t, cfg, nil)
	assert.Empty(t, m.GetEnabledChannels())
}

func TestManager_RegistersBridgeOnStartAndUnregistersOnStop(t *testing.T) {
	reg := bridge.NewRegistry()
	m, _, _ := newTestManager(t, testManagerConfig(), reg)
	ctx := context.Background()

	require.NoError(t, m.StartAll(ctx))
	assert.Equal(t, []string{"default", "work"}, m.BridgedAccounts())
	running, total := m.RunningCount()
	assert.Equal(t, 2, running)
	assert.Equal(t, 2, total)

	_, bc, ok := reg.Lookup("default")
	require.True(t, ok)
	assert.Equal(t, "s3cret", bc.Secret)

	ch, ok := m.GetChannel("default")
	require.True(t, ok)
	assert.Equal(t, int64(4), ch.(*TelegramChannel).historyLimit.Load())

	m.StopAll(ctx)
	_, _, ok = reg.Lookup("default")
	assert.False(t, ok)
	assert.Empty(t, m.BridgedAccounts())
	assert.False(t, ch.IsRunning())
}

func TestManager_NoBridgeWithoutSecret(t *testing.T) {
	cfg := testManagerConfig()
	cfg.Channels.Telegram.ExternalBridge = nil
	cfg.Channels.Telegram.Accounts["work"] = config.TelegramAccountConfig{
		Token:          "2:work",
		ExternalBridge: &config.ExternalBridgeConfig{Secret: "work-only"},
	}
	reg := bridge.NewRegistry()
	m, _, _ := newTestManager(t, cfg, reg)

	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll(context.Background())
	assert.Equal(t, []string{"work"}, m.BridgedAccounts())
	assert.Equal(t, 1, reg.Len())
}

func TestManager_RoutesAndSplitsOutbound(t *testing.T) {
	m, apis, mb := newTestManager(t, testManagerConfig(), nil)
	ctx := context.Background()
	require.NoError(t, m.StartAll(ctx))
	defer m.StopAll(ctx)

	long := strings.Repeat("a", telegramMaxMessageLen) + " tail"
	require.NoError(t, m.Send(ctx, bus.OutboundMessage{Channel: "telegram", AccountID: "work", ChatID: "-5001", Content: long, ReplyToID: "42"}))

	sent := apis["work"].sentMessages()
	require.Len(t, sent, 2)
	require.NotNil(t, sent[0].ReplyParameters)
	assert.Nil(t, sent[1].ReplyParameters)
	assert.Equal(t, "tail", sent[1].Text)
	assert.Empty(t, apis["default"].sentMessages())

	// an empty account id means the default account
	require.NoError(t, mb.PublishOutbound(ctx, bus.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "via bus"}))
	assert.Eventually(t, func() bool { return len(apis["default"].sentMessages()) == 1 }, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, m.Send(ctx, bus.OutboundMessage{Channel: "telegram", AccountID: "nope", ChatID: "1", Content: "x"}), ErrUnknownAccount)
	assert.ErrorIs(t, m.Send(ctx, bus.OutboundMessage{Channel: "discord", AccountID: "work", ChatID: "1", Content: "x"}), ErrUnknownAccount)
}

func TestManager_BridgeInjectionReachesBus(t *testing.T) {
	reg := bridge.NewRegistry()
	m, _, mb := newTestManager(t, testManagerConfig(), reg)
	ctx := context.Background()
	require.NoError(t, m.StartAll(ctx))

	h := bridge.NewHandler("telegram", reg, bridge.NewNegativeCounter())
	body := `{"chatId":-5001,"messageId":42,"senderName":"Ana","senderUsername":"ana_x","senderId":555,"text":"hi","timestamp":1700000000}`

	req := httptest.NewRequest(http.MethodPost, bridge.PathFor("telegram"), strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, ok := consume(t, mb)
	require.True(t, ok)
	assert.True(t, got.Injected)
	assert.Equal(t, "default", got.AccountID)
	assert.Equal(t, "-5001", got.ChatID)
	assert.Equal(t, "555|ana_x", got.SenderID)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, "42", got.MessageID)

	m.StopAll(ctx)

	req = httptest.NewRequest(http.MethodPost, bridge.PathFor("telegram"), strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
