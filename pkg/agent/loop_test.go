package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mingtsay/openclaw/pkg/bus"
	"github.com/mingtsay/openclaw/pkg/config"
	"github.com/mingtsay/openclaw/pkg/providers"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls [][]providers.Message
	opts  []map[string]any
	reply string
	err   error
}

func (f *fakeProvider) Chat(_ context.Context, messages []providers.Message, _ string, options map[string]any) (*providers.LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	f.opts = append(f.opts, options)
	if f.err != nil {
		return nil, f.err
	}
	return &providers.LLMResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func (f *fakeProvider) GetDefaultModel() string { return "fake" }

func (f *fakeProvider) lastCall() []providers.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestAgentLoop_ProcessDirectMessage(t *testing.T) {
	cfg := config.DefaultConfig()
	p := &fakeProvider{reply: " hello back "}
	loop := NewAgentLoop(cfg, bus.NewMessageBus(), p, "claude")

	reply, err := loop.ProcessMessage(context.Background(), bus.InboundMessage{
		Channel: "telegram", AccountID: "default", ChatID: "555", SessionKey: "s1",
		Peer: bus.Peer{Kind: "direct", ID: "555"}, Content: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", reply)

	call := p.lastCall()
	require.Len(t, call, 2)
	assert.Equal(t, "system", call[0].Role)
	assert.Equal(t, providers.Message{Role: "user", Content: "hello"}, call[1])
	assert.Equal(t, cfg.Agents.Defaults.MaxTokens, p.opts[0]["max_tokens"])

	assert.Equal(t, []providers.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hello back"},
	}, loop.SessionHistory("s1"))
}

func TestAgentLoop_GroupTurnCarriesHistory(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	loop := NewAgentLoop(config.DefaultConfig(), bus.NewMessageBus(), p, "claude")

	_, err := loop.ProcessMessage(context.Background(), bus.InboundMessage{
		SessionKey: "g", Peer: bus.Peer{Kind: "group", ID: "-5001"},
		SenderName: "Ana", Content: "@bot thoughts?", Injected: true,
		History: []bus.HistoryEntry{{Sender: "Bo", Body: "lunch at noon"}},
	})
	require.NoError(t, err)

	turn := p.lastCall()[1].Content
	assert.Contains(t, turn, "Bo: lunch at noon")
	assert.Contains(t, turn, "Ana: @bot thoughts?")
}

func TestAgentLoop_HistoryIsTrimmed(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.MaxHistory = 4
	p := &fakeProvider{reply: "r"}
	loop := NewAgentLoop(cfg, bus.NewMessageBus(), p, "claude")

	for range 5 {
		_, err := loop.ProcessMessage(context.Background(), bus.InboundMessage{SessionKey: "s", Content: "q"})
		require.NoError(t, err)
	}
	assert.Len(t, loop.SessionHistory("s"), 4)
	// system + 4 recorded + current
	assert.Len(t, p.lastCall(), 6)
}

func TestAgentLoop_ProviderErrorLeavesSessionUntouched(t *testing.T) {
	p := &fakeProvider{err: errors.New("overloaded")}
	loop := NewAgentLoop(config.DefaultConfig(), bus.NewMessageBus(), p, "claude")

	_, err := loop.ProcessMessage(context.Background(), bus.InboundMessage{SessionKey: "s", Content: "q"})
	assert.ErrorContains(t, err, "overloaded")
	assert.Empty(t, loop.SessionHistory("s"))
}

func TestAgentLoop_RunPublishesReplies(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	p := &fakeProvider{reply: "pong"}
	loop := NewAgentLoop(config.DefaultConfig(), mb, p, "claude")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.NoError(t, mb.PublishInbound(ctx, bus.InboundMessage{
		Channel: "telegram", AccountID: "work", ChatID: "-5001", MessageID: "42", ThreadID: "3",
		Peer: bus.Peer{Kind: "group", ID: "-5001"}, SenderName: "Ana", Content: "ping",
	}))

	outCtx, outCancel := context.WithTimeout(ctx, time.Second)
	defer outCancel()
	out, ok := mb.SubscribeOutbound(outCtx)
	require.True(t, ok)
	assert.Equal(t, bus.OutboundMessage{
		Channel: "telegram", AccountID: "work", ChatID: "-5001",
		Content: "pong", ReplyToID: "42", ThreadID: "3",
	}, out)

	loop.Stop()
	loop.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("agent loop did not stop")
	}
	assert.False(t, loop.IsRunning())
}
