package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/mymmrac/telego"
)

// Dispatcher is a live session's "process one update" entry point.
type Dispatcher interface {
	DispatchUpdate(ctx context.Context, update telego.Update) error
}

// DisplayOptions control how synthesized chats are labelled.
type DisplayOptions struct {
	// GroupTitle is the title given to group-like chats. "{chat_id}" is
	// replaced with the numeric chat id.
	GroupTitle string
}

// Config is the per-account bridge configuration.
type Config struct {
	Secret       string
	HistoryLimit int
	Display      DisplayOptions
}

type entry struct {
	dispatcher Dispatcher
	config     Config
}

var (
	ErrNoDispatcher = errors.New("bridge: nil dispatcher")
	ErrNoSecret     = errors.New("bridge: refusing to register an account without a secret")
)

// Registry maps account ids to live sessions. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register replaces any previous entry for accountID.
func (r *Registry) Register(accountID string, d Dispatcher, cfg Config) error {
	if d == nil {
		return ErrNoDispatcher
	}
	if cfg.Secret == "" {
		return ErrNoSecret
	}
	r.mu.Lock()
	r.entries[accountID] = entry{dispatcher: d, config: cfg}
	r.mu.Unlock()
	return nil
}

func (r *Registry) Unregister(accountID string) {
	r.mu.Lock()
	delete(r.entries, accountID)
	r.mu.Unlock()
}

func (r *Registry) Lookup(accountID string) (Dispatcher, Config, bool) {
	r.mu.RLock()
	e, ok := r.entries[accountID]
	r.mu.RUnlock()
	if !ok {
		return nil, Config{}, false
	}
	return e.dispatcher, e.config, true
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
