package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultAccountID names the account formed by the channel-level credentials.
const DefaultAccountID = "default"

// DefaultGroupHistoryLimit is the global fallback for per-chat history buffers.
const DefaultGroupHistoryLimit = 50

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Messages  MessagesConfig  `json:"messages"`
	Gateway   GatewayConfig   `json:"gateway"`
	Log       LogConfig       `json:"log"`
	Audit     AuditConfig     `json:"audit,omitzero"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Model        string   `env:"OPENCLAW_AGENTS_DEFAULTS_MODEL"         json:"model"`
	MaxTokens    int      `env:"OPENCLAW_AGENTS_DEFAULTS_MAX_TOKENS"    json:"max_tokens"`
	Temperature  *float64 `env:"OPENCLAW_AGENTS_DEFAULTS_TEMPERATURE"   json:"temperature,omitempty"`
	SystemPrompt string   `env:"OPENCLAW_AGENTS_DEFAULTS_SYSTEM_PROMPT" json:"system_prompt,omitempty"`
	MaxHistory   int      `env:"OPENCLAW_AGENTS_DEFAULTS_MAX_HISTORY"   json:"max_history"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
}

type ProviderConfig struct {
	APIKey  string `env:"OPENCLAW_PROVIDERS_ANTHROPIC_API_KEY"  json:"api_key"`
	APIBase string `env:"OPENCLAW_PROVIDERS_ANTHROPIC_API_BASE" json:"api_base"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// ExternalBridgeConfig enables injection of externally observed messages into
// a running account. A bridge without a secret is never enabled.
type ExternalBridgeConfig struct {
	Secret       string `json:"secret,omitempty"`
	HistoryLimit int    `json:"history_limit,omitempty"`
	GroupTitle   string `json:"group_title,omitempty"`
}

type TelegramAccountConfig struct {
	Enabled        *bool                 `json:"enabled,omitempty"`
	Token          string                `json:"token"`
	AllowFrom      FlexibleStringSlice   `json:"allow_from,omitempty"`
	HistoryLimit   int                   `json:"history_limit,omitempty"`
	RequireMention *bool                 `json:"require_mention,omitempty"`
	ExternalBridge *ExternalBridgeConfig `json:"external_bridge,omitempty"`
}

type TelegramConfig struct {
	Enabled        bool                             `env:"OPENCLAW_CHANNELS_TELEGRAM_ENABLED"         json:"enabled"`
	Token          string                           `env:"OPENCLAW_CHANNELS_TELEGRAM_TOKEN"           json:"token"`
	Proxy          string                           `env:"OPENCLAW_CHANNELS_TELEGRAM_PROXY"           json:"proxy"`
	AllowFrom      FlexibleStringSlice              `env:"OPENCLAW_CHANNELS_TELEGRAM_ALLOW_FROM"      json:"allow_from"`
	HistoryLimit   int                              `env:"OPENCLAW_CHANNELS_TELEGRAM_HISTORY_LIMIT"   json:"history_limit,omitempty"`
	RequireMention bool                             `env:"OPENCLAW_CHANNELS_TELEGRAM_REQUIRE_MENTION" json:"require_mention"`
	ExternalBridge *ExternalBridgeConfig            `                                                 json:"external_bridge,omitempty"` //nolint:tagalign // golines conflict
	Accounts       map[string]TelegramAccountConfig `                                                 json:"accounts,omitempty"`        //nolint:tagalign // golines conflict
}

// AccountIDs lists the enabled accounts in a stable order. The channel-level
// token forms the "default" account unless an explicit entry overrides it.
func (c TelegramConfig) AccountIDs() []string {
	seen := map[string]bool{}
	var ids []string
	if strings.TrimSpace(c.Token) != "" {
		seen[DefaultAccountID] = true
		ids = append(ids, DefaultAccountID)
	}
	names := make([]string, 0, len(c.Accounts))
	for id := range c.Accounts {
		names = append(names, id)
	}
	sort.Strings(names)
	for _, id := range names {
		acc := c.Accounts[id]
		if acc.Enabled != nil && !*acc.Enabled {
			if seen[id] {
				ids = removeString(ids, id)
			}
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Account returns the merged view of an account: explicit account settings
// override channel-level ones.
func (c TelegramConfig) Account(accountID string) (TelegramAccountConfig, bool) {
	acc, explicit := c.Accounts[accountID]
	if !explicit && accountID != DefaultAccountID {
		return TelegramAccountConfig{}, false
	}
	if acc.Enabled != nil && !*acc.Enabled {
		return TelegramAccountConfig{}, false
	}
	merged := acc
	if merged.Token == "" && accountID == DefaultAccountID {
		merged.Token = c.Token
	}
	if merged.Token == "" {
		return TelegramAccountConfig{}, false
	}
	if len(merged.AllowFrom) == 0 {
		merged.AllowFrom = c.AllowFrom
	}
	if merged.RequireMention == nil {
		rm := c.RequireMention
		merged.RequireMention = &rm
	}
	return merged, true
}

// TelegramHistoryLimit resolves the per-chat history bound for an account:
// account, then channel, then messages.group_chat, then DefaultGroupHistoryLimit.
func (c *Config) TelegramHistoryLimit(accountID string) int {
	tg := c.Channels.Telegram
	if acc, ok := tg.Accounts[accountID]; ok && acc.HistoryLimit > 0 {
		return acc.HistoryLimit
	}
	if tg.HistoryLimit > 0 {
		return tg.HistoryLimit
	}
	if c.Messages.GroupChat.HistoryLimit > 0 {
		return c.Messages.GroupChat.HistoryLimit
	}
	return DefaultGroupHistoryLimit
}

type MessagesConfig struct {
	GroupChat GroupChatConfig `json:"group_chat"`
}

type GroupChatConfig struct {
	HistoryLimit int `env:"OPENCLAW_MESSAGES_GROUP_CHAT_HISTORY_LIMIT" json:"history_limit"`
}

type GatewayConfig struct {
	Host string `env:"OPENCLAW_GATEWAY_HOST" json:"host"`
	Port int    `env:"OPENCLAW_GATEWAY_PORT" json:"port"`
}

type LogConfig struct {
	Level  string `env:"OPENCLAW_LOG_LEVEL"  json:"level"`
	Format string `env:"OPENCLAW_LOG_FORMAT" json:"format"`
}

// AuditConfig configures the optional AMQP sink for accepted injections.
type AuditConfig struct {
	AMQPURL    string `env:"OPENCLAW_AUDIT_AMQP_URL"    json:"amqp_url,omitempty"`
	Exchange   string `env:"OPENCLAW_AUDIT_EXCHANGE"    json:"exchange,omitempty"`
	RoutingKey string `env:"OPENCLAW_AUDIT_ROUTING_KEY" json:"routing_key,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Model:      "claude-sonnet-4-5",
				MaxTokens:  4096,
				MaxHistory: 40,
			},
		},
		Messages: MessagesConfig{
			GroupChat: GroupChatConfig{HistoryLimit: DefaultGroupHistoryLimit},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads path (JSON, TOML or YAML by extension) over DefaultConfig
// and applies environment overrides. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	data, err = toJSON(path, data)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// toJSON re-encodes TOML and YAML documents as JSON so every format is
// decoded through the same json tags.
func toJSON(path string, data []byte) ([]byte, error) {
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", path, err)
		}
	default:
		return data, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("error converting %s: %w", path, err)
	}
	return out, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func removeString(items []string, s string) []string {
	out := items[:0]
	for _, it := range items {
		if it != s {
			out = append(out, it)
		}
	}
	return out
}
