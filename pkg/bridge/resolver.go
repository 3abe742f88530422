package bridge

import (
	"strings"

	"github.com/mingtsay/openclaw/pkg/config"
)

// Resolve derives the bridge configuration for a Telegram account. Account
// settings override channel settings; the history limit falls back through
// the account and channel limits to messages.group_chat and finally the
// built-in default. Without a non-blank secret the bridge is disabled. The
// secret is kept byte for byte as configured.
func Resolve(cfg *config.Config, accountID string) (Config, bool) {
	if cfg == nil {
		return Config{}, false
	}
	tg := cfg.Channels.Telegram

	var account *config.ExternalBridgeConfig
	if acc, ok := tg.Accounts[accountID]; ok {
		account = acc.ExternalBridge
	}
	channel := tg.ExternalBridge

	secret := firstNonEmpty(secretOf(account), secretOf(channel))
	if secret == "" {
		return Config{}, false
	}

	return Config{
		Secret:       secret,
		HistoryLimit: firstPositive(limitOf(account), limitOf(channel), cfg.TelegramHistoryLimit(accountID)),
		Display: DisplayOptions{
			GroupTitle: firstNonEmpty(titleOf(account), titleOf(channel)),
		},
	}, true
}

func secretOf(b *config.ExternalBridgeConfig) string {
	if b == nil {
		return ""
	}
	if strings.TrimSpace(b.Secret) == "" {
		return ""
	}
	return b.Secret
}

func limitOf(b *config.ExternalBridgeConfig) int {
	if b == nil {
		return 0
	}
	return b.HistoryLimit
}

func titleOf(b *config.ExternalBridgeConfig) string {
	if b == nil {
		return ""
	}
	return b.GroupTitle
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return config.DefaultGroupHistoryLimit
}
