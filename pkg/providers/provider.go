package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/mingtsay/openclaw/pkg/config"
	anthropicprovider "github.com/mingtsay/openclaw/pkg/providers/anthropic"
	"github.com/mingtsay/openclaw/pkg/providers/protocoltypes"
)

type (
	Message     = protocoltypes.Message
	LLMResponse = protocoltypes.LLMResponse
	UsageInfo   = protocoltypes.UsageInfo
)

// ErrNoAPIKey is returned when no provider credential is configured.
var ErrNoAPIKey = errors.New("providers.anthropic.api_key is not set")

type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, model string, options map[string]any) (*LLMResponse, error)
	GetDefaultModel() string
}

// CreateProvider builds the configured provider and resolves the model id it
// should be called with.
func CreateProvider(cfg *config.Config) (LLMProvider, string, error) {
	pc := cfg.Providers.Anthropic
	if strings.TrimSpace(pc.APIKey) == "" {
		return nil, "", ErrNoAPIKey
	}
	p := anthropicprovider.NewProviderWithBaseURL(pc.APIKey, pc.APIBase)

	model := cfg.Agents.Defaults.Model
	if model == "" {
		model = p.GetDefaultModel()
	}
	return p, model, nil
}
