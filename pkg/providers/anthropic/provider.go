package anthropicprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mingtsay/openclaw/pkg/providers/protocoltypes"
)

type (
	LLMResponse = protocoltypes.LLMResponse
	UsageInfo   = protocoltypes.UsageInfo
	Message     = protocoltypes.Message
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultMaxTokens = 4096
)

type Provider struct {
	client  *anthropic.Client
	baseURL string
}

func NewProvider(apiKey string) *Provider {
	return NewProviderWithBaseURL(apiKey, "")
}

func NewProviderWithBaseURL(apiKey, apiBase string) *Provider {
	baseURL := normalizeBaseURL(apiBase)
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return &Provider{
		client:  &client,
		baseURL: baseURL,
	}
}

func NewProviderWithClient(client *anthropic.Client) *Provider {
	return &Provider{
		client:  client,
		baseURL: defaultBaseURL,
	}
}

func (p *Provider) Chat(
	ctx context.Context,
	messages []Message,
	model string,
	options map[string]any,
) (*LLMResponse, error) {
	params, err := buildParams(messages, model, options)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude API call: %w", err)
	}

	return parseResponse(resp), nil
}

func (p *Provider) GetDefaultModel() string {
	return "claude-sonnet-4-5"
}

func (p *Provider) BaseURL() string {
	return p.baseURL
}

// buildParams maps a conversation onto the Messages API. System turns become
// system blocks; consecutive turns of the same role are merged because the
// API requires user and assistant turns to alternate.
func buildParams(
	messages []Message,
	model string,
	options map[string]any,
) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var turns []Message

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if msg.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: msg.Content})
			}
		case "user", "assistant":
			if n := len(turns); n > 0 && turns[n-1].Role == msg.Role {
				turns[n-1].Content += "\n\n" + msg.Content
				continue
			}
			turns = append(turns, msg)
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	// the API rejects a conversation that opens with an assistant turn
	for len(turns) > 0 && turns[0].Role == "assistant" {
		turns = turns[1:]
	}
	if len(turns) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("no user message to send")
	}

	anthropicMessages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == "user" {
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(block))
		} else {
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(block))
		}
	}

	maxTokens := int64(defaultMaxTokens)
	if mt, ok := options["max_tokens"].(int); ok && mt > 0 {
		maxTokens = int64(mt)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthropicMessages,
		MaxTokens: maxTokens,
	}

	if len(system) > 0 {
		params.System = system
	}

	if temp, ok := options["temperature"].(float64); ok {
		params.Temperature = anthropic.Float(temp)
	}

	return params, nil
}

func parseResponse(resp *anthropic.Message) *LLMResponse {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	finishReason := "stop"
	if resp.StopReason == anthropic.StopReasonMaxTokens {
		finishReason = "length"
	}

	return &LLMResponse{
		Content:      sb.String(),
		FinishReason: finishReason,
		Usage: &UsageInfo{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}

func normalizeBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return defaultBaseURL
	}

	base = strings.TrimRight(base, "/")
	if b, ok := strings.CutSuffix(base, "/v1"); ok {
		base = b
	}
	if base == "" {
		return defaultBaseURL
	}

	return base
}
