// Package ai talks to a chat model to classify ebook file paths and to look
// up descriptive metadata for authors, books and series.
package ai

import (
	"context"
	"strings"
	"time"

	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/retry"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator is the part of llms.Model the client needs.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retry       retry.Options
}

type Client struct {
	model Generator
	opts  Options
}

// New builds a client for the provider named in the configuration.
func New(cfg *config.Config) (*Client, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, Options{
		Temperature: cfg.AITemperature,
		MaxTokens:   cfg.AIMaxTokens,
		Timeout:     cfg.AITimeout,
		Retry: retry.Options{
			MaxRetries: cfg.RetryMaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
		},
	}), nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(model Generator, opts Options) *Client {
	if opts.Retry.ShouldRetry == nil {
		opts.Retry.ShouldRetry = retry.IsRetryableError
	}
	return &Client{model: model, opts: opts}
}

func newModel(cfg *config.Config) (llms.Model, error) {
	switch cfg.AIProvider {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.AIModel)}
		if cfg.AIBaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.AIBaseURL))
		}
		model, err := ollama.New(opts...)
		return model, errors.Wrap(err, "create ollama model")

	case config.ProviderOpenAI:
		if cfg.AIAPIKey == "" {
			return nil, errors.New("missing required config: AI_API_KEY (ai_api_key)")
		}
		opts := []openai.Option{openai.WithToken(cfg.AIAPIKey), openai.WithModel(cfg.AIModel)}
		if cfg.AIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.AIBaseURL))
		}
		model, err := openai.New(opts...)
		return model, errors.Wrap(err, "create openai model")

	case config.ProviderAnthropic:
		if cfg.AIAPIKey == "" {
			return nil, errors.New("missing required config: AI_API_KEY (ai_api_key)")
		}
		opts := []anthropic.Option{anthropic.WithToken(cfg.AIAPIKey), anthropic.WithModel(cfg.AIModel)}
		if cfg.AIBaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.AIBaseURL))
		}
		model, err := anthropic.New(opts...)
		return model, errors.Wrap(err, "create anthropic model")

	default:
		return nil, errors.Errorf("unsupported AI provider: %s", cfg.AIProvider)
	}
}

func systemPrompt(role string) string {
	return "You are " + role + ". You MUST respond with valid JSON only. No markdown, no code blocks, no explanation. Just pure JSON that can be parsed directly."
}

// generateJSON sends the prompts and decodes the reply into out. Transport
// failures and replies that aren't valid JSON are retried.
func (c *Client) generateJSON(ctx context.Context, operation, system, user string, out interface{}) error {
	log := logger.FromContext(ctx)

	retryOpts := c.opts.Retry
	retryOpts.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("ai call failed, retrying", logger.Data{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay.String(),
			"error":     err.Error(),
		})
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	callOpts := []llms.CallOption{llms.WithJSONMode()}
	if c.opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(c.opts.Temperature))
	}
	if c.opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.opts.MaxTokens))
	}

	start := time.Now()
	log.Info("ai call starting", logger.Data{"operation": operation, "prompt_length": len(user)})

	err := retry.Do(ctx, retryOpts, func(ctx context.Context) error {
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
		}

		resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			return errors.Wrap(err, "ai request failed")
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
			return retry.Retryable(errors.New("empty response from ai model"))
		}

		content := stripCodeFence(resp.Choices[0].Content)
		if err := json.Unmarshal([]byte(content), out); err != nil {
			log.Warn("ai response isn't valid json", logger.Data{
				"operation":      operation,
				"content_length": len(content),
				"content_start":  truncate(content, 500),
			})
			return retry.Retryable(errors.Wrap(err, "invalid json response from ai model"))
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("ai call completed", logger.Data{"operation": operation, "elapsed_ms": time.Since(start).Milliseconds()})
	return nil
}

// stripCodeFence removes a surrounding ```json ... ``` block that some
// models add despite being told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// truncate shortens s to at most max characters, ending in "..." when
// anything was cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
