package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config selects and configures a hosted provider.
type Config struct {
	Provider string // anthropic | openai | gemini | mock
	Model    string
	APIKey   string
	BaseURL  string
	Retry    RetryConfig
}

// NewProvider builds the configured provider wrapped as caller -> retry -> logging -> base.
func NewProvider(ctx context.Context, cfg Config, log logrus.FieldLogger) (Provider, error) {
	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.APIKey, cfg.Model)
	case "openai":
		base, err = NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	case "mock":
		base = NewMockProvider()
	default:
		return nil, fmt.Errorf("unknown model provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}
	return WithRetry(WithLogging(base, log), cfg.Retry), nil
}

// LoggingProvider logs latency and token usage of every request.
type LoggingProvider struct {
	inner Provider
	log   logrus.FieldLogger
}

func WithLogging(p Provider, log logrus.FieldLogger) Provider {
	return &LoggingProvider{inner: p, log: log}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)

	fields := logrus.Fields{
		"model":      l.inner.ModelID(),
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if req.Schema != nil {
		fields["schema"] = req.Schema.Name
	}
	if err != nil {
		l.log.WithFields(fields).WithError(err).Warn("model request failed")
		return nil, err
	}
	fields["input_tokens"] = resp.Usage.InputTokens
	fields["output_tokens"] = resp.Usage.OutputTokens
	l.log.WithFields(fields).Debug("model request")
	return resp, nil
}

func (l *LoggingProvider) ModelID() string { return l.inner.ModelID() }
