package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/metrics"
)

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
	defaultRetries     = 1
)

// ErrNonTextContent модель вернула ответ не текстового вида. Повтор не выполняется.
var ErrNonTextContent = errors.New("llm: non-text response content")

// Request запрос к провайдеру после применения значений по умолчанию.
type Request struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	JSON        bool
}

// Provider выполняет один вызов модели без повторов.
type Provider interface {
	Complete(ctx context.Context, req Request) (domain.LLMResult, error)
	Stream(ctx context.Context, req Request, onChunk func(string) error) (domain.LLMResult, error)
}

// Client добавляет к провайдеру значения по умолчанию и повторы с экспоненциальной задержкой.
type Client struct {
	provider Provider
	model    string
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ domain.LLM = (*Client)(nil)

// Option настраивает Client.
type Option func(*Client)

// WithSleep подменяет ожидание между попытками.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// NewClient создаёт клиента LLM.
func NewClient(provider Provider, defaultModel string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{provider: provider, model: defaultModel, log: logger, sleep: sleepCtx}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate выполняет блокирующий вызов.
func (c *Client) Generate(ctx context.Context, system, user string, opts domain.LLMOptions) (domain.LLMResult, error) {
	req, retries := c.request(system, user, opts)
	return c.withRetry(ctx, req.Model, retries, func() (domain.LLMResult, bool, error) {
		res, err := c.provider.Complete(ctx, req)
		return res, false, err
	})
}

// Stream выполняет потоковый вызов. Повтор возможен только до первого переданного фрагмента.
func (c *Client) Stream(ctx context.Context, system, user string, opts domain.LLMOptions, onChunk func(string) error) (domain.LLMResult, error) {
	req, retries := c.request(system, user, opts)
	return c.withRetry(ctx, req.Model, retries, func() (domain.LLMResult, bool, error) {
		delivered := false
		res, err := c.provider.Stream(ctx, req, func(chunk string) error {
			delivered = true
			if onChunk == nil {
				return nil
			}
			return onChunk(chunk)
		})
		return res, delivered, err
	})
}

func (c *Client) request(system, user string, opts domain.LLMOptions) (Request, int) {
	req := Request{
		Model:       opts.Model,
		System:      system,
		User:        user,
		MaxTokens:   opts.MaxTokens,
		Temperature: defaultTemperature,
		JSON:        opts.JSON,
	}
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	retries := defaultRetries
	if opts.Retries != nil && *opts.Retries >= 0 {
		retries = *opts.Retries
	}
	return req, retries
}

func (c *Client) withRetry(ctx context.Context, model string, retries int, call func() (domain.LLMResult, bool, error)) (domain.LLMResult, error) {
	attempts := retries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		res, delivered, err := call()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrNonTextContent) {
			return domain.LLMResult{}, err
		}
		if ctx.Err() != nil {
			return domain.LLMResult{}, fmt.Errorf("llm: %w", ctx.Err())
		}
		if delivered {
			return domain.LLMResult{}, fmt.Errorf("llm: stream interrupted: %w", err)
		}
		if attempt == attempts-1 {
			break
		}
		delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		c.log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("llm: ошибка вызова модели, повторим")
		metrics.LLMRetriesTotal.WithLabelValues(model).Inc()
		if err := c.sleep(ctx, delay); err != nil {
			return domain.LLMResult{}, fmt.Errorf("llm: %w", err)
		}
	}
	return domain.LLMResult{}, fmt.Errorf("llm: generation failed after %d attempts: %w", attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
