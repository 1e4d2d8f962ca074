package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/brave"
	"dossier-ai/internal/infra/metrics"
)

const (
	defaultRetries  = 2
	defaultCacheTTL = 6 * time.Hour
	initialBackoff  = 2 * time.Second
)

type webSearcher interface {
	Configured() bool
	WebSearch(ctx context.Context, query string, count int) ([]brave.WebResult, error)
}

// Cache хранилище сериализованных результатов поиска.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config параметры сервиса поиска.
type Config struct {
	Retries  int
	RPS      float64
	CacheTTL time.Duration
}

// Service реализует domain.Searcher поверх Brave Search.
type Service struct {
	client   webSearcher
	cache    Cache
	limiter  *rate.Limiter
	retries  int
	cacheTTL time.Duration
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ domain.Searcher = (*Service)(nil)

// NewService создаёт сервис поиска. cache может быть nil.
func NewService(client webSearcher, cache Cache, cfg Config, logger zerolog.Logger) *Service {
	retries := cfg.Retries
	if retries < 0 {
		retries = defaultRetries
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Service{
		client:   client,
		cache:    cache,
		limiter:  rate.NewLimiter(limit, 1),
		retries:  retries,
		cacheTTL: ttl,
		log:      logger,
		sleep:    sleepCtx,
	}
}

// Backend возвращает имя активного источника результатов.
func (s *Service) Backend() string {
	if s.client != nil && s.client.Configured() {
		return "brave"
	}
	return "mock"
}

// Search выполняет поиск. Ошибки не возвращаются: при сбое результат пустой.
func (s *Service) Search(ctx context.Context, query string, count int) []domain.Source {
	if count <= 0 {
		count = 5
	}
	if s.client == nil || !s.client.Configured() {
		metrics.SearchFallbackTotal.WithLabelValues("unconfigured").Inc()
		return MockResults(query)
	}

	key := cacheKey(query, count)
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached
	}

	results, err := s.searchWithRetry(ctx, query, count)
	if err != nil {
		s.log.Warn().Err(err).Str("query", query).Msg("search: запрос не выполнен, возвращаем пустой результат")
		metrics.SearchFallbackTotal.WithLabelValues("error").Inc()
		return []domain.Source{}
	}

	sources := make([]domain.Source, 0, len(results))
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		date := r.PageAge
		if date == "" {
			date = r.Age
		}
		sources = append(sources, domain.Source{
			Title:   r.Title,
			URL:     r.URL,
			Domain:  ExtractDomain(r.URL),
			Date:    date,
			Snippet: r.Description,
		})
	}
	sources = DedupeByURL(sources)
	s.toCache(ctx, key, sources)
	return sources
}

func (s *Service) searchWithRetry(ctx context.Context, query string, count int) ([]brave.WebResult, error) {
	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		results, err := s.client.WebSearch(ctx, query, count)
		if err == nil {
			return results, nil
		}
		var statusErr *brave.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests || attempt >= s.retries {
			return nil, err
		}
		delay := backoff
		if statusErr.RetryAfter > 0 {
			delay = statusErr.RetryAfter
		}
		s.log.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("search: лимит запросов, повторим")
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (s *Service) fromCache(ctx context.Context, key string) ([]domain.Source, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Msg("search: чтение кэша")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var sources []domain.Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, false
	}
	return sources, true
}

func (s *Service) toCache(ctx context.Context, key string, sources []domain.Source) {
	if s.cache == nil || len(sources) == 0 {
		return
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("search: запись кэша")
	}
}

func cacheKey(query string, count int) string {
	return fmt.Sprintf("search:%d:%s", count, strings.ToLower(strings.TrimSpace(query)))
}

// MockResults два фиксированных результата для работы без ключа API.
func MockResults(query string) []domain.Source {
	return []domain.Source{
		{
			Title:   "Industry Report: Market Trends and Growth Analysis",
			URL:     "https://www.mckinsey.com/insights/market-trends",
			Domain:  "mckinsey.com",
			Date:    "2024",
			Snippet: fmt.Sprintf("Companies that invest in %s report 20-30%% higher growth over three years.", query),
		},
		{
			Title:   "Research Study: Best Practices and Frameworks",
			URL:     "https://hbr.org/research/best-practices",
			Domain:  "hbr.org",
			Date:    "2024",
			Snippet: "A structured framework of problem, solution, traction and ask is used by 70% of successful teams.",
		},
	}
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
