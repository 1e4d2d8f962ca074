// Package app выбирает реализации хранилища, очереди и внешних клиентов по конфигу при старте.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dossier-ai/internal/adapters/llm"
	"dossier-ai/internal/adapters/repo"
	"dossier-ai/internal/adapters/search"
	"dossier-ai/internal/domain"
	"dossier-ai/internal/infra/anthropic"
	"dossier-ai/internal/infra/brave"
	"dossier-ai/internal/infra/cache"
	"dossier-ai/internal/infra/config"
	"dossier-ai/internal/infra/db"
	"dossier-ai/internal/infra/notify"
	"dossier-ai/internal/infra/openai"
	"dossier-ai/internal/infra/queue"
)

const searchCacheSize = 512

// Store объединяет все репозитории.
type Store interface {
	domain.DraftRepo
	domain.PresentationRepo
	domain.UserRepo
	domain.JobStatusRepo
	domain.BusinessMetricRepo
}

// Locker выполняет функцию не чаще одного раза за ttl по ключу.
type Locker interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
}

// Cache кеш с блокировкой.
type Cache interface {
	search.Cache
	Locker
}

// Backends активные реализации инфраструктуры.
type Backends struct {
	Store    Store
	Queue    domain.PresentationQueue
	Notifier domain.StatusNotifier
	Cache    Cache

	StoreName    string
	QueueName    string
	NotifierName string
	CacheName    string

	closers []func()
}

// Options параметры открытия.
type Options struct {
	Migrate bool
}

// Open подключает хранилище, очередь, уведомления и кеш согласно конфигу.
func Open(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, opts Options) (*Backends, error) {
	b := &Backends{}

	switch cfg.StoreBackend() {
	case "postgres":
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		if opts.Migrate {
			if err := db.Migrate(pool); err != nil {
				b.Close()
				return nil, fmt.Errorf("миграции: %w", err)
			}
		}
		b.Store = repo.NewPostgres(pool)
		b.StoreName = "postgres"
	default:
		b.Store = repo.NewMemory()
		b.StoreName = "memory"
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = redisClient.Close()
			b.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.closers = append(b.closers, func() { _ = redisClient.Close() })
	}

	switch cfg.QueueBackend() {
	case "rabbitmq":
		q, err := queue.NewRabbitPresentationQueue(cfg.RabbitURL, cfg.Queues.Presentation)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		b.closers = append(b.closers, func() { _ = q.Close() })
		b.Queue = q
		b.QueueName = "rabbitmq"
	case "redis":
		b.Queue = queue.NewRedisPresentationQueue(redisClient, cfg.Queues.Presentation)
		b.QueueName = "redis"
	default:
		b.Queue = queue.NewMemoryPresentationQueue(256)
		b.QueueName = "memory"
	}

	if redisClient != nil {
		b.Notifier = notify.NewRedis(redisClient)
		b.NotifierName = "redis"
		b.Cache = cache.NewRedis(redisClient, "dossier:")
		b.CacheName = "redis"
	} else {
		b.Notifier = notify.NewHub()
		b.NotifierName = "memory"
		b.Cache = cache.NewMemory(searchCacheSize, cfg.Search.CacheTTL)
		b.CacheName = "memory"
	}

	logger.Info().
		Str("store", b.StoreName).
		Str("queue", b.QueueName).
		Str("notifier", b.NotifierName).
		Str("cache", b.CacheName).
		Msg("app: выбраны бэкенды")
	return b, nil
}

// InProcess сообщает, что очередь живёт в памяти и воркер должен работать в этом же процессе.
func (b *Backends) InProcess() bool {
	return b.QueueName == "memory"
}

// RecoverQueue возвращает в очередь задачи, которые остались в обработке после падения воркера.
func (b *Backends) RecoverQueue(ctx context.Context) (int, error) {
	if q, ok := b.Queue.(*queue.RedisPresentationQueue); ok {
		return q.Recover(ctx)
	}
	return 0, nil
}

// Close освобождает подключения в обратном порядке.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// NewLLM создаёт клиента модели выбранного провайдера.
func NewLLM(cfg config.AppConfig, logger zerolog.Logger) (*llm.Client, error) {
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.OpenAIKey == "" {
			return nil, errors.New("не указан OPENAI_API_KEY")
		}
		client := openai.NewClient(cfg.LLM.OpenAIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.Timeout)
		return llm.NewClient(llm.NewOpenAIProvider(client), cfg.LLM.OpenAIModel, logger), nil
	case "anthropic", "":
		if cfg.LLM.AnthropicKey == "" {
			return nil, errors.New("не указан ANTHROPIC_API_KEY")
		}
		client := anthropic.NewClient(cfg.LLM.AnthropicKey, "", cfg.LLM.Timeout)
		return llm.NewClient(llm.NewAnthropicProvider(client), cfg.LLM.AnthropicModel, logger), nil
	default:
		return nil, fmt.Errorf("неизвестный LLM_PROVIDER %q", cfg.LLM.Provider)
	}
}

// NewSearch создаёт сервис поиска. Без ключа Brave возвращаются результаты-заглушки.
func NewSearch(cfg config.AppConfig, searchCache search.Cache, logger zerolog.Logger) *search.Service {
	client := brave.NewClient(cfg.Search.BraveKey, "", 15*time.Second)
	return search.NewService(client, searchCache, search.Config{
		Retries:  cfg.Search.Retries,
		RPS:      cfg.Search.RPS,
		CacheTTL: cfg.Search.CacheTTL,
	}, logger)
}
