package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	AppURL      string `envconfig:"NEXT_PUBLIC_APP_URL" default:"http://localhost:3000"`

	LLM struct {
		Provider       string        `envconfig:"LLM_PROVIDER" default:"anthropic"`
		Timeout        time.Duration `envconfig:"LLM_TIMEOUT" default:"180s"`
		AnthropicKey   string        `envconfig:"ANTHROPIC_API_KEY"`
		AnthropicModel string        `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`
		OpenAIKey      string        `envconfig:"OPENAI_API_KEY"`
		OpenAIBaseURL  string        `envconfig:"OPENAI_BASE_URL"`
		OpenAIModel    string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
	} `envconfig:""`

	Search struct {
		BraveKey string        `envconfig:"BRAVE_SEARCH_API_KEY"`
		Retries  int           `envconfig:"SEARCH_RETRIES" default:"2"`
		RPS      float64       `envconfig:"SEARCH_RPS" default:"1"`
		CacheTTL time.Duration `envconfig:"SEARCH_CACHE_TTL" default:"6h"`
	} `envconfig:""`

	Supabase struct {
		URL            string `envconfig:"NEXT_PUBLIC_SUPABASE_URL"`
		ServiceRoleKey string `envconfig:"SUPABASE_SERVICE_ROLE_KEY"`
		JWTSecret      string `envconfig:"SUPABASE_JWT_SECRET"`
		DevHeader      bool   `envconfig:"AUTH_DEV_HEADER" default:"false"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Presentation string `envconfig:"PRESENTATION_QUEUE" default:"presentation_jobs"`
	} `envconfig:""`

	Jobs struct {
		MaxAttempts int           `envconfig:"MAX_JOB_ATTEMPTS" default:"3"`
		StaleAfter  time.Duration `envconfig:"STALE_AFTER" default:"10m"`
		Concurrency int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	} `envconfig:""`
}

// StoreBackend возвращает выбранное хранилище.
func (c AppConfig) StoreBackend() string {
	if c.PGDSN != "" {
		return "postgres"
	}
	return "memory"
}

// AllowDevHeader разрешает X-User-ID без проверки сессии. Нужны APP_ENV=dev и явный AUTH_DEV_HEADER=true.
func (c AppConfig) AllowDevHeader() bool {
	return c.AppEnv == "dev" && c.Supabase.DevHeader
}

// QueueBackend возвращает выбранную очередь задач.
func (c AppConfig) QueueBackend() string {
	switch {
	case c.RabbitURL != "":
		return "rabbitmq"
	case c.RedisAddr != "":
		return "redis"
	default:
		return "memory"
	}
}

// Load загружает конфиг из окружения. В dev дополнительно читается .env.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
