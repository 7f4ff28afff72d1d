package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/lessonlab/internal/cache"
	"github.com/davidbz/lessonlab/internal/domain"
	"github.com/davidbz/lessonlab/internal/observability"
	"github.com/davidbz/lessonlab/internal/provider/openai"
	"github.com/davidbz/lessonlab/internal/retry"
	"github.com/davidbz/lessonlab/internal/session"
)

// Config represents the service configuration.
type Config struct {
	Server   ServerConfig
	CORS     CORSConfig
	Provider ProviderConfig
	Chat     ChatConfig
	OpenAI   openai.Config
	Retry    retry.Policy
	Cache    cache.Config
	Redis    RedisConfig
	Session  session.Config
	Log      observability.LogConfig
}

// ServerConfig contains HTTP server settings. WriteTimeout stays zero by
// default so streamed replies are not cut off.
type ServerConfig struct {
	Port            int           `env:"SERVER_PORT"             envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT"     envDefault:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT"    envDefault:"0s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization,X-Session-Id,X-API-Provider,X-API-Base-URL,X-API-Model"`
	ExposedHeaders   []string `env:"CORS_EXPOSED_HEADERS"   envSeparator:"," envDefault:"X-Session-Id,X-Request-Id,X-Trace-Id"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// ProviderConfig is the server-side default endpoint, used for requests that
// bring no credentials of their own.
type ProviderConfig struct {
	Provider    string `env:"API_PROVIDER"     envDefault:"deepseek"`
	BaseURL     string `env:"API_BASE_URL"`
	APIKey      string `env:"API_KEY"`
	FallbackKey string `env:"DEEPSEEK_API_KEY"`
	Model       string `env:"API_MODEL"`
	Backend     string `env:"API_BACKEND"      envDefault:"http"`
}

// APIConfig returns the default endpoint with preset values filled in.
func (p *ProviderConfig) APIConfig() domain.APIConfig {
	key := p.APIKey
	if key == "" {
		key = p.FallbackKey
	}

	return openai.WithPreset(domain.APIConfig{
		Provider: p.Provider,
		BaseURL:  p.BaseURL,
		APIKey:   key,
		Model:    p.Model,
	})
}

// ChatConfig contains transport client settings.
type ChatConfig struct {
	RequestTimeout time.Duration `env:"CHAT_REQUEST_TIMEOUT" envDefault:"0s"`
}

// RedisConfig contains the connection used by the redis cache backend and the
// session store.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR"       envDefault:"localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB"         envDefault:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"lessonlab"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out

	Server   *ServerConfig
	CORS     *CORSConfig
	Provider *ProviderConfig
	Chat     *ChatConfig
	OpenAI   *openai.Config
	Retry    *retry.Policy
	Cache    *cache.Config
	Redis    *RedisConfig
	Session  *session.Config
	Log      *observability.LogConfig
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		Server:   &cfg.Server,
		CORS:     &cfg.CORS,
		Provider: &cfg.Provider,
		Chat:     &cfg.Chat,
		OpenAI:   &cfg.OpenAI,
		Retry:    &cfg.Retry,
		Cache:    &cfg.Cache,
		Redis:    &cfg.Redis,
		Session:  &cfg.Session,
		Log:      &cfg.Log,
	}
}
