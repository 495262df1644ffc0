package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service    ServiceConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Engine     EngineConfig
	Adapters   AdapterConfig
	Credential CredentialConfig
	OAuth2     OAuth2Config
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds workflow execution engine settings
type EngineConfig struct {
	MaxWorkflowTimeout      time.Duration
	DefaultNodeTimeout      time.Duration
	MaxConcurrentExecutions int
	MaxConcurrentNodeTasks  int
	CancelGracePeriod       time.Duration
}

// AdapterConfig holds tool adapter settings
type AdapterConfig struct {
	RetryMaxAttempts       int
	RetryBackoff           []time.Duration
	ConnectTimeout         time.Duration
	ReadTimeout            time.Duration
	MaxResponseBytes       int64
	PerUserConcurrency     int
	PerUserWaitQueueLength int
}

// CredentialConfig holds credential store settings
type CredentialConfig struct {
	EncryptionSecret string
}

// OAuth2Config holds OAuth2 handler settings. CallbackURL is the public
// address of the gateway callback endpoint, registered with each provider.
type OAuth2Config struct {
	StateTTL    time.Duration
	CallbackURL string
	Providers   map[string]ProviderConfig
}

// ProviderConfig holds a single OAuth2 provider's endpoints and client
type ProviderConfig struct {
	ClientID      string
	ClientSecret  string
	AuthorizeURL  string
	TokenURL      string
	DefaultScopes []string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "orchestrator"),
			User:        getEnv("POSTGRES_USER", "orchestrator"),
			Password:    getEnv("POSTGRES_PASSWORD", "orchestrator"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			MaxWorkflowTimeout:      getEnvSeconds("MAX_WORKFLOW_TIMEOUT_SECONDS", 300),
			DefaultNodeTimeout:      getEnvSeconds("DEFAULT_NODE_TIMEOUT_SECONDS", 30),
			MaxConcurrentExecutions: getEnvInt("MAX_CONCURRENT_EXECUTIONS", 100),
			MaxConcurrentNodeTasks:  getEnvInt("MAX_CONCURRENT_NODE_TASKS", 1000),
			CancelGracePeriod:       getEnvSeconds("CANCEL_GRACE_PERIOD_SECONDS", 2),
		},
		Adapters: AdapterConfig{
			RetryMaxAttempts:       getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBackoff:           getEnvBackoff("RETRY_BACKOFF_SECONDS", []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}),
			ConnectTimeout:         getEnvSeconds("HTTP_CONNECT_TIMEOUT_SECONDS", 5),
			ReadTimeout:            getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", 30),
			MaxResponseBytes:       int64(getEnvInt("HTTP_MAX_RESPONSE_BYTES", 10485760)),
			PerUserConcurrency:     getEnvInt("PER_USER_ADAPTER_CONCURRENCY", 10),
			PerUserWaitQueueLength: getEnvInt("PER_USER_ADAPTER_WAIT_QUEUE", 50),
		},
		Credential: CredentialConfig{
			EncryptionSecret: getEnv("CREDENTIAL_ENCRYPTION_SECRET", ""),
		},
		OAuth2: OAuth2Config{
			StateTTL:    getEnvSeconds("OAUTH2_STATE_TTL_SECONDS", 1800),
			CallbackURL: getEnv("OAUTH2_CALLBACK_URL", ""),
			Providers:   loadProviders(),
		},
	}

	return cfg, cfg.Validate()
}

// loadProviders reads the closed provider set from environment variables.
// Providers without a client id are left unconfigured and rejected at use.
func loadProviders() map[string]ProviderConfig {
	providers := make(map[string]ProviderConfig)

	defaults := map[string]ProviderConfig{
		"google_calendar": {
			AuthorizeURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:      "https://oauth2.googleapis.com/token",
			DefaultScopes: []string{"https://www.googleapis.com/auth/calendar"},
		},
		"github": {
			AuthorizeURL:  "https://github.com/login/oauth/authorize",
			TokenURL:      "https://github.com/login/oauth/access_token",
			DefaultScopes: []string{"repo", "read:user"},
		},
		"slack": {
			AuthorizeURL:  "https://slack.com/oauth/v2/authorize",
			TokenURL:      "https://slack.com/api/oauth.v2.access",
			DefaultScopes: []string{"chat:write", "channels:read"},
		},
	}

	for name, def := range defaults {
		prefix := "PROVIDER_" + strings.ToUpper(name) + "_"
		providers[name] = ProviderConfig{
			ClientID:      getEnv(prefix+"CLIENT_ID", ""),
			ClientSecret:  getEnv(prefix+"CLIENT_SECRET", ""),
			AuthorizeURL:  getEnv(prefix+"AUTHORIZE_URL", def.AuthorizeURL),
			TokenURL:      getEnv(prefix+"TOKEN_URL", def.TokenURL),
			DefaultScopes: getEnvSlice(prefix+"DEFAULT_SCOPES", def.DefaultScopes),
		}
	}

	return providers
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.MaxConcurrentExecutions < 1 {
		return fmt.Errorf("max_concurrent_executions must be >= 1")
	}

	if c.Engine.MaxConcurrentNodeTasks < c.Engine.MaxConcurrentExecutions {
		return fmt.Errorf("max_concurrent_node_tasks must be >= max_concurrent_executions")
	}

	if c.Adapters.RetryMaxAttempts < 0 {
		return fmt.Errorf("retry_max_attempts must be >= 0")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvSeconds reads a plain integer number of seconds
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

// getEnvBackoff parses a comma-separated list of seconds, e.g. "2,4,8"
func getEnvBackoff(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []time.Duration
	for _, p := range strings.Split(value, ",") {
		secs, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		out = append(out, time.Duration(secs)*time.Second)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
