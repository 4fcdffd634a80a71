package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Режимы провайдеров
const (
	ProviderModeLive      = "live"
	ProviderModeSimulated = "simulated"
	ProviderModeAuto      = "auto"
)

// Config содержит конфигурацию сервиса генерации историй
type Config struct {
	// Сервер
	Port        string `envconfig:"PORT" default:"8080"`
	Env         string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	CORSOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	MaxUploadMB int64  `envconfig:"MAX_UPLOAD_MB" default:"10"`

	// Хранилище документов: postgres, sqlite или memory
	StoreDriver   string        `envconfig:"STORE_DRIVER" default:"postgres"`
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBName        string        `envconfig:"DB_NAME" default:"storytime"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"storytime.db"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string `ignored:"true"`

	// Redis для блокировок прогонов. Пустой URL - блокировки в памяти процесса.
	RedisURL      string        `envconfig:"REDIS_URL"`
	// LockTTL - срок аренды без продления. Живой прогон продлевает ее сам,
	// так что это время восстановления после падения реплики.
	LockTTL       time.Duration `envconfig:"LOCK_TTL" default:"2m"`
	LockKeyPrefix string        `envconfig:"LOCK_KEY_PREFIX" default:"storytime:run:"`

	// RabbitMQ для событий статуса. Пустой URL - события идут только в WebSocket подписчикам.
	RabbitMQURL        string `envconfig:"RABBITMQ_URL"`
	StatusExchange     string `envconfig:"STATUS_EXCHANGE" default:"story_status"`
	StatusStreamBuffer int    `envconfig:"STATUS_STREAM_BUFFER" default:"16"`

	// Объектное хранилище: gcs или local
	StorageDriver      string `envconfig:"STORAGE_DRIVER" default:"local"`
	GCSBucket          string `envconfig:"GCS_BUCKET"`
	GCSCredentialsFile string `envconfig:"GCS_CREDENTIALS_FILE"`
	GCSPublicBaseURL   string `envconfig:"GCS_PUBLIC_BASE_URL"`
	LocalSavePath      string `envconfig:"LOCAL_SAVE_PATH" default:"./media"`
	PublicBaseURL      string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080/media"`

	// Провайдеры AI
	ProviderMode     string        `envconfig:"PROVIDER_MODE" default:"auto"`
	TextBackend      string        `envconfig:"TEXT_BACKEND" default:"openai"`
	ImageBackend     string        `envconfig:"IMAGE_BACKEND" default:"openai"`
	AIBaseURL        string        `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	AITextModel      string        `envconfig:"AI_TEXT_MODEL" default:"gpt-4o-mini"`
	AIVisionModel    string        `envconfig:"AI_VISION_MODEL" default:"gpt-4o-mini"`
	AITTSModel       string        `envconfig:"AI_TTS_MODEL" default:"tts-1"`
	AITTSVoice       string        `envconfig:"AI_TTS_VOICE" default:"nova"`
	AIImageModel     string        `envconfig:"AI_IMAGE_MODEL" default:"dall-e-3"`
	OllamaBaseURL    string        `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	OllamaModel      string        `envconfig:"OLLAMA_MODEL" default:"llama3.1"`
	SanaBaseURL      string        `envconfig:"SANA_BASE_URL" default:"http://localhost:8000"`
	AITimeout        time.Duration `envconfig:"AI_TIMEOUT" default:"120s"`
	AITemperature    float32       `envconfig:"AI_TEMPERATURE" default:"0.8"`
	AIMaxAttempts    int           `envconfig:"AI_MAX_ATTEMPTS" default:"3"`
	AIBaseRetryDelay time.Duration `envconfig:"AI_BASE_RETRY_DELAY" default:"1s"`
	AIMaxRetryDelay  time.Duration `envconfig:"AI_MAX_RETRY_DELAY" default:"30s"`
	// Секретное поле БЕЗ envconfig тега
	AIAPIKey string `ignored:"true"`

	// Конвейер
	MaxCharacters              int           `envconfig:"MAX_CHARACTERS" default:"5"`
	MaxPromptLength            int           `envconfig:"MAX_PROMPT_LENGTH" default:"1000"`
	IllustrationCount          int           `envconfig:"ILLUSTRATION_COUNT" default:"3"`
	PlaceholderIllustrationURL string        `envconfig:"PLACEHOLDER_ILLUSTRATION_URL" default:"https://storage.googleapis.com/storytime-static/placeholder.png"`
	MaxConcurrentRuns          int           `envconfig:"MAX_CONCURRENT_RUNS" default:"20"`
	ShutdownTimeout            time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"60s"`
	SafetyExtraTerms           []string      `envconfig:"SAFETY_EXTRA_TERMS"`
	// Фоновая музыка по жанрам: adventure=https://...,bedtime=https://...
	BackgroundMusic map[string]string `envconfig:"BACKGROUND_MUSIC"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// UseSimulatedProviders сообщает, нужно ли использовать симулированные провайдеры.
// В режиме auto симуляция включается при отсутствии ключа API.
func (c *Config) UseSimulatedProviders() bool {
	switch strings.ToLower(c.ProviderMode) {
	case ProviderModeSimulated:
		return true
	case ProviderModeLive:
		return false
	default:
		return c.AIAPIKey == ""
	}
}

// LoadConfig загружает конфигурацию из .env, переменных окружения и секретов
func LoadConfig() (*Config, error) {
	// .env необязателен, в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	var err error
	if cfg.AIAPIKey, err = readSecretOrEnv("ai_api_key", "AI_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = readSecretOrEnv("db_password", "DB_PASSWORD"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.StorageDriver {
	case "local":
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required for STORAGE_DRIVER=gcs")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch strings.ToLower(c.ProviderMode) {
	case ProviderModeLive:
		// речь и зрение есть только у OpenAI, поэтому ключ нужен даже с Ollama
		if c.AIAPIKey == "" {
			return fmt.Errorf("PROVIDER_MODE=live requires ai_api_key")
		}
	case ProviderModeSimulated, ProviderModeAuto:
	default:
		return fmt.Errorf("unknown PROVIDER_MODE %q", c.ProviderMode)
	}
	if c.AIMaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxCharacters < 0 || c.IllustrationCount < 0 {
		return fmt.Errorf("MAX_CHARACTERS and ILLUSTRATION_COUNT must not be negative")
	}
	return nil
}

// LogSummary логирует загруженную конфигурацию без секретов.
func (c *Config) LogSummary(logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("env", c.Env),
		zap.String("port", c.Port),
		zap.String("store_driver", c.StoreDriver),
		zap.String("storage_driver", c.StorageDriver),
		zap.String("provider_mode", c.ProviderMode),
		zap.Bool("simulated_providers", c.UseSimulatedProviders()),
		zap.String("text_backend", c.TextBackend),
		zap.String("image_backend", c.ImageBackend),
		zap.String("text_model", c.AITextModel),
		zap.Duration("ai_timeout", c.AITimeout),
		zap.Int("ai_max_attempts", c.AIMaxAttempts),
		zap.Duration("ai_base_retry_delay", c.AIBaseRetryDelay),
		zap.Bool("redis_locks", c.RedisURL != ""),
		zap.Bool("status_events", c.RabbitMQURL != ""),
		zap.Int("max_concurrent_runs", c.MaxConcurrentRuns),
	}
	if c.StoreDriver == "postgres" {
		fields = append(fields, zap.String("db_dsn", c.getMaskedDSN()))
	}
	logger.Info("Configuration loaded", fields...)
}

// getMaskedDSN возвращает DSN с замаскированным паролем для логирования
func (c *Config) getMaskedDSN() string {
	dsn := c.GetDSN()
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return "[invalid dsn format]"
	}
	userInfo := dsn[:at]
	if colon := strings.LastIndex(userInfo, ":"); colon > len("postgres:") {
		userInfo = userInfo[:colon+1] + "********"
	}
	return userInfo + dsn[at:]
}
