// Package config provides configuration loading, validation, and management
// for zapbot. It reads a YAML file, applies ZAPBOT_* environment overrides,
// fills defaults and validates the result.
package config

import "time"

// Queue names used across the router, job handlers and scheduler.
const (
	QueueMedia    = "media-processing"
	QueueSummary  = "summary-generation"
	QueueResponse = "response-dispatch"
)

// Config defines the application configuration for every component.
type Config struct {
	Log       LogConfig              `mapstructure:"log"`
	Server    ServerConfig           `mapstructure:"server"`
	Database  DatabaseConfig         `mapstructure:"database"`
	Redis     RedisConfig            `mapstructure:"redis"`
	Gemini    GeminiConfig           `mapstructure:"gemini"`
	Gateway   GatewayConfig          `mapstructure:"gateway"`
	Queues    map[string]QueueConfig `mapstructure:"queues"    validate:"required,dive"`
	Summary   SummaryConfig          `mapstructure:"summary"`
	Knowledge KnowledgeConfig        `mapstructure:"knowledge"`
	Router    RouterConfig           `mapstructure:"router"`
	Timeouts  TimeoutsConfig         `mapstructure:"timeouts"`
	Scheduler SchedulerConfig        `mapstructure:"scheduler"`
	Messages  MessagesConfig         `mapstructure:"messages"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"          validate:"required"`
	APIKey       string        `mapstructure:"api_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
}

// DatabaseConfig selects the relational backend. Driver "sqlite" uses a file
// path (or ":memory:") as DSN, driver "pgx" a PostgreSQL connection string.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"            validate:"oneof=sqlite pgx"`
	DSN             string        `mapstructure:"dsn"               validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// RedisConfig enables the shared summary cache. When disabled an in-process
// cache is used instead.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"     validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       validate:"gte=0"`
}

type GeminiConfig struct {
	APIKey         string  `mapstructure:"api_key"         validate:"required"`
	Model          string  `mapstructure:"model"           validate:"required"`
	EmbeddingModel string  `mapstructure:"embedding_model" validate:"required"`
	Temperature    float32 `mapstructure:"temperature"     validate:"gte=0,lte=2"`
	Instruction    string  `mapstructure:"instruction"     validate:"required"`
}

type GatewayConfig struct {
	BaseURL         string        `mapstructure:"base_url"         validate:"required,url"`
	APIKey          string        `mapstructure:"api_key"          validate:"required"`
	Instance        string        `mapstructure:"instance"         validate:"required"`
	OperatorChatID  string        `mapstructure:"operator_chat_id"`
	RateLimit       float64       `mapstructure:"rate_limit"       validate:"gt=0"`
	Burst           int           `mapstructure:"burst"            validate:"gte=1"`
	MaxAttempts     int           `mapstructure:"max_attempts"     validate:"gte=1,lte=10"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"      validate:"gt=0"`
	MaxMediaBytes   int64         `mapstructure:"max_media_bytes"  validate:"gt=0"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"  validate:"gt=0"`
}

// QueueConfig holds the defaults of one named queue. Concurrency maps a job
// type to its worker count; types not listed get one worker.
type QueueConfig struct {
	MaxAttempts   int            `mapstructure:"max_attempts"   validate:"gte=1"`
	Backoff       string         `mapstructure:"backoff"        validate:"oneof=fixed exponential"`
	BackoffDelay  time.Duration  `mapstructure:"backoff_delay"  validate:"gt=0"`
	Timeout       time.Duration  `mapstructure:"timeout"        validate:"gt=0"`
	KeepCompleted int            `mapstructure:"keep_completed" validate:"gte=0"`
	KeepFailed    int            `mapstructure:"keep_failed"    validate:"gte=0"`
	Concurrency   map[string]int `mapstructure:"concurrency"    validate:"dive,gte=1"`
}

// SummaryConfig maps period names to lookback windows in hours.
type SummaryConfig struct {
	Periods          map[string]int `mapstructure:"periods"            validate:"required,dive,gt=0"`
	DefaultPeriod    string         `mapstructure:"default_period"     validate:"required"`
	DailyPeriod      string         `mapstructure:"daily_period"       validate:"required"`
	MinMessages      int            `mapstructure:"min_messages"       validate:"gte=1"`
	MaxMessages      int            `mapstructure:"max_messages"       validate:"gtefield=MinMessages"`
	TTLRatio         float64        `mapstructure:"ttl_ratio"          validate:"gt=0,lte=1"`
	MaxContextTokens int            `mapstructure:"max_context_tokens" validate:"gte=1000"`
	Keyword          string         `mapstructure:"keyword"`
}

type KnowledgeConfig struct {
	TopK                 int           `mapstructure:"top_k"                  validate:"gte=1"`
	CacheSize            int           `mapstructure:"cache_size"             validate:"gte=1"`
	ChunkSize            int           `mapstructure:"chunk_size"             validate:"gte=100"`
	BootstrapWindow      time.Duration `mapstructure:"bootstrap_window"       validate:"gt=0"`
	BootstrapMaxMessages int           `mapstructure:"bootstrap_max_messages" validate:"gte=1"`
	ContactPrefix        string        `mapstructure:"contact_prefix"         validate:"required"`
}

type RouterConfig struct {
	CommandPrefix   string        `mapstructure:"command_prefix"    validate:"required"`
	ThanksToken     string        `mapstructure:"thanks_token"      validate:"required"`
	HistoryMessages int           `mapstructure:"history_messages"  validate:"gte=0"`
	RecentCacheSize int           `mapstructure:"recent_cache_size" validate:"gte=1"`
	RecentCacheTTL  time.Duration `mapstructure:"recent_cache_ttl"  validate:"gt=0"`
}

// TimeoutsConfig bounds every external call.
type TimeoutsConfig struct {
	AI       time.Duration `mapstructure:"ai"       validate:"gt=0"`
	Store    time.Duration `mapstructure:"store"    validate:"gt=0"`
	Delivery time.Duration `mapstructure:"delivery" validate:"gt=0"`
	Cache    time.Duration `mapstructure:"cache"    validate:"gt=0"`
}

type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MessagesConfig holds every user-facing text. Fields ending in "Format" are
// fmt templates.
type MessagesConfig struct {
	MaxLength           int    `mapstructure:"max_length"            validate:"gte=100"`
	Help                string `mapstructure:"help"                  validate:"required"`
	SupportActivated    string `mapstructure:"support_activated"     validate:"required"`
	SupportUsage        string `mapstructure:"support_usage"         validate:"required"`
	SupportFarewell     string `mapstructure:"support_farewell"      validate:"required"`
	NoAnswer            string `mapstructure:"no_answer"             validate:"required"`
	Apology             string `mapstructure:"apology"               validate:"required"`
	CommandFailed       string `mapstructure:"command_failed"        validate:"required"`
	SearchUsage         string `mapstructure:"search_usage"          validate:"required"`
	SummaryUsage        string `mapstructure:"summary_usage"         validate:"required"`
	HistoryUsage        string `mapstructure:"history_usage"         validate:"required"`
	SummaryInsufficient string `mapstructure:"summary_insufficient"  validate:"required"`
	BootstrapDoneFormat string `mapstructure:"bootstrap_done_format" validate:"required"`
	BootstrapEmpty      string `mapstructure:"bootstrap_empty"       validate:"required"`
	JobFailedFormat     string `mapstructure:"job_failed_format"     validate:"required"`
	TranscriptFormat    string `mapstructure:"transcript_format"     validate:"required"`
	ImageFormat         string `mapstructure:"image_format"          validate:"required"`
	VideoFormat         string `mapstructure:"video_format"          validate:"required"`
	DocumentFormat      string `mapstructure:"document_format"       validate:"required"`
}

// Period returns the window of a named summary period.
func (c SummaryConfig) Period(name string) (time.Duration, bool) {
	hours, ok := c.Periods[name]
	if !ok {
		return 0, false
	}
	return time.Duration(hours) * time.Hour, true
}
