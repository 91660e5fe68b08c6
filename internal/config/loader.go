package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	apperr "github.com/edgard/zapbot/internal/errors"
)

// EnvPrefix is the prefix of environment overrides, e.g. ZAPBOT_GEMINI_API_KEY.
const EnvPrefix = "ZAPBOT"

// Load loads and validates configuration from:
// 1. Default values
// 2. the YAML file at path (or ./config.yaml when path is empty)
// 3. ZAPBOT_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	cfg := Default()
	setDefaults(v, cfg)

	if err := readConfig(v, path); err != nil {
		return nil, apperr.NewConfigError("failed to load config file", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperr.NewConfigError("failed to parse config", err)
	}
	fillQueueDefaults(cfg.Queues)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Config file not found is okay, we'll use defaults and env
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it
// during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.json", cfg.Log.JSON)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.api_key", cfg.Server.APIKey)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.max_body_bytes", cfg.Server.MaxBodyBytes)

	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)

	v.SetDefault("gemini.api_key", cfg.Gemini.APIKey)
	v.SetDefault("gemini.model", cfg.Gemini.Model)
	v.SetDefault("gemini.embedding_model", cfg.Gemini.EmbeddingModel)
	v.SetDefault("gemini.temperature", cfg.Gemini.Temperature)
	v.SetDefault("gemini.instruction", cfg.Gemini.Instruction)

	v.SetDefault("gateway.base_url", cfg.Gateway.BaseURL)
	v.SetDefault("gateway.api_key", cfg.Gateway.APIKey)
	v.SetDefault("gateway.instance", cfg.Gateway.Instance)
	v.SetDefault("gateway.operator_chat_id", cfg.Gateway.OperatorChatID)
	v.SetDefault("gateway.rate_limit", cfg.Gateway.RateLimit)
	v.SetDefault("gateway.burst", cfg.Gateway.Burst)
	v.SetDefault("gateway.max_attempts", cfg.Gateway.MaxAttempts)
	v.SetDefault("gateway.retry_delay", cfg.Gateway.RetryDelay)
	v.SetDefault("gateway.max_media_bytes", cfg.Gateway.MaxMediaBytes)
	v.SetDefault("gateway.breaker_failures", cfg.Gateway.BreakerFailures)
	v.SetDefault("gateway.breaker_timeout", cfg.Gateway.BreakerTimeout)

	v.SetDefault("summary.default_period", cfg.Summary.DefaultPeriod)
	v.SetDefault("summary.daily_period", cfg.Summary.DailyPeriod)
	v.SetDefault("summary.min_messages", cfg.Summary.MinMessages)
	v.SetDefault("summary.max_messages", cfg.Summary.MaxMessages)
	v.SetDefault("summary.ttl_ratio", cfg.Summary.TTLRatio)
	v.SetDefault("summary.max_context_tokens", cfg.Summary.MaxContextTokens)
	v.SetDefault("summary.keyword", cfg.Summary.Keyword)

	v.SetDefault("knowledge.top_k", cfg.Knowledge.TopK)
	v.SetDefault("knowledge.cache_size", cfg.Knowledge.CacheSize)
	v.SetDefault("knowledge.chunk_size", cfg.Knowledge.ChunkSize)
	v.SetDefault("knowledge.bootstrap_window", cfg.Knowledge.BootstrapWindow)
	v.SetDefault("knowledge.bootstrap_max_messages", cfg.Knowledge.BootstrapMaxMessages)
	v.SetDefault("knowledge.contact_prefix", cfg.Knowledge.ContactPrefix)

	v.SetDefault("router.command_prefix", cfg.Router.CommandPrefix)
	v.SetDefault("router.thanks_token", cfg.Router.ThanksToken)
	v.SetDefault("router.history_messages", cfg.Router.HistoryMessages)
	v.SetDefault("router.recent_cache_size", cfg.Router.RecentCacheSize)
	v.SetDefault("router.recent_cache_ttl", cfg.Router.RecentCacheTTL)

	v.SetDefault("timeouts.ai", cfg.Timeouts.AI)
	v.SetDefault("timeouts.store", cfg.Timeouts.Store)
	v.SetDefault("timeouts.delivery", cfg.Timeouts.Delivery)
	v.SetDefault("timeouts.cache", cfg.Timeouts.Cache)
}
