package config

import "time"

// Default configuration values.
const (
	DefaultLogLevel = "info"

	DefaultServerAddr   = ":8080"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 2 * time.Minute
	DefaultMaxBodyBytes = 4 << 20

	DefaultDBDriver        = "sqlite"
	DefaultDBDSN           = "storage.db"
	DefaultDBMaxOpenConns  = 1
	DefaultDBConnLifetime  = 5 * time.Minute
	DefaultRedisAddr       = "localhost:6379"
	DefaultGeminiModel     = "gemini-2.0-flash"
	DefaultEmbeddingModel  = "gemini-embedding-001"
	DefaultTemperature     = 0.7
	DefaultGatewayRate     = 5.0
	DefaultGatewayBurst    = 5
	DefaultGatewayAttempts = 3
	DefaultGatewayDelay    = 500 * time.Millisecond
	DefaultMaxMediaBytes   = 20 << 20
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second

	DefaultSummaryPeriod    = "24h"
	DefaultMinMessages      = 5
	DefaultMaxMessages      = 500
	DefaultTTLRatio         = 0.25
	DefaultMaxContextTokens = 30000
	DefaultSummaryKeyword   = "#resumo"

	DefaultTopK                 = 3
	DefaultCorpusCacheSize      = 32
	DefaultChunkSize            = 800
	DefaultBootstrapWindow      = time.Hour
	DefaultBootstrapMaxMessages = 200
	DefaultContactPrefix        = "contato:"

	DefaultCommandPrefix   = "!"
	DefaultThanksToken     = "obrigado"
	DefaultHistoryMessages = 20
	DefaultRecentCacheSize = 200
	DefaultRecentCacheTTL  = 48 * time.Hour

	DefaultAITimeout       = 2 * time.Minute
	DefaultStoreTimeout    = 5 * time.Second
	DefaultDeliveryTimeout = 15 * time.Second
	DefaultCacheTimeout    = 2 * time.Second

	DefaultMessageMaxLength = 4000
)

// DefaultInstruction is the system instruction for conversational replies.
const DefaultInstruction = `Você é um assistente de atendimento no WhatsApp. Responda em português, de forma curta, clara e cordial. Quando não souber a resposta, diga isso honestamente.`

// DefaultMessages holds the user-facing texts used when the config file does
// not override them.
var DefaultMessages = MessagesConfig{
	MaxLength: DefaultMessageMaxLength,
	Help: "Comandos disponíveis:\n" +
		"!!suporte <categoria> - inicia o modo suporte\n" +
		"!!encerrar - encerra o modo suporte\n" +
		"!historico [periodo] - resumo desta conversa\n" +
		"!buscar <categoria> <pergunta> - busca na base de conhecimento\n" +
		"!resumo <grupo> [periodo] - resumo de um grupo\n" +
		"!aprender - cria uma base de conhecimento a partir desta conversa",
	SupportActivated:    "Modo suporte ativado para a categoria %q. Envie sua dúvida. Quando terminar, responda \"obrigado\".",
	SupportUsage:        "Informe a categoria: !!suporte <categoria>",
	SupportFarewell:     "Atendimento encerrado. Até a próxima!",
	NoAnswer:            "Não encontrei uma resposta para sua pergunta.",
	Apology:             "Desculpe, não consegui responder agora. Tente novamente em instantes.",
	CommandFailed:       "Não foi possível executar o comando. Tente novamente mais tarde.",
	SearchUsage:         "Uso: !buscar <categoria> <pergunta>",
	SummaryUsage:        "Uso: !resumo <grupo> [periodo]",
	HistoryUsage:        "Uso: !historico [periodo]. Períodos: 1h, 6h, 24h.",
	SummaryInsufficient: "Ainda não há mensagens suficientes para gerar um resumo.",
	BootstrapDoneFormat: "Base de conhecimento atualizada com %d trechos.",
	BootstrapEmpty:      "Não há mensagens recentes suficientes para criar a base de conhecimento.",
	JobFailedFormat:     "Job %s/%s (%s) falhou após %d tentativas: %s",
	TranscriptFormat:    "Transcrição do áudio:\n%s",
	ImageFormat:         "Descrição da imagem:\n%s",
	VideoFormat:         "Descrição do vídeo:\n%s",
	DocumentFormat:      "Resumo do documento:\n%s",
}

// DefaultQueues holds the per-queue defaults.
var DefaultQueues = map[string]QueueConfig{
	QueueMedia: {
		MaxAttempts:   3,
		Backoff:       "exponential",
		BackoffDelay:  2 * time.Second,
		Timeout:       3 * time.Minute,
		KeepCompleted: 100,
		KeepFailed:    500,
		Concurrency:   map[string]int{"audio": 2, "image": 3, "video": 1, "document": 2, "sticker": 1},
	},
	QueueSummary: {
		MaxAttempts:   2,
		Backoff:       "fixed",
		BackoffDelay:  10 * time.Second,
		Timeout:       3 * time.Minute,
		KeepCompleted: 50,
		KeepFailed:    200,
		Concurrency:   map[string]int{"summary": 2, "knowledge-bootstrap": 1},
	},
	QueueResponse: {
		MaxAttempts:   5,
		Backoff:       "exponential",
		BackoffDelay:  time.Second,
		Timeout:       30 * time.Second,
		KeepCompleted: 200,
		KeepFailed:    500,
		Concurrency:   map[string]int{"send": 4},
	},
}

// Default returns a configuration populated with every default value.
func Default() *Config {
	queues := make(map[string]QueueConfig, len(DefaultQueues))
	for name, q := range DefaultQueues {
		queues[name] = cloneQueue(q)
	}

	return &Config{
		Log: LogConfig{Level: DefaultLogLevel},
		Server: ServerConfig{
			Addr:         DefaultServerAddr,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Database: DatabaseConfig{
			Driver:          DefaultDBDriver,
			DSN:             DefaultDBDSN,
			MaxOpenConns:    DefaultDBMaxOpenConns,
			ConnMaxLifetime: DefaultDBConnLifetime,
		},
		Redis: RedisConfig{Addr: DefaultRedisAddr},
		Gemini: GeminiConfig{
			Model:          DefaultGeminiModel,
			EmbeddingModel: DefaultEmbeddingModel,
			Temperature:    DefaultTemperature,
			Instruction:    DefaultInstruction,
		},
		Gateway: GatewayConfig{
			RateLimit:       DefaultGatewayRate,
			Burst:           DefaultGatewayBurst,
			MaxAttempts:     DefaultGatewayAttempts,
			RetryDelay:      DefaultGatewayDelay,
			MaxMediaBytes:   DefaultMaxMediaBytes,
			BreakerFailures: DefaultBreakerFailures,
			BreakerTimeout:  DefaultBreakerTimeout,
		},
		Queues: queues,
		Summary: SummaryConfig{
			Periods:          map[string]int{"1h": 1, "6h": 6, "24h": 24},
			DefaultPeriod:    DefaultSummaryPeriod,
			DailyPeriod:      DefaultSummaryPeriod,
			MinMessages:      DefaultMinMessages,
			MaxMessages:      DefaultMaxMessages,
			TTLRatio:         DefaultTTLRatio,
			MaxContextTokens: DefaultMaxContextTokens,
			Keyword:          DefaultSummaryKeyword,
		},
		Knowledge: KnowledgeConfig{
			TopK:                 DefaultTopK,
			CacheSize:            DefaultCorpusCacheSize,
			ChunkSize:            DefaultChunkSize,
			BootstrapWindow:      DefaultBootstrapWindow,
			BootstrapMaxMessages: DefaultBootstrapMaxMessages,
			ContactPrefix:        DefaultContactPrefix,
		},
		Router: RouterConfig{
			CommandPrefix:   DefaultCommandPrefix,
			ThanksToken:     DefaultThanksToken,
			HistoryMessages: DefaultHistoryMessages,
			RecentCacheSize: DefaultRecentCacheSize,
			RecentCacheTTL:  DefaultRecentCacheTTL,
		},
		Timeouts: TimeoutsConfig{
			AI:       DefaultAITimeout,
			Store:    DefaultStoreTimeout,
			Delivery: DefaultDeliveryTimeout,
			Cache:    DefaultCacheTimeout,
		},
		Scheduler: SchedulerConfig{
			Tasks: map[string]TaskConfig{
				"sql_maintenance":       {Enabled: true, Schedule: "0 4 * * *"},
				"daily_group_summaries": {Enabled: true, Schedule: "0 22 * * *"},
			},
		},
		Messages: DefaultMessages,
	}
}

func cloneQueue(q QueueConfig) QueueConfig {
	c := q
	c.Concurrency = make(map[string]int, len(q.Concurrency))
	for k, v := range q.Concurrency {
		c.Concurrency[k] = v
	}
	return c
}

// fillQueueDefaults completes queues partially declared in the config file.
func fillQueueDefaults(queues map[string]QueueConfig) {
	for name, q := range queues {
		def, ok := DefaultQueues[name]
		if !ok {
			def = DefaultQueues[QueueResponse]
		}
		if q.MaxAttempts == 0 {
			q.MaxAttempts = def.MaxAttempts
		}
		if q.Backoff == "" {
			q.Backoff = def.Backoff
		}
		if q.BackoffDelay == 0 {
			q.BackoffDelay = def.BackoffDelay
		}
		if q.Timeout == 0 {
			q.Timeout = def.Timeout
		}
		if q.Concurrency == nil {
			q.Concurrency = cloneQueue(def).Concurrency
		}
		queues[name] = q
	}
	for name, def := range DefaultQueues {
		if _, ok := queues[name]; !ok {
			queues[name] = cloneQueue(def)
		}
	}
}
