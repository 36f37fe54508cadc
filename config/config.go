package config

import (
	"errors"
	"fmt"
	"time"
)

// Config 在启动时加载一次，由各流水线构造函数按值持有，
// 运行期间不再读取任何全局状态。
type Config struct {
	Executor    ExecutorConfig    `yaml:"executor" env:"EXECUTOR"`
	Revision    RevisionConfig    `yaml:"revision" env:"REVISION"`
	Extraction  ExtractionConfig  `yaml:"extraction" env:"EXTRACTION"`
	Publication PublicationConfig `yaml:"publication" env:"PUBLICATION"`

	LLM    LLMConfig    `yaml:"llm" env:"LLM"`
	NER    NERConfig    `yaml:"ner" env:"NER"`
	Search SearchConfig `yaml:"search" env:"SEARCH"`

	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
}

// ExecutorConfig 图执行器。超过 MaxSteps 返回 ExecutionLimitExceeded；
// NodeTimeout 与 Concurrency 为 0 表示不限制。
type ExecutorConfig struct {
	MaxSteps            int           `yaml:"max_steps" env:"MAX_STEPS"`
	NodeTimeout         time.Duration `yaml:"node_timeout" env:"NODE_TIMEOUT"`
	Concurrency         int           `yaml:"concurrency" env:"CONCURRENCY"`
	RetryMaxAttempts    int           `yaml:"retry_max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff" env:"RETRY_INITIAL_BACKOFF"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff" env:"RETRY_MAX_BACKOFF"`
}

type RevisionConfig struct {
	// 达到后强制通过
	MaxRounds int `yaml:"max_rounds" env:"MAX_ROUNDS"`
}

type ExtractionConfig struct {
	EntityTypes []string `yaml:"entity_types" env:"ENTITY_TYPES"`
	MaxEntities int      `yaml:"max_entities" env:"MAX_ENTITIES"`
	// 分块大小与重叠，按字符计
	ChunkSize    int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 每次 LLM 调用携带的实体类型数
	EntityBatchSize int `yaml:"entity_batch_size" env:"ENTITY_BATCH_SIZE"`
	// 0 表示 CPU-2
	Workers int `yaml:"workers" env:"WORKERS"`
	// YAML 词典，名称 → 类型
	GazetteerPath  string `yaml:"gazetteer_path" env:"GAZETTEER_PATH"`
	DefinitionPath string `yaml:"definition_path" env:"DEFINITION_PATH"`
}

type PublicationConfig struct {
	MaxTLDR         int      `yaml:"max_tldr" env:"MAX_TLDR"`
	MaxTitles       int      `yaml:"max_titles" env:"MAX_TITLES"`
	MaxQueries      int      `yaml:"max_queries" env:"MAX_QUERIES"`
	ResultsPerQuery int      `yaml:"results_per_query" env:"RESULTS_PER_QUERY"`
	MaxPages        int      `yaml:"max_pages" env:"MAX_PAGES"`
	TagEntityTypes  []string `yaml:"tag_entity_types" env:"TAG_ENTITY_TYPES"`
	// Manager 看到的稿件预览长度
	PreviewChars   int    `yaml:"preview_chars" env:"PREVIEW_CHARS"`
	DefinitionPath string `yaml:"definition_path" env:"DEFINITION_PATH"`
}

// LLMConfig OpenAI 兼容接口。CacheTTL 仅在启用 Redis 时生效。
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	Model       string        `yaml:"model" env:"MODEL"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CacheTTL    time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

type NERConfig struct {
	Endpoint       string        `yaml:"endpoint" env:"ENDPOINT"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ExcludedLabels []string      `yaml:"excluded_labels" env:"EXCLUDED_LABELS"`
}

// SearchConfig Tavily 兼容接口
type SearchConfig struct {
	Endpoint     string        `yaml:"endpoint" env:"ENDPOINT"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RateLimit    float64       `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst        int           `yaml:"burst" env:"BURST"`
	MaxPageBytes int64         `yaml:"max_page_bytes" env:"MAX_PAGE_BYTES"`
}

type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 运行日志存储。Driver 取 postgres、mysql 或 sqlite，
// sqlite 时 Name 为文件路径。
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN gorm 驱动使用的连接串；未知驱动返回空串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	}
	return ""
}

type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json 或 console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// otlp 或 stdout
	Exporter string `yaml:"exporter" env:"EXPORTER"`
	// 仅对 otlp 生效
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 为空则不单独暴露 /metrics
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// ServerConfig HTTP API。APIKeys 为空时不校验 API Key；
// TLS 证书与私钥都配置时启用 HTTPS。
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 需覆盖一次完整的发布流水线
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	APIKeys          []string `yaml:"api_keys" env:"API_KEYS"`
	AllowQueryAPIKey bool     `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	JWT              JWTConfig `yaml:"jwt" env:"JWT"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 按客户端计
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// JWTConfig Secret 用于 HS256，PublicKey（PEM）用于 RS256
type JWTConfig struct {
	Secret    string `yaml:"secret" env:"SECRET"`
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 配置了任意验证密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// Validate 一次报告所有不合法的字段
func (c *Config) Validate() error {
	var errs []error
	fail := func(cond bool, format string, args ...any) {
		if cond {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	fail(c.Executor.MaxSteps <= 0, "executor.max_steps must be positive")
	fail(c.Executor.Concurrency < 0, "executor.concurrency cannot be negative")
	fail(c.Executor.RetryMaxAttempts < 1, "executor.retry_max_attempts must be at least 1")
	fail(c.Revision.MaxRounds < 1, "revision.max_rounds must be at least 1")

	ex := c.Extraction
	fail(ex.MaxEntities <= 0, "extraction.max_entities must be positive")
	fail(ex.ChunkSize <= 0, "extraction.chunk_size must be positive")
	fail(ex.ChunkOverlap < 0 || ex.ChunkOverlap >= ex.ChunkSize, "extraction.chunk_overlap must be in [0, chunk_size)")
	fail(ex.EntityBatchSize <= 0, "extraction.entity_batch_size must be positive")

	fail(c.LLM.Temperature < 0 || c.LLM.Temperature > 2, "llm.temperature must be between 0 and 2")
	fail(c.Search.RateLimit < 0, "search.rate_limit cannot be negative")
	fail(c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535, "server.http_port must be between 1 and 65535")
	fail(c.Server.RateLimitRPS < 0, "server.rate_limit_rps cannot be negative")
	fail(c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1, "telemetry.sample_rate must be between 0 and 1")

	switch c.Telemetry.Exporter {
	case "", "otlp", "stdout":
	default:
		fail(true, "unsupported telemetry exporter %q", c.Telemetry.Exporter)
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		fail(true, "unsupported database driver %q", c.Database.Driver)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
