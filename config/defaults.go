package config

import "time"

// DefaultConfig 未经任何文件或环境变量覆盖的配置，可以直接通过 Validate。
// 每次调用返回新的实例，切片字段互不共享。
func DefaultConfig() *Config {
	return &Config{
		Executor: ExecutorConfig{
			MaxSteps:            25,
			NodeTimeout:         5 * time.Minute,
			RetryMaxAttempts:    1,
			RetryInitialBackoff: 500 * time.Millisecond,
			RetryMaxBackoff:     10 * time.Second,
		},
		Revision: RevisionConfig{MaxRounds: 2},
		Extraction: ExtractionConfig{
			EntityTypes:     []string{"Person", "Organization", "Location", "Framework", "Model", "Dataset"},
			MaxEntities:     5,
			ChunkSize:       4024,
			ChunkOverlap:    256,
			EntityBatchSize: 10,
		},
		Publication: PublicationConfig{
			MaxTLDR:         3,
			MaxTitles:       3,
			MaxQueries:      5,
			ResultsPerQuery: 3,
			MaxPages:        20,
			TagEntityTypes:  []string{"Framework", "Model", "Dataset"},
			PreviewChars:    500,
		},

		LLM: LLMConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 2048,
			Timeout:   2 * time.Minute,
			CacheTTL:  24 * time.Hour,
		},
		NER: NERConfig{
			Endpoint:       "http://localhost:8090/ner",
			Timeout:        30 * time.Second,
			ExcludedLabels: []string{"DATE", "CARDINAL"},
		},
		Search: SearchConfig{
			Endpoint:     "https://api.tavily.com/search",
			Timeout:      30 * time.Second,
			RateLimit:    2,
			Burst:        4,
			MaxPageBytes: 2 << 20,
		},

		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 10, MinIdleConns: 2},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Host:            "localhost",
			Port:            5432,
			User:            "graphflow",
			Name:            "graphflow.db",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},

		Log: LogConfig{Level: "info", Format: "json", OutputPaths: []string{"stderr"}, EnableCaller: true},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "graphflow",
			SampleRate:   0.1,
			Exporter:     "otlp",
			Insecure:     true,
		},
		Metrics: MetricsConfig{Namespace: "graphflow"},
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    5,
			RateLimitBurst:  10,
		},
	}
}
