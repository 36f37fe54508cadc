package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证执行器默认值
	assert.Equal(t, 25, cfg.Executor.MaxSteps)
	assert.Equal(t, 1, cfg.Executor.RetryMaxAttempts)
	assert.Equal(t, 2, cfg.Revision.MaxRounds)

	// 验证抽取默认值
	assert.Equal(t, 5, cfg.Extraction.MaxEntities)
	assert.Equal(t, 4024, cfg.Extraction.ChunkSize)
	assert.Equal(t, 256, cfg.Extraction.ChunkOverlap)
	assert.Equal(t, 10, cfg.Extraction.EntityBatchSize)

	// 验证发布信息默认值
	assert.Equal(t, 3, cfg.Publication.MaxTLDR)
	assert.Equal(t, 3, cfg.Publication.MaxTitles)
	assert.Equal(t, []string{"Framework", "Model", "Dataset"}, cfg.Publication.TagEntityTypes)

	assert.Equal(t, []string{"DATE", "CARDINAL"}, cfg.NER.ExcludedLabels)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"stderr"}, cfg.Log.OutputPaths)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "graphflow", cfg.Metrics.Namespace)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.False(t, cfg.Server.JWT.Enabled())

	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 25, cfg.Executor.MaxSteps)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "graphflow.yaml")

	yamlContent := `
executor:
  max_steps: 40
  node_timeout: 90s
  concurrency: 4

revision:
  max_rounds: 3

extraction:
  entity_types: [Model, Dataset]
  max_entities: 8
  gazetteer_path: /etc/graphflow/gazetteer.yaml

llm:
  model: "local-model"
  base_url: "http://localhost:11434/v1"

redis:
  enabled: true
  addr: "redis.example.com:6379"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 40, cfg.Executor.MaxSteps)
	assert.Equal(t, 90*time.Second, cfg.Executor.NodeTimeout)
	assert.Equal(t, 4, cfg.Executor.Concurrency)
	assert.Equal(t, 3, cfg.Revision.MaxRounds)
	assert.Equal(t, []string{"Model", "Dataset"}, cfg.Extraction.EntityTypes)
	assert.Equal(t, 8, cfg.Extraction.MaxEntities)
	assert.Equal(t, "/etc/graphflow/gazetteer.yaml", cfg.Extraction.GazetteerPath)
	assert.Equal(t, "local-model", cfg.LLM.Model)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未覆盖的字段保持默认值
	assert.Equal(t, 4024, cfg.Extraction.ChunkSize)
	assert.Equal(t, 2*time.Minute, cfg.LLM.Timeout)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("GRAPHFLOW_EXECUTOR_MAX_STEPS", "12")
	t.Setenv("GRAPHFLOW_EXECUTOR_NODE_TIMEOUT", "45s")
	t.Setenv("GRAPHFLOW_REVISION_MAX_ROUNDS", "4")
	t.Setenv("GRAPHFLOW_EXTRACTION_ENTITY_TYPES", "Person, Location")
	t.Setenv("GRAPHFLOW_LLM_TEMPERATURE", "0.3")
	t.Setenv("GRAPHFLOW_DATABASE_ENABLED", "true")
	t.Setenv("GRAPHFLOW_SERVER_API_KEYS", "k1,k2")
	t.Setenv("GRAPHFLOW_SERVER_JWT_SECRET", "s3cret")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.True(t, cfg.Server.JWT.Enabled())

	assert.Equal(t, 12, cfg.Executor.MaxSteps)
	assert.Equal(t, 45*time.Second, cfg.Executor.NodeTimeout)
	assert.Equal(t, 4, cfg.Revision.MaxRounds)
	assert.Equal(t, []string{"Person", "Location"}, cfg.Extraction.EntityTypes)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 0.0001)
	assert.True(t, cfg.Database.Enabled)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "graphflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("revision:\n  max_rounds: 5\n"), 0644))

	t.Setenv("GRAPHFLOW_REVISION_MAX_ROUNDS", "7")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Revision.MaxRounds)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_EXECUTOR_MAX_STEPS", "3")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Executor.MaxSteps)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("GRAPHFLOW_REVISION_MAX_ROUNDS", "0")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revision.max_rounds")
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("GRAPHFLOW_EXECUTOR_MAX_STEPS", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRAPHFLOW_EXECUTOR_MAX_STEPS")
}

func TestLoader_ReportsEveryBadEnvValue(t *testing.T) {
	env := map[string]string{
		"APP_EXECUTOR_MAX_STEPS":  "many",
		"APP_LLM_TIMEOUT":         "soon",
		"APP_REDIS_ENABLED":       "",
		"APP_LOG_LEVEL":           "warn",
		"APP_NER_EXCLUDED_LABELS": " DATE, ,ORG ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	_, err := NewLoader().WithEnvPrefix("APP").WithEnvLookup(lookup).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_EXECUTOR_MAX_STEPS")
	assert.Contains(t, err.Error(), "APP_LLM_TIMEOUT")

	delete(env, "APP_EXECUTOR_MAX_STEPS")
	delete(env, "APP_LLM_TIMEOUT")
	cfg, err := NewLoader().WithEnvPrefix("APP").WithEnvLookup(lookup).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Redis.Enabled, "empty value leaves the default")
	assert.Equal(t, []string{"DATE", "ORG"}, cfg.NER.ExcludedLabels)
}

func TestEnvFields_NestedKeys(t *testing.T) {
	cfg := DefaultConfig()
	keys := make(map[string]bool)
	for _, f := range envFields(reflect.ValueOf(cfg).Elem(), "X") {
		keys[f.key] = true
	}
	assert.True(t, keys["X_SERVER_JWT_SECRET"])
	assert.True(t, keys["X_EXECUTOR_NODE_TIMEOUT"])
	assert.False(t, keys["X_SERVER_JWT"], "structs expand into their fields")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/graphflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Executor.MaxSteps)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("executor: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "zero max steps", modify: func(c *Config) { c.Executor.MaxSteps = 0 }, wantErr: "executor.max_steps"},
		{name: "negative concurrency", modify: func(c *Config) { c.Executor.Concurrency = -1 }, wantErr: "executor.concurrency"},
		{name: "zero rounds", modify: func(c *Config) { c.Revision.MaxRounds = 0 }, wantErr: "revision.max_rounds"},
		{name: "overlap exceeds chunk", modify: func(c *Config) { c.Extraction.ChunkOverlap = 5000 }, wantErr: "chunk_overlap"},
		{name: "temperature too high", modify: func(c *Config) { c.LLM.Temperature = 3 }, wantErr: "llm.temperature"},
		{name: "bad port", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "server.http_port"},
		{name: "sample rate above one", modify: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: "telemetry.sample_rate"},
		{name: "unknown exporter", modify: func(c *Config) { c.Telemetry.Exporter = "zipkin" }, wantErr: "unsupported telemetry exporter"},
		{name: "unknown driver", modify: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "unsupported database driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name:     "postgres",
			config:   DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "runs", SSLMode: "disable"},
			expected: "host=db port=5432 user=u password=p dbname=runs sslmode=disable",
		},
		{
			name:     "mysql",
			config:   DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "runs"},
			expected: "u:p@tcp(db:3306)/runs?parseTime=true",
		},
		{
			name:     "sqlite",
			config:   DatabaseConfig{Driver: "sqlite", Name: "runs.db"},
			expected: "runs.db",
		},
		{
			name:     "unknown",
			config:   DatabaseConfig{Driver: "oracle"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}
