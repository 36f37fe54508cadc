package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量名形如 GRAPHFLOW_EXECUTOR_MAX_STEPS
const DefaultEnvPrefix = "GRAPHFLOW"

// Loader 按 默认值 → YAML 文件 → 环境变量 的顺序叠加配置，最后执行校验器。
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("graphflow.yaml").
//	    WithValidator((*config.Config).Validate).
//	    Load()
type Loader struct {
	path       string
	prefix     string
	lookup     func(string) (string, bool)
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{prefix: DefaultEnvPrefix, lookup: os.LookupEnv}
}

// WithConfigPath 文件不存在时视为未配置
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.prefix = prefix
	return l
}

// WithEnvLookup 替换环境变量来源，默认 os.LookupEnv
func (l *Loader) WithEnvLookup(lookup func(string) (string, bool)) *Loader {
	l.lookup = lookup
	return l
}

func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.readFile(cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, l.prefix, l.lookup); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	for _, validate := range l.validators {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) readFile(cfg *Config) error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", l.path, err)
	}
	return nil
}
