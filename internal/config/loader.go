package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/lazypower/memgraph/internal/apperr"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MEMGRAPH_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

var validate = validator.New()

// Loader builds a Config from layered sources: defaults, then file, then env.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load reads configPath when set, otherwise ~/.memgraph/config.yaml if present.
func Load(configPath string) (*Config, error) {
	return NewLoader().Load(configPath)
}

// Load resolves every source and validates the result.
func (l *Loader) Load(configPath string) (*Config, error) {
	defaults := Default().flatten()
	if err := l.k.Load(confmap.Provider(defaults, Delimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath == "" {
		configPath = defaultFile()
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, apperr.Validation("load config", "config file %s: %v", configPath, err)
	}
	if configPath != "" {
		if err := l.loadFile(configPath); err != nil {
			return nil, err
		}
	}

	// MEMGRAPH_RECALL_WEIGHTS_RECENCY -> recall.weights.recency. Only known
	// keys map; anything else is ignored.
	envKeys := make(map[string]string, len(defaults))
	for key := range defaults {
		envKeys[strings.ReplaceAll(key, Delimiter, "_")] = key
	}
	err := l.k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		return envKeys[strings.ToLower(strings.TrimPrefix(s, EnvPrefix))]
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, apperr.Validation("load config", "decode: %v", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return apperr.Validation("load config", "unsupported config file format: %s", filepath.Ext(path))
	}
	if err := l.k.Load(file.Provider(path), parser); err != nil {
		return apperr.Validation("load config", "parse %s: %v", path, err)
	}
	return nil
}

func defaultFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".memgraph", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Validate checks field constraints and reports the first violation.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Validation("config", "%s: failed %s %s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return apperr.Validation("config", "%v", err)
}
