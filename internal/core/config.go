package core

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/banano/internal/backend/blobstore"
	"github.com/jo-hoe/banano/internal/backend/cache"
	"github.com/jo-hoe/banano/internal/backend/evaluator"
	"github.com/jo-hoe/banano/internal/backend/generation"
	"github.com/jo-hoe/banano/internal/backend/imageprocessing"
	"github.com/jo-hoe/banano/internal/backend/provider"
)

const (
	defaultPort             = 8080
	defaultConnectionString = "banano.db"
)

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

// EvaluatorConfig configures the judge that picks the best candidate of a slot.
type EvaluatorConfig struct {
	Disabled bool          `yaml:"disabled"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"baseURL"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ServiceConfig struct {
	Port           int               `yaml:"port"`
	LogLevel       string            `yaml:"logLevel"`
	ThumbnailWidth int               `yaml:"thumbnailWidth"`
	Database       Database          `yaml:"database"`
	Storage        blobstore.Config  `yaml:"storage"`
	Cache          cache.Config      `yaml:"cache"`
	Generation     generation.Config `yaml:"generation"`
	Providers      []provider.Config `yaml:"providers"`
	Evaluator      EvaluatorConfig   `yaml:"evaluator"`
	Keys           provider.Keys     `yaml:"-"`
}

// LoadConfig loads configuration from the specified YAML file and overlays
// secrets from the environment.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config ServiceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if err := ReadEnvironment(&config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}
	return &config, nil
}

// ReadEnvironment overlays the secrets kept in environment variables.
func ReadEnvironment(config *ServiceConfig) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	return nil
}

// ApplyDefaults fills every unset field.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = imageprocessing.DefaultThumbnailWidth
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.ConnectionString == "" {
		c.Database.ConnectionString = defaultConnectionString
	}
	c.Generation = c.Generation.WithDefaults()
	if len(c.Providers) == 0 {
		c.Providers = provider.DefaultConfigs()
	}
	if c.Evaluator.Model == "" {
		c.Evaluator.Model = evaluator.DefaultJudgeModel
	}
}

func (c *ServiceConfig) Validate() error {
	if err := c.Generation.Validate(); err != nil {
		return err
	}
	return validateProviders(c.Providers)
}

// validateProviders ensures every provider entry is named, unique and of a known type
func validateProviders(providers []provider.Config) error {
	seenNames := make(map[string]bool)

	for i, p := range providers {
		if p.Name == "" {
			return fmt.Errorf("provider at index %d has empty name", i)
		}
		if seenNames[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seenNames[p.Name] = true

		switch p.Type {
		case provider.TypeGemini, provider.TypeOpenAI:
		default:
			return fmt.Errorf("provider %s has unsupported type %q", p.Name, p.Type)
		}
	}

	return nil
}

// SlogLevel maps the configured log level, defaulting to info.
func (c *ServiceConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
