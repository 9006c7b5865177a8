// Package config loads huntql settings from a YAML file, a .env file and
// the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/malbeclabs/huntql/pkg/events"
	"github.com/malbeclabs/huntql/pkg/llm"
	"github.com/malbeclabs/huntql/pkg/pipeline"
)

const (
	CheckerLocal  = "local"
	CheckerRemote = "remote"

	defaultStorePath   = "huntql.db"
	defaultListenAddr  = ":8080"
	defaultCacheTTL    = 10 * time.Minute
	defaultCheckerTime = 10 * time.Second
)

// Environment variables that override file settings.
const (
	EnvProvider     = "HUNTQL_PROVIDER"
	EnvModel        = "HUNTQL_MODEL"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvGoogleKey    = "GOOGLE_API_KEY"
	EnvOllamaURL    = "OLLAMA_URL"
	EnvCheckerURL   = "HUNTQL_CHECKER_URL"
	EnvStorePath    = "HUNTQL_STORE_PATH"
	EnvKafkaBrokers = "HUNTQL_KAFKA_BROKERS"
	EnvServerTokens = "HUNTQL_SERVER_TOKENS"
)

var (
	ErrInvalidCheckerMode = errors.New("checker mode must be local or remote")
	ErrCheckerURLRequired = errors.New("checker url is required in remote mode")
	ErrMaxRetries         = errors.New("max_retries must not be negative")
	ErrConcurrency        = errors.New("concurrency must not be negative")
)

type LLM struct {
	Provider            string        `yaml:"provider"`
	Model               string        `yaml:"model"`
	MaxTokens           int64         `yaml:"max_tokens"`
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"-"`
	MaxTries            uint          `yaml:"max_tries"`
	MaxElapsed          time.Duration `yaml:"max_elapsed"`
	EnrichTemperature   float64       `yaml:"enrich_temperature"`
	GenerateTemperature *float64      `yaml:"generate_temperature"`
	RepairTemperature   *float64      `yaml:"repair_temperature"`
}

type Pipeline struct {
	MaxRetries  *int `yaml:"max_retries"`
	Concurrency int  `yaml:"concurrency"`
}

type Checker struct {
	Mode     string        `yaml:"mode"`
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Schema struct {
	// File replaces the embedded source definitions when set.
	File string `yaml:"file"`
}

type Store struct {
	// Path of the sqlite database. "off" disables persistence.
	Path string `yaml:"path"`
}

type Events struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	AuthIAM bool     `yaml:"auth_iam"`

	// The topic is created at startup when Partitions is set.
	Partitions        int `yaml:"partitions"`
	ReplicationFactor int `yaml:"replication_factor"`
}

type Server struct {
	ListenAddr  string   `yaml:"listen_addr"`
	MetricsAddr string   `yaml:"metrics_addr"`
	Tokens      []string `yaml:"-"`
}

type Config struct {
	LLM      LLM      `yaml:"llm"`
	Pipeline Pipeline `yaml:"pipeline"`
	Checker  Checker  `yaml:"checker"`
	Schema   Schema   `yaml:"schema"`
	Store    Store    `yaml:"store"`
	Events   Events   `yaml:"events"`
	Server   Server   `yaml:"server"`
}

// Load reads path (optional), then .env in the working directory (if
// present), then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}

	// Variables already set in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes a YAML config without applying defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from lookup, which has the signature of
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.LLM.Provider, EnvProvider)
	set(&c.LLM.Model, EnvModel)
	set(&c.Checker.URL, EnvCheckerURL)
	set(&c.Store.Path, EnvStorePath)

	c.applyProviderEnv(lookup)

	if v, ok := lookup(EnvKafkaBrokers); ok && v != "" {
		c.Events.Brokers = splitList(v)
	}
	if v, ok := lookup(EnvServerTokens); ok && v != "" {
		c.Server.Tokens = splitList(v)
	}
}

// SetProvider switches the provider and rereads its credentials from
// lookup. Settings of the previous provider are dropped.
func (c *Config) SetProvider(provider string, lookup func(string) (string, bool)) {
	if provider == c.LLM.Provider {
		return
	}
	c.LLM.Provider = provider
	c.LLM.APIKey = ""
	c.LLM.BaseURL = ""
	c.applyProviderEnv(lookup)
}

func (c *Config) applyProviderEnv(lookup func(string) (string, bool)) {
	var dst *string
	var key string
	switch c.LLM.Provider {
	case llm.ProviderAnthropic:
		dst, key = &c.LLM.APIKey, EnvAnthropicKey
	case llm.ProviderGemini, "":
		dst, key = &c.LLM.APIKey, EnvGoogleKey
	case llm.ProviderOllama:
		dst, key = &c.LLM.BaseURL, EnvOllamaURL
	default:
		return
	}
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if c.LLM.Provider == "" {
		c.LLM.Provider = llm.ProviderGemini
	}
	if c.LLM.GenerateTemperature == nil {
		c.LLM.GenerateTemperature = ptr(pipeline.DefaultGenerateTemperature)
	}
	if c.LLM.RepairTemperature == nil {
		c.LLM.RepairTemperature = ptr(pipeline.DefaultRepairTemperature)
	}
	if *c.LLM.RepairTemperature < *c.LLM.GenerateTemperature {
		return pipeline.ErrTemperature
	}

	if c.Pipeline.MaxRetries == nil {
		c.Pipeline.MaxRetries = ptr(pipeline.DefaultMaxRetries)
	}
	if *c.Pipeline.MaxRetries < 0 {
		return ErrMaxRetries
	}
	if c.Pipeline.Concurrency < 0 {
		return ErrConcurrency
	}

	if c.Checker.Mode == "" {
		c.Checker.Mode = CheckerLocal
		if c.Checker.URL != "" {
			c.Checker.Mode = CheckerRemote
		}
	}
	switch c.Checker.Mode {
	case CheckerLocal:
	case CheckerRemote:
		if c.Checker.URL == "" {
			return ErrCheckerURLRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCheckerMode, c.Checker.Mode)
	}
	if c.Checker.CacheTTL == 0 {
		c.Checker.CacheTTL = defaultCacheTTL
	}
	if c.Checker.Timeout == 0 {
		c.Checker.Timeout = defaultCheckerTime
	}

	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Events.Topic == "" {
		c.Events.Topic = events.DefaultTopic
	}
	if c.Events.Partitions > 0 && c.Events.ReplicationFactor <= 0 {
		c.Events.ReplicationFactor = 1
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	return nil
}

// StoreEnabled reports whether sessions are persisted.
func (c *Config) StoreEnabled() bool {
	return c.Store.Path != "off"
}

// EventsEnabled reports whether sessions are published to Kafka.
func (c *Config) EventsEnabled() bool {
	return len(c.Events.Brokers) > 0
}

func (c *Config) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:   c.LLM.Provider,
		Model:      c.LLM.Model,
		MaxTokens:  c.LLM.MaxTokens,
		APIKey:     c.LLM.APIKey,
		BaseURL:    c.LLM.BaseURL,
		MaxTries:   c.LLM.MaxTries,
		MaxElapsed: c.LLM.MaxElapsed,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
