// Package config loads ragqa settings from defaults, an optional YAML file,
// a .env file and RAGQA_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/reforma-ai/ragqa/engine/domain"
)

// EnvPrefix prefixes override variables: RAGQA_CHUNK__SIZE sets chunk.size.
const EnvPrefix = "RAGQA_"

// DefaultPath is the config file read when no --config flag is given.
const DefaultPath = "ragqa.yaml"

// Config is the full ragqa configuration.
type Config struct {
	Collection CollectionConfig `yaml:"collection" koanf:"collection"`
	Chunk      ChunkConfig      `yaml:"chunk" koanf:"chunk"`
	Embedder   EmbedderConfig   `yaml:"embedder" koanf:"embedder"`
	LLM        LLMConfig        `yaml:"llm" koanf:"llm"`
	Store      StoreConfig      `yaml:"store" koanf:"store"`
	Ingest     IngestConfig     `yaml:"ingest" koanf:"ingest"`
	Retrieve   RetrieveConfig   `yaml:"retrieve" koanf:"retrieve"`
	Scrape     ScrapeConfig     `yaml:"scrape" koanf:"scrape"`
	NATS       NATSConfig       `yaml:"nats" koanf:"nats"`
	Server     ServerConfig     `yaml:"server" koanf:"server"`
}

type CollectionConfig struct {
	Name      string `yaml:"name" koanf:"name"`
	Dimension int    `yaml:"dimension" koanf:"dimension"`
	Distance  string `yaml:"distance" koanf:"distance"`
	// Strict turns a schema mismatch into an error instead of a warning.
	Strict bool `yaml:"strict" koanf:"strict"`
}

type ChunkConfig struct {
	Size    int `yaml:"size" koanf:"size"`
	Overlap int `yaml:"overlap" koanf:"overlap"`
}

type EmbedderConfig struct {
	Provider string        `yaml:"provider" koanf:"provider"`
	Model    string        `yaml:"model" koanf:"model"`
	BaseURL  string        `yaml:"base_url,omitempty" koanf:"base_url"`
	APIKey   string        `yaml:"api_key,omitempty" koanf:"api_key"`
	Timeout  time.Duration `yaml:"timeout" koanf:"timeout"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider" koanf:"provider"`
	Model       string        `yaml:"model" koanf:"model"`
	BaseURL     string        `yaml:"base_url,omitempty" koanf:"base_url"`
	APIKey      string        `yaml:"api_key,omitempty" koanf:"api_key"`
	Temperature float64       `yaml:"temperature" koanf:"temperature"`
	Timeout     time.Duration `yaml:"timeout" koanf:"timeout"`
}

type StoreConfig struct {
	// Backend is "qdrant" or "local".
	Backend   string        `yaml:"backend" koanf:"backend"`
	Addr      string        `yaml:"addr" koanf:"addr"`
	TLS       bool          `yaml:"tls" koanf:"tls"`
	APIKey    string        `yaml:"api_key,omitempty" koanf:"api_key"`
	Timeout   time.Duration `yaml:"timeout" koanf:"timeout"`
	LocalPath string        `yaml:"local_path" koanf:"local_path"`
}

type IngestConfig struct {
	Workers       int    `yaml:"workers" koanf:"workers"`
	Dir           string `yaml:"dir" koanf:"dir"`
	RetryAttempts int    `yaml:"retry_attempts" koanf:"retry_attempts"`
}

type RetrieveConfig struct {
	TopK int `yaml:"top_k" koanf:"top_k"`
}

type ScrapeConfig struct {
	BaseURL   string        `yaml:"base_url" koanf:"base_url"`
	Limit     int           `yaml:"limit" koanf:"limit"`
	Delay     time.Duration `yaml:"delay" koanf:"delay"`
	MinLength int           `yaml:"min_length" koanf:"min_length"`
	Timeout   time.Duration `yaml:"timeout" koanf:"timeout"`
	UserAgent string        `yaml:"user_agent,omitempty" koanf:"user_agent"`
}

type NATSConfig struct {
	URL     string `yaml:"url" koanf:"url"`
	Subject string `yaml:"subject" koanf:"subject"`
	Queue   string `yaml:"queue" koanf:"queue"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr" koanf:"addr"`
	CORSOrigins []string `yaml:"cors_origins" koanf:"cors_origins"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() *Config {
	return &Config{
		Collection: CollectionConfig{Name: "moedelo_reforma_2026", Dimension: 1536, Distance: "cosine"},
		Chunk:      ChunkConfig{Size: 800, Overlap: 100},
		Embedder: EmbedderConfig{
			Provider: ProviderOpenAI,
			Model:    "text-embedding-3-small",
			Timeout:  30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			Timeout:     60 * time.Second,
		},
		Store: StoreConfig{
			Backend:   BackendQdrant,
			Addr:      "localhost:6334",
			Timeout:   10 * time.Second,
			LocalPath: "data/vectors",
		},
		Ingest:   IngestConfig{Workers: 4, Dir: "tokens", RetryAttempts: 3},
		Retrieve: RetrieveConfig{TopK: 5},
		Scrape: ScrapeConfig{
			BaseURL:   "https://www.moedelo.org/club/article-knowledge",
			Limit:     30,
			Delay:     time.Second,
			MinLength: 200,
			Timeout:   20 * time.Second,
		},
		NATS:   NATSConfig{URL: "nats://localhost:4222", Subject: "ragqa.ingest", Queue: "ragqa-workers"},
		Server: ServerConfig{Addr: ":8080", CORSOrigins: []string{"*"}},
	}
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendQdrant = "qdrant"
	BackendLocal  = "local"
)

// Load builds a Config from defaults, the YAML file at path (skipped when
// missing), a .env file in the working directory and RAGQA_* variables.
// OPENAI_API_KEY, QDRANT_URL and QDRANT_API_KEY fill settings left empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	k := koanf.New(".")
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: accessing %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	if err := cfg.applyLegacyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps RAGQA_STORE__API_KEY to store.api_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) applyLegacyEnv() error {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.Embedder.APIKey == "" {
			c.Embedder.APIKey = key
		}
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
	}
	if key := os.Getenv("QDRANT_API_KEY"); key != "" && c.Store.APIKey == "" {
		c.Store.APIKey = key
	}
	if raw := os.Getenv("QDRANT_URL"); raw != "" && os.Getenv(EnvPrefix+"STORE__ADDR") == "" {
		addr, tls, err := QdrantTarget(raw)
		if err != nil {
			return err
		}
		c.Store.Addr, c.Store.TLS = addr, tls
	}
	return nil
}

// QdrantTarget turns a Qdrant URL into a gRPC host:port. The REST port 6333
// maps to the gRPC port 6334 and https enables TLS.
func QdrantTarget(raw string) (addr string, tls bool, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, domain.NewConfigError("QDRANT_URL", fmt.Sprintf("invalid url %q", raw))
	}
	tls = u.Scheme == "https"
	port := u.Port()
	switch port {
	case "", "6333":
		port = "6334"
	}
	return net.JoinHostPort(u.Hostname(), port), tls, nil
}

// Save writes the configuration to path as YAML. Secrets are not written.
func (c *Config) Save(path string) error {
	out := *c
	out.Embedder.APIKey = ""
	out.LLM.APIKey = ""
	out.Store.APIKey = ""
	data, err := yamlv3.Marshal(&out)
	if err != nil {
		return fmt.Errorf("config: marshalling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// CollectionSpec is the collection schema the settings describe.
func (c *Config) CollectionSpec() (domain.CollectionSpec, error) {
	d, err := domain.ParseDistance(c.Collection.Distance)
	if err != nil {
		return domain.CollectionSpec{}, domain.NewConfigError("collection.distance",
			fmt.Sprintf("unknown metric %q", c.Collection.Distance))
	}
	return domain.CollectionSpec{Name: c.Collection.Name, Dimension: c.Collection.Dimension, Distance: d}, nil
}

// Validate checks every setting and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, reason string) { errs = append(errs, domain.NewConfigError(field, reason)) }

	if spec, err := c.CollectionSpec(); err != nil {
		errs = append(errs, err)
	} else if err := spec.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := domain.ValidateChunking(c.Chunk.Size, c.Chunk.Overlap); err != nil {
		errs = append(errs, err)
	}
	if !oneOf(c.Embedder.Provider, ProviderOpenAI, ProviderOllama) {
		add("embedder.provider", fmt.Sprintf("unknown provider %q", c.Embedder.Provider))
	}
	if c.Embedder.Model == "" {
		add("embedder.model", "is required")
	}
	if !oneOf(c.LLM.Provider, ProviderOpenAI, ProviderOllama) {
		add("llm.provider", fmt.Sprintf("unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		add("llm.model", "is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "must be within [0, 2]")
	}
	switch c.Store.Backend {
	case BackendQdrant:
		if c.Store.Addr == "" {
			add("store.addr", "is required for the qdrant backend")
		}
	case BackendLocal:
		if c.Store.LocalPath == "" {
			add("store.local_path", "is required for the local backend")
		}
	default:
		add("store.backend", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}
	if c.Ingest.Workers < 1 || c.Ingest.Workers > 8 {
		add("ingest.workers", fmt.Sprintf("must be within [1, 8], got %d", c.Ingest.Workers))
	}
	if c.Ingest.RetryAttempts < 1 {
		add("ingest.retry_attempts", "must be at least 1")
	}
	if c.Retrieve.TopK <= 0 {
		add("retrieve.top_k", fmt.Sprintf("must be positive, got %d", c.Retrieve.TopK))
	}
	if c.Scrape.Delay < 0 {
		add("scrape.delay", "must not be negative")
	}
	return errors.Join(errs...)
}

// RequireAPIKeys reports missing OpenAI credentials for the providers in use.
func (c *Config) RequireAPIKeys() error {
	var errs []error
	if c.Embedder.Provider == ProviderOpenAI && c.Embedder.APIKey == "" {
		errs = append(errs, domain.NewConfigError("embedder.api_key", "OPENAI_API_KEY is not set"))
	}
	if c.LLM.Provider == ProviderOpenAI && c.LLM.APIKey == "" {
		errs = append(errs, domain.NewConfigError("llm.api_key", "OPENAI_API_KEY is not set"))
	}
	return errors.Join(errs...)
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
