// Package config loads finrag configuration from a YAML file and the
// environment.
//
// The file is read from $FINRAG_CONFIG, or ~/.config/finrag/config.yml
// (respecting XDG_CONFIG_HOME). A missing file is not an error: defaults
// apply. Environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/finrag/internal/embedder"
	"github.com/dshills/finrag/internal/fusion"
	"github.com/dshills/finrag/internal/ingest"
	"github.com/dshills/finrag/internal/lexical"
	"github.com/dshills/finrag/internal/reranker"
	"github.com/dshills/finrag/internal/searcher"
)

const (
	// ConfigDir is the directory name under XDG_CONFIG_HOME
	ConfigDir = "finrag"
	// ConfigFile is the config file name
	ConfigFile = "config.yml"

	// DefaultDBName is the database file name under the data directory
	DefaultDBName = "finrag.db"
)

// Environment variables
const (
	EnvConfig            = "FINRAG_CONFIG"
	EnvDBPath            = "FINRAG_DB_PATH"
	EnvEmbeddingProvider = "FINRAG_EMBEDDING_PROVIDER"
	EnvEmbeddingModel    = "FINRAG_EMBEDDING_MODEL"
	EnvRerankEnabled     = "FINRAG_RERANK_ENABLED"
	EnvRerankProvider    = "FINRAG_RERANK_PROVIDER"
	EnvSemanticWeight    = "FINRAG_SEMANTIC_WEIGHT"
	EnvLexicalWeight     = "FINRAG_LEXICAL_WEIGHT"
	EnvOpenAIAPIKey      = embedder.EnvOpenAIAPIKey
	EnvJinaAPIKey        = embedder.EnvJinaAPIKey
)

// Rerank providers
const (
	RerankHTTP      = "http"
	RerankEmbedding = "embedding"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete finrag configuration
type Config struct {
	DBPath    string          `yaml:"db_path,omitempty"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Lexical   LexicalConfig   `yaml:"lexical"`
	Search    SearchConfig    `yaml:"search"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// EncoderConfig configures one embedding encoder
type EncoderConfig struct {
	Provider string        `yaml:"provider,omitempty"`
	Model    string        `yaml:"model,omitempty"`
	APIKey   string        `yaml:"api_key,omitempty"`
	BaseURL  string        `yaml:"base_url,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// EmbeddingConfig configures the topic router and its encoders
type EmbeddingConfig struct {
	General       EncoderConfig            `yaml:"general"`
	Topics        map[string]EncoderConfig `yaml:"topics,omitempty"`
	Keywords      map[string][]string      `yaml:"keywords,omitempty"`
	MinTopicScore int                      `yaml:"min_topic_score"`
	CacheSize     int                      `yaml:"cache_size"`
	BatchSize     int                      `yaml:"batch_size"`
	Workers       int                      `yaml:"workers"`
}

// LexicalConfig is the TF-IDF vocabulary policy
type LexicalConfig struct {
	MaxFeatures int     `yaml:"max_features"`
	MinDF       int     `yaml:"min_df"`
	MaxDF       float64 `yaml:"max_df"`
	NGramMin    int     `yaml:"ngram_min"`
	NGramMax    int     `yaml:"ngram_max"`
}

// SearchConfig holds orchestrator defaults
type SearchConfig struct {
	SemanticWeight float64       `yaml:"semantic_weight"`
	LexicalWeight  float64       `yaml:"lexical_weight"`
	OverFetch      int           `yaml:"over_fetch"`
	CacheSize      int           `yaml:"cache_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	DefaultTopK    int           `yaml:"default_top_k"`
}

// RerankConfig configures the optional re-ranking stage
type RerankConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider,omitempty"` // http or embedding
	Model     string        `yaml:"model,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
}

// IngestConfig configures document ingest
type IngestConfig struct {
	MaxChars int `yaml:"max_chars"`
	Workers  int `yaml:"workers"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DBPath: DefaultDBPath(),
		Embedding: EmbeddingConfig{
			General:       EncoderConfig{Provider: embedder.ProviderLocal}, // Empty model: provider default
			MinTopicScore: embedder.DefaultMinTopicScore,
			CacheSize:     embedder.DefaultCacheSize,
			BatchSize:     embedder.DefaultBatchSize,
			Workers:       4,
		},
		Lexical: LexicalConfig{
			MaxFeatures: lexical.DefaultMaxFeatures,
			MinDF:       lexical.DefaultMinDF,
			MaxDF:       lexical.DefaultMaxDF,
			NGramMin:    lexical.DefaultNGramMin,
			NGramMax:    lexical.DefaultNGramMax,
		},
		Search: SearchConfig{
			SemanticWeight: fusion.DefaultSemanticWeight,
			LexicalWeight:  fusion.DefaultLexicalWeight,
			OverFetch:      searcher.DefaultOverFetch,
			CacheSize:      searcher.DefaultCacheSize,
			CacheTTL:       searcher.DefaultCacheTTL,
			DefaultTopK:    10,
		},
		Rerank: RerankConfig{
			Provider:  RerankHTTP,
			Model:     reranker.DefaultModel,
			BaseURL:   reranker.DefaultBaseURL,
			Timeout:   reranker.DefaultTimeout,
			RateLimit: reranker.DefaultRateLimit,
		},
		Ingest: IngestConfig{
			MaxChars: ingest.DefaultMaxChars,
			Workers:  4,
		},
	}
}

// DefaultDBPath returns ~/.finrag/finrag.db, or a relative path when the
// home directory is unknown
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDBName
	}
	return filepath.Join(home, ".finrag", DefaultDBName)
}

// Path returns the config file location
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return ExpandTilde(p)
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, ConfigDir, ConfigFile)
}

// Load reads the config file at Path, applies environment overrides and
// validates the result
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config file at path. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.DBPath = ExpandTilde(cfg.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with non-empty environment variables
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := getenv(EnvEmbeddingProvider); v != "" {
		c.Embedding.General.Provider = strings.ToLower(v)
		c.Embedding.General.Model = ""
	}
	if v := getenv(EnvEmbeddingModel); v != "" {
		c.Embedding.General.Model = v
	}

	// API keys fill in encoders that have none
	keys := map[string]string{
		embedder.ProviderOpenAI: getenv(EnvOpenAIAPIKey),
		embedder.ProviderJina:   getenv(EnvJinaAPIKey),
	}
	fill := func(e *EncoderConfig) {
		if e.APIKey == "" {
			e.APIKey = keys[strings.ToLower(e.Provider)]
		}
	}
	fill(&c.Embedding.General)
	for topic, e := range c.Embedding.Topics {
		fill(&e)
		c.Embedding.Topics[topic] = e
	}

	if v := getenv(EnvRerankEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvRerankEnabled, v)
		}
		c.Rerank.Enabled = enabled
	}
	if v := getenv(EnvRerankProvider); v != "" {
		c.Rerank.Provider = strings.ToLower(v)
	}
	if v := getenv(reranker.EnvAPIKey); v != "" {
		c.Rerank.APIKey = v
	}

	for env, dst := range map[string]*float64{
		EnvSemanticWeight: &c.Search.SemanticWeight,
		EnvLexicalWeight:  &c.Search.LexicalWeight,
	} {
		v := getenv(env)
		if v == "" {
			continue
		}
		w, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, env, v)
		}
		*dst = w
	}
	return nil
}

// Validate reports the first unusable setting
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.DBPath == "" {
		return invalid("db_path is empty")
	}

	for _, w := range []struct {
		name  string
		value float64
	}{
		{"semantic_weight", c.Search.SemanticWeight},
		{"lexical_weight", c.Search.LexicalWeight},
	} {
		if w.value < 0 || math.IsNaN(w.value) || math.IsInf(w.value, 0) {
			return invalid("%s must be a non-negative number, got %v", w.name, w.value)
		}
	}
	if c.Search.OverFetch <= 0 {
		return invalid("over_fetch must be positive, got %d", c.Search.OverFetch)
	}
	if c.Search.DefaultTopK <= 0 || c.Search.DefaultTopK > searcher.MaxTopK {
		return invalid("default_top_k must be in [1, %d], got %d", searcher.MaxTopK, c.Search.DefaultTopK)
	}
	if c.Search.CacheSize < 0 {
		return invalid("search cache_size must not be negative")
	}

	if err := c.LexicalOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for name := range c.Embedding.Topics {
		topic, ok := embedder.ParseTopic(name)
		if !ok || topic == embedder.TopicGeneral {
			return invalid("unknown specialized topic %q", name)
		}
	}
	for name := range c.Embedding.Keywords {
		if _, ok := embedder.ParseTopic(name); !ok {
			return invalid("keywords for unknown topic %q", name)
		}
	}
	if c.Embedding.BatchSize < 0 || c.Embedding.BatchSize > embedder.MaxBatchSize {
		return invalid("batch_size must be in [0, %d]", embedder.MaxBatchSize)
	}

	if c.Rerank.Enabled {
		switch c.Rerank.Provider {
		case RerankHTTP, RerankEmbedding:
		default:
			return invalid("unknown rerank provider %q", c.Rerank.Provider)
		}
		if c.Rerank.Timeout <= 0 {
			return invalid("rerank timeout must be positive")
		}
	}

	if c.Ingest.MaxChars < 0 {
		return invalid("ingest max_chars must not be negative")
	}
	return nil
}

// EmbedderConfig converts the embedding section for embedder.New
func (c *Config) EmbedderConfig() embedder.Config {
	convert := func(e EncoderConfig) embedder.EncoderConfig {
		return embedder.EncoderConfig{
			Provider: e.Provider,
			Model:    e.Model,
			APIKey:   e.APIKey,
			BaseURL:  e.BaseURL,
			Timeout:  e.Timeout,
		}
	}

	cfg := embedder.Config{
		General:       convert(c.Embedding.General),
		MinTopicScore: c.Embedding.MinTopicScore,
		CacheSize:     c.Embedding.CacheSize,
		BatchSize:     c.Embedding.BatchSize,
	}
	if len(c.Embedding.Topics) > 0 {
		cfg.Topics = make(map[embedder.Topic]embedder.EncoderConfig, len(c.Embedding.Topics))
		for name, e := range c.Embedding.Topics {
			if topic, ok := embedder.ParseTopic(name); ok {
				cfg.Topics[topic] = convert(e)
			}
		}
	}
	if len(c.Embedding.Keywords) > 0 {
		cfg.Keywords = make(map[embedder.Topic][]string, len(c.Embedding.Keywords))
		for name, kw := range c.Embedding.Keywords {
			// keys differing only in case share one topic
			if topic, ok := embedder.ParseTopic(name); ok {
				cfg.Keywords[topic] = append(cfg.Keywords[topic], kw...)
			}
		}
	}
	return cfg
}

// LexicalOptions converts the lexical section
func (c *Config) LexicalOptions() lexical.Options {
	return lexical.Options{
		MaxFeatures: c.Lexical.MaxFeatures,
		MinDF:       c.Lexical.MinDF,
		MaxDF:       c.Lexical.MaxDF,
		NGramMin:    c.Lexical.NGramMin,
		NGramMax:    c.Lexical.NGramMax,
	}
}

// ExpandTilde expands a leading ~ to the user's home directory
func ExpandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
