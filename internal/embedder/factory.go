package embedder

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// EncoderConfig selects and configures one encoder
type EncoderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// Config holds embedder configuration
type Config struct {
	General       EncoderConfig
	Topics        map[Topic]EncoderConfig // Specialized encoders by topic
	Keywords      map[Topic][]string      // nil uses DefaultKeywords
	MinTopicScore int
	CacheSize     int
	BatchSize     int
}

// NewProvider creates a single encoder from configuration
func NewProvider(cfg EncoderConfig, cache *Cache) (Embedder, error) {
	pc := ProviderConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(pc, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(pc, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cfg.Model, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// New creates a topic Router with explicit configuration. Every encoder
// gets its own cache so content hashes never cross model boundaries.
func New(cfg Config, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for topic := range cfg.Topics {
		if _, ok := ParseTopic(string(topic)); !ok || topic == TopicGeneral {
			return nil, fmt.Errorf("%w: cannot register specialized encoder for topic %q", ErrInvalidInput, topic)
		}
	}

	newCache := func() *Cache {
		if cfg.CacheSize > 0 {
			return NewCache(cfg.CacheSize)
		}
		return nil
	}

	general, err := NewProvider(cfg.General, newCache())
	if err != nil {
		return nil, fmt.Errorf("general encoder: %w", err)
	}

	opts := []RouterOption{
		WithLogger(logger),
		WithClassifier(NewClassifier(cfg.Keywords, cfg.MinTopicScore)),
		WithBatchSize(cfg.BatchSize),
	}

	for _, topic := range classifiedTopics {
		ecfg, ok := cfg.Topics[topic]
		if !ok {
			continue
		}
		enc, err := NewProvider(ecfg, newCache())
		if err != nil {
			// A specialized encoder that cannot start is the same as one that
			// fails at call time: the general encoder serves the topic.
			logger.Warn("specialized encoder unavailable, topic will use general encoder",
				"topic", topic, "provider", ecfg.Provider, "error", err)
			continue
		}
		opts = append(opts, WithEncoder(topic, enc))
	}

	return NewRouter(general, opts...)
}
