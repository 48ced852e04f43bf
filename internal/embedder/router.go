package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/finrag/pkg/types"
)

// Router dispatches embedding calls to a topic-specialized encoder and
// falls back to the general encoder when the specialized one fails.
// Failure of the general encoder is fatal to the call.
type Router struct {
	general    Embedder
	encoders   map[Topic]Embedder
	classifier *Classifier
	batchSize  int
	logger     *slog.Logger
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithEncoder registers a specialized encoder for topic
func WithEncoder(topic Topic, e Embedder) RouterOption {
	return func(r *Router) {
		if e != nil && topic != TopicGeneral {
			r.encoders[topic] = e
		}
	}
}

// WithClassifier replaces the default keyword classifier
func WithClassifier(c *Classifier) RouterOption {
	return func(r *Router) {
		if c != nil {
			r.classifier = c
		}
	}
}

// WithLogger sets the logger used to report recovered encoder failures
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBatchSize caps the number of texts sent per encoder call
func WithBatchSize(n int) RouterOption {
	return func(r *Router) {
		if n > 0 && n <= MaxBatchSize {
			r.batchSize = n
		}
	}
}

// NewRouter creates a Router around the general-purpose encoder
func NewRouter(general Embedder, opts ...RouterOption) (*Router, error) {
	if general == nil {
		return nil, fmt.Errorf("%w: general encoder is required", ErrNoProviderEnabled)
	}

	r := &Router{
		general:    general,
		encoders:   make(map[Topic]Embedder),
		classifier: NewClassifier(nil, DefaultMinTopicScore),
		batchSize:  DefaultBatchSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Classify resolves the topic of text
func (r *Router) Classify(text string) Topic {
	return r.classifier.Classify(text)
}

// resolve returns hint when it names a known topic, otherwise the classified topic
func (r *Router) resolve(text string, hint Topic) Topic {
	if t, ok := ParseTopic(string(hint)); ok {
		return t
	}
	return r.Classify(text)
}

// encoderFor returns the encoder dispatched for topic
func (r *Router) encoderFor(topic Topic) Embedder {
	if e, ok := r.encoders[topic]; ok {
		return e
	}
	return r.general
}

// SpaceFor returns the vector space the encoder for topic produces
func (r *Router) SpaceFor(topic Topic) string {
	e := r.encoderFor(topic)
	return SpaceKey(e.Provider(), e.Model())
}

// GeneralSpace returns the vector space of the general encoder
func (r *Router) GeneralSpace() string {
	return SpaceKey(r.general.Provider(), r.general.Model())
}

// Embed embeds a single text. An empty hint triggers classification.
func (r *Router) Embed(ctx context.Context, text string, hint Topic) (*Embedding, error) {
	if err := ValidateRequest(EmbeddingRequest{Text: text}); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}

	topic := r.resolve(text, hint)
	embs, err := r.embedTopic(ctx, []string{text}, topic)
	if err != nil {
		return nil, err
	}
	return embs[0], nil
}

// EmbedBatch embeds texts with one resolved topic. An empty hint classifies
// the concatenation of all texts.
func (r *Router) EmbedBatch(ctx context.Context, texts []string, hint Topic) ([]*Embedding, error) {
	if err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: texts}); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}

	topic, ok := ParseTopic(string(hint))
	if !ok {
		joined := ""
		for _, t := range texts {
			joined += t + "\n"
		}
		topic = r.Classify(joined)
	}

	out := make([]*Embedding, 0, len(texts))
	for start := 0; start < len(texts); start += r.batchSize {
		end := start + r.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		embs, err := r.embedTopic(ctx, texts[start:end], topic)
		if err != nil {
			return nil, err
		}
		out = append(out, embs...)
	}
	return out, nil
}

// embedTopic runs the specialized encoder for topic, if any, then the
// general encoder as fallback
func (r *Router) embedTopic(ctx context.Context, texts []string, topic Topic) ([]*Embedding, error) {
	if enc, ok := r.encoders[topic]; ok {
		embs, err := r.call(ctx, enc, texts)
		if err == nil {
			return finish(embs, enc, topic, false), nil
		}

		r.logger.Warn("specialized encoder failed, using general encoder",
			"topic", topic,
			"provider", enc.Provider(),
			"model", enc.Model(),
			"error", fmt.Errorf("%w: %v", types.ErrEncoderFailure, err))

		embs, err = r.call(ctx, r.general, texts)
		if err != nil {
			return nil, r.fatal(err)
		}
		return finish(embs, r.general, topic, true), nil
	}

	embs, err := r.call(ctx, r.general, texts)
	if err != nil {
		return nil, r.fatal(err)
	}
	return finish(embs, r.general, topic, false), nil
}

func (r *Router) call(ctx context.Context, enc Embedder, texts []string) (embs []*Embedding, err error) {
	defer func() {
		if p := recover(); p != nil {
			embs, err = nil, fmt.Errorf("%w: encoder panic: %v", ErrProviderFailed, p)
		}
	}()

	resp, err := enc.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, ErrShortBatch
	}
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Vector) == 0 {
			return nil, fmt.Errorf("%w: empty vector at index %d", ErrProviderFailed, i)
		}
	}
	return resp.Embeddings, nil
}

func (r *Router) fatal(err error) error {
	r.logger.Error("general encoder failed",
		"provider", r.general.Provider(),
		"model", r.general.Model(),
		"error", err)
	return fmt.Errorf("%w: %s/%s: %v", types.ErrFatalEncoderFailure, r.general.Provider(), r.general.Model(), err)
}

// finish normalizes vectors and stamps the space and topic
func finish(embs []*Embedding, enc Embedder, topic Topic, fallback bool) []*Embedding {
	out := make([]*Embedding, len(embs))
	for i, emb := range embs {
		vec := NormalizeVector(emb.Vector)
		out[i] = &Embedding{
			Vector:    vec,
			Dimension: len(vec),
			Provider:  enc.Provider(),
			Model:     enc.Model(),
			Hash:      emb.Hash,
			Topic:     topic,
			Fallback:  fallback,
		}
	}
	return out
}

// Close releases every distinct encoder
func (r *Router) Close() error {
	seen := map[Embedder]bool{}
	var errs []error
	for _, e := range append([]Embedder{r.general}, r.encodersList()...) {
		if seen[e] {
			continue
		}
		seen[e] = true
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) encodersList() []Embedder {
	out := make([]Embedder, 0, len(r.encoders))
	for _, topic := range classifiedTopics {
		if e, ok := r.encoders[topic]; ok {
			out = append(out, e)
		}
	}
	return out
}
