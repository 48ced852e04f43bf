// Package embedder maps text to dense vectors for the semantic index.
//
// Three encoders are provided: Jina AI and OpenAI (remote, batched,
// retried with exponential backoff) and a local feature-hashing encoder
// that works offline and is fully deterministic.
//
// # Topic Routing
//
// Router wraps a general-purpose encoder and any number of encoders
// specialized by Topic (finance, actuarial, multilingual). When no topic
// hint is given the Classifier counts keyword hits per topic and picks the
// best one, falling back to TopicGeneral below the minimum score:
//
//	router, err := embedder.New(embedder.Config{
//	    General: embedder.EncoderConfig{Provider: "local"},
//	    Topics: map[embedder.Topic]embedder.EncoderConfig{
//	        embedder.TopicFinance: {Provider: "openai"},
//	    },
//	}, logger)
//
//	emb, err := router.Embed(ctx, "Basel III capital ratio", "")
//	// emb.Topic == embedder.TopicFinance
//
// A failing specialized encoder is logged and the general encoder is used
// instead (emb.Fallback is set). If the general encoder fails the error
// wraps types.ErrFatalEncoderFailure.
//
// # Vector Spaces
//
// Each encoder produces vectors in its own space, identified by
// Embedding.Space ("provider/model"). Vectors from different spaces are
// never compared; the semantic index partitions its entries by space.
//
// # Caching
//
// Each provider owns an LRU cache keyed by model and content hash:
//
//	cache := embedder.NewCache(10000)
//	if emb, ok := cache.Get(hash); ok {
//	    return emb // cache hit
//	}
package embedder
