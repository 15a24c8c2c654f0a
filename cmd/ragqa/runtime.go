package main

import (
	"fmt"
	"log/slog"

	"github.com/reforma-ai/ragqa/engine/domain"
	"github.com/reforma-ai/ragqa/engine/ingest"
	"github.com/reforma-ai/ragqa/engine/rag"
	"github.com/reforma-ai/ragqa/engine/semantic"
	"github.com/reforma-ai/ragqa/pkg/config"
	"github.com/reforma-ai/ragqa/pkg/fn"
	"github.com/reforma-ai/ragqa/pkg/metrics"
	"github.com/reforma-ai/ragqa/pkg/ollama"
	"github.com/reforma-ai/ragqa/pkg/openai"
	"github.com/reforma-ai/ragqa/pkg/resilience"
)

// vectorStore is what both backends offer.
type vectorStore interface {
	ingest.Store
	rag.Searcher
	Close() error
}

// runtime holds the collaborators built once per process.
type runtime struct {
	cfg      *config.Config
	log      *slog.Logger
	spec     domain.CollectionSpec
	store    vectorStore
	embedder domain.Embedder
	registry *metrics.Registry
	metrics  *metrics.Pipeline
	breaker  *resilience.Breaker
}

func buildRuntime(cfg *config.Config, log *slog.Logger) (*runtime, error) {
	spec, err := cfg.CollectionSpec()
	if err != nil {
		return nil, err
	}
	if known := openai.Dimension(cfg.Embedder.Model); cfg.Embedder.Provider == config.ProviderOpenAI &&
		known > 0 && known != spec.Dimension {
		return nil, domain.NewConfigError("collection.dimension",
			fmt.Sprintf("%s produces %d-dimensional vectors, configured %d", cfg.Embedder.Model, known, spec.Dimension))
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := metrics.New()
	opts := resilience.DefaultBreakerOpts
	opts.IsFailure = ingest.Transient
	opts.OnStateChange = func(from, to resilience.State) {
		log.Warn("embedding breaker state changed", "from", from.String(), "to", to.String())
	}

	log.Debug("runtime ready",
		"collection", spec.Name,
		"dimension", spec.Dimension,
		"store", cfg.Store.Backend,
		"embedder", cfg.Embedder.Provider+"/"+cfg.Embedder.Model,
	)
	return &runtime{
		cfg:      cfg,
		log:      log,
		spec:     spec,
		store:    store,
		embedder: embedder,
		registry: reg,
		metrics:  metrics.NewPipeline(reg, spec.Name),
		breaker:  resilience.NewBreaker(opts),
	}, nil
}

func newEmbedder(cfg *config.Config) (domain.Embedder, error) {
	e := cfg.Embedder
	switch e.Provider {
	case config.ProviderOpenAI:
		if e.APIKey == "" {
			return nil, domain.NewConfigError("embedder.api_key", "OPENAI_API_KEY is not set")
		}
		return openai.NewEmbedder(openai.Config{APIKey: e.APIKey, BaseURL: e.BaseURL, Timeout: e.Timeout}, e.Model), nil
	case config.ProviderOllama:
		return ollama.New(e.BaseURL, e.Model, ollama.WithTimeout(e.Timeout)), nil
	}
	return nil, domain.NewConfigError("embedder.provider", fmt.Sprintf("unknown provider %q", e.Provider))
}

func newCompleter(cfg *config.Config) (domain.Completer, error) {
	l := cfg.LLM
	switch l.Provider {
	case config.ProviderOpenAI:
		if l.APIKey == "" {
			return nil, domain.NewConfigError("llm.api_key", "OPENAI_API_KEY is not set")
		}
		return openai.NewCompleter(openai.Config{APIKey: l.APIKey, BaseURL: l.BaseURL, Timeout: l.Timeout}, l.Model, l.Temperature), nil
	case config.ProviderOllama:
		return ollama.New(l.BaseURL, l.Model, ollama.WithTimeout(l.Timeout), ollama.WithTemperature(l.Temperature)), nil
	}
	return nil, domain.NewConfigError("llm.provider", fmt.Sprintf("unknown provider %q", l.Provider))
}

func newStore(cfg *config.Config) (vectorStore, error) {
	s := cfg.Store
	switch s.Backend {
	case config.BackendQdrant:
		return semantic.NewQdrant(s.Addr, semantic.QdrantOptions{APIKey: s.APIKey, TLS: s.TLS, Timeout: s.Timeout})
	case config.BackendLocal:
		return semantic.NewLocal(s.LocalPath)
	}
	return nil, domain.NewConfigError("store.backend", fmt.Sprintf("unknown backend %q", s.Backend))
}

func (rt *runtime) ingestor(progress func(done, total int)) *ingest.Ingestor {
	retry := fn.DefaultRetry
	retry.MaxAttempts = rt.cfg.Ingest.RetryAttempts
	retry.OnRetry = func(attempt int, err error) {
		rt.log.Debug("embedding retry", "attempt", attempt, "err", err)
	}
	return ingest.New(rt.store, rt.embedder, ingest.Options{
		Collection:   rt.spec,
		ChunkSize:    rt.cfg.Chunk.Size,
		ChunkOverlap: rt.cfg.Chunk.Overlap,
		Workers:      rt.cfg.Ingest.Workers,
		CallTimeout:  rt.cfg.Embedder.Timeout,
		Retry:        retry,
		Breaker:      rt.breaker,
		Strict:       rt.cfg.Collection.Strict,
		Progress:     progress,
		Metrics:      rt.metrics,
		Logger:       rt.log,
	})
}

func (rt *runtime) retriever() *rag.Retriever {
	return rag.NewRetriever(rt.store, rt.embedder, rag.RetrieverOptions{
		Collection:  rt.spec.Name,
		Dimension:   rt.spec.Dimension,
		CallTimeout: rt.cfg.Embedder.Timeout,
		Breaker:     rt.breaker,
		Metrics:     rt.metrics,
		Logger:      rt.log,
	})
}

func (rt *runtime) assistant() (*rag.Assistant, error) {
	completer, err := newCompleter(rt.cfg)
	if err != nil {
		return nil, err
	}
	return rag.NewAssistant(rt.retriever(), completer, rag.AssistantOptions{
		TopK:   rt.cfg.Retrieve.TopK,
		Logger: rt.log,
	}), nil
}

func (rt *runtime) Close() error {
	if err := rt.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
