// Package rag retrieves context for a question and asks the LLM to answer
// from it.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reforma-ai/ragqa/engine/domain"
	"github.com/reforma-ai/ragqa/pkg/fn"
	"github.com/reforma-ai/ragqa/pkg/metrics"
	"github.com/reforma-ai/ragqa/pkg/resilience"
)

const (
	// DefaultTopK is the number of fragments retrieved per question.
	DefaultTopK = 5
	// ContextSeparator separates fragments in the assembled context.
	ContextSeparator = "\n\n---\n\n"
)

// Searcher is the vector-store surface retrieval needs.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]domain.ScoredPoint, error)
}

// RetrieverOptions configures a Retriever.
type RetrieverOptions struct {
	Collection string
	// Dimension, when set, is checked against every query embedding.
	Dimension   int
	CallTimeout time.Duration
	// Breaker, when set, guards query embedding.
	Breaker *resilience.Breaker
	Metrics *metrics.Pipeline
	Logger  *slog.Logger
}

// Retriever embeds a query and returns the nearest fragments as context.
type Retriever struct {
	store    Searcher
	embedder domain.Embedder
	opts     RetrieverOptions
	log      *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(store Searcher, embedder domain.Embedder, opts RetrieverOptions) *Retriever {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{store: store, embedder: embedder, opts: opts, log: log}
}

// TraceEntry describes one retrieved fragment for diagnostics.
type TraceEntry struct {
	Rank  int     `json:"rank"`
	Score float32 `json:"score"`
	Title string  `json:"title"`
}

func (e TraceEntry) String() string {
	return fmt.Sprintf("%d) score=%.3f, title=%s", e.Rank, e.Score, e.Title)
}

// Hit is a retrieved fragment with its rank.
type Hit struct {
	Rank    int            `json:"rank"`
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload domain.Payload `json:"payload"`
}

// Result is what a retrieval produced. An empty Result is a valid answer.
type Result struct {
	Context string       `json:"context"`
	Trace   []TraceEntry `json:"trace"`
	Hits    []Hit        `json:"hits"`
}

// NoResults is the trace line of an empty retrieval.
const NoResults = "no results"

// Empty reports whether nothing was found.
func (r Result) Empty() bool { return len(r.Hits) == 0 }

// TraceLines renders the trace, or a single NoResults line.
func (r Result) TraceLines() []string { return traceLines(r.Trace) }

// TraceText renders the trace as a block for debug output.
func (r Result) TraceText() string { return traceText(r.Trace) }

func traceLines(trace []TraceEntry) []string {
	if len(trace) == 0 {
		return []string{NoResults}
	}
	return fn.Map(trace, TraceEntry.String)
}

func traceText(trace []TraceEntry) string {
	if len(trace) == 0 {
		return "Nothing found in the collection."
	}
	return "Retrieved fragments:\n" + strings.Join(traceLines(trace), "\n")
}

type query struct {
	text string
	topK int
}

type searchInput struct {
	vector []float32
	topK   int
}

// Retrieve returns the topK fragments closest to text. Finding nothing is not
// an error. Fragments embedded with another model than the query fail with
// ErrModelMismatch.
func (r *Retriever) Retrieve(ctx context.Context, text string, topK int) (Result, error) {
	if topK <= 0 {
		return Result{}, domain.NewConfigError("retrieve.top_k", fmt.Sprintf("must be positive, got %d", topK))
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, domain.ErrEmptyQuestion
	}

	start := time.Now()
	if m := r.opts.Metrics; m != nil {
		m.Queries.Inc()
		defer m.QueryDuration.Since(start)
	}

	embed := r.embedStage()
	if r.opts.Breaker != nil {
		embed = resilience.BreakerStage(r.opts.Breaker, embed)
	}
	pipeline := fn.Then(
		fn.TracedStage("rag.embed", embed),
		fn.Then(
			fn.TracedStage("rag.search", r.searchStage()),
			fn.MapStage(assemble),
		),
	)
	res, err := pipeline(ctx, query{text: text, topK: topK}).Unwrap()
	if err != nil {
		return Result{}, err
	}
	if err := r.checkModel(res.Hits); err != nil {
		return Result{}, err
	}

	if res.Empty() {
		r.log.Info("retrieval found nothing", "collection", r.opts.Collection)
		if m := r.opts.Metrics; m != nil {
			m.EmptyQueries.Inc()
		}
	} else {
		r.log.Debug("retrieval done", "collection", r.opts.Collection, "hits", len(res.Hits),
			"best_score", res.Hits[0].Score, "duration", time.Since(start))
	}
	return res, nil
}

func (r *Retriever) embedStage() fn.Stage[query, searchInput] {
	return func(ctx context.Context, q query) fn.Result[searchInput] {
		ctx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
		vec, err := r.embedder.Embed(ctx, q.text)
		if err != nil {
			return fn.Err[searchInput](fmt.Errorf("rag: embed query: %w", err))
		}
		if d := r.opts.Dimension; d > 0 && len(vec) != d {
			return fn.Err[searchInput](fmt.Errorf("rag: query embedding has %d dimensions, collection expects %d: %w",
				len(vec), d, domain.ErrSchemaMismatch))
		}
		return fn.Ok(searchInput{vector: vec, topK: q.topK})
	}
}

func (r *Retriever) searchStage() fn.Stage[searchInput, []domain.ScoredPoint] {
	return func(ctx context.Context, in searchInput) fn.Result[[]domain.ScoredPoint] {
		ctx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
		hits, err := r.store.Search(ctx, r.opts.Collection, in.vector, in.topK)
		if err != nil {
			return fn.Err[[]domain.ScoredPoint](fmt.Errorf("rag: search %s: %w", r.opts.Collection, err))
		}
		return fn.Ok(hits)
	}
}

// assemble renders hits in store order, which is best first.
func assemble(points []domain.ScoredPoint) Result {
	if len(points) == 0 {
		return Result{Trace: []TraceEntry{}, Hits: []Hit{}}
	}
	pieces := make([]string, len(points))
	res := Result{
		Trace: make([]TraceEntry, len(points)),
		Hits:  make([]Hit, len(points)),
	}
	for i, p := range points {
		rank := i + 1
		pieces[i] = fmt.Sprintf("[%d] %s\n%s", rank, p.Payload.Title, p.Payload.Content)
		res.Trace[i] = TraceEntry{Rank: rank, Score: p.Score, Title: p.Payload.Title}
		res.Hits[i] = Hit{Rank: rank, ID: p.ID, Score: p.Score, Payload: p.Payload}
	}
	res.Context = strings.Join(pieces, ContextSeparator)
	return res
}

// checkModel rejects fragments embedded with a different model. Fragments
// without a recorded model are accepted.
func (r *Retriever) checkModel(hits []Hit) error {
	want := r.embedder.Model()
	var errs []error
	for _, h := range hits {
		if h.Payload.Model != "" && h.Payload.Model != want {
			errs = append(errs, fmt.Errorf("point %s embedded with %q", h.ID, h.Payload.Model))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("rag: query model %q: %w: %w", want, domain.ErrModelMismatch, errors.Join(errs...))
}
