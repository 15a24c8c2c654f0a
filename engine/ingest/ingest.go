// Package ingest turns documents into embedded points: chunk, embed each
// chunk with bounded concurrency, then write every point in one upsert.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/reforma-ai/ragqa/engine/chunk"
	"github.com/reforma-ai/ragqa/engine/collection"
	"github.com/reforma-ai/ragqa/engine/domain"
	"github.com/reforma-ai/ragqa/pkg/fn"
	"github.com/reforma-ai/ragqa/pkg/metrics"
	"github.com/reforma-ai/ragqa/pkg/resilience"
)

const (
	// DefaultWorkers is the embedding fan-out.
	DefaultWorkers = 4
	// MaxWorkers caps the embedding fan-out.
	MaxWorkers = 8
	// DefaultCallTimeout bounds one embedding call.
	DefaultCallTimeout = 30 * time.Second
)

// Store is the vector-store surface ingestion writes to.
type Store interface {
	collection.Store
	Upsert(ctx context.Context, collection string, points []domain.Point) error
}

// Persister is implemented by stores that hold points in memory until saved.
// Ingest saves them after every successful upsert.
type Persister interface {
	Persist() error
}

// Options configures an Ingestor.
type Options struct {
	Collection   domain.CollectionSpec
	ChunkSize    int
	ChunkOverlap int
	// Workers is clamped to [1, MaxWorkers]; zero means DefaultWorkers.
	Workers     int
	CallTimeout time.Duration
	Retry       fn.RetryOpts
	// Breaker, when set, guards the embedding of each chunk, retries
	// included. Once it opens the run is aborted as a collaborator outage.
	Breaker *resilience.Breaker
	// Strict escalates a collection schema mismatch to an error.
	Strict bool
	// Progress is called after every chunk with the number done and total.
	Progress func(done, total int)
	Metrics  *metrics.Pipeline
	Logger   *slog.Logger
}

// Ingestor writes documents into the vector collection.
type Ingestor struct {
	store    Store
	embedder domain.Embedder
	manager  *collection.Manager
	opts     Options
	log      *slog.Logger
}

// New creates an Ingestor. Zero options fall back to package defaults.
func New(store Store, embedder domain.Embedder, opts Options) *Ingestor {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = chunk.DefaultSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	opts.Workers = min(opts.Workers, MaxWorkers)
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.DefaultRetry
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = Transient
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		store:    store,
		embedder: embedder,
		manager:  collection.NewManager(store, collection.WithLogger(log), collection.Strict(opts.Strict)),
		opts:     opts,
		log:      log,
	}
}

// Transient reports collaborator outages, which are retried and count against
// a breaker. An open breaker and errors about a single input are not transient.
func Transient(err error) bool {
	return errors.Is(err, domain.ErrCollaboratorUnavailable) && !errors.Is(err, resilience.ErrCircuitOpen)
}

// PointID derives a stable point id from the chunk text and where it came
// from, so re-ingesting the same document overwrites instead of duplicating.
func PointID(source, text string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"\x00"+text)).String()
}

type job struct {
	doc   domain.Document
	chunk domain.Chunk
}

// Ingest ensures the collection, embeds every chunk of docs and upserts the
// resulting points in a single batch. Chunks whose embedding fails and
// documents without text are recorded in the report and skipped. The report
// is returned even when err is not nil.
func (in *Ingestor) Ingest(ctx context.Context, docs []domain.Document) (Report, error) {
	start := time.Now()
	rep := Report{Collection: in.opts.Collection.Name, Documents: len(docs)}

	if err := domain.ValidateChunking(in.opts.ChunkSize, in.opts.ChunkOverlap); err != nil {
		return rep, err
	}
	status, err := in.manager.Ensure(ctx, in.opts.Collection)
	if err != nil {
		return rep, fmt.Errorf("ingest: %w", err)
	}
	rep.CollectionStatus = status.String()

	jobs, err := in.plan(docs, &rep)
	if err != nil {
		return rep, err
	}
	rep.Chunks = len(jobs)

	points, err := in.embedAll(ctx, jobs, &rep)
	if err != nil {
		return rep, err
	}

	unique := fn.UniqueBy(points, func(p domain.Point) string { return p.ID })
	rep.Duplicates = len(points) - len(unique)
	if len(unique) > 0 {
		if err := in.store.Upsert(ctx, in.opts.Collection.Name, unique); err != nil {
			return rep, &UpsertError{Count: len(unique), Err: err}
		}
		if p, ok := in.store.(Persister); ok {
			if err := p.Persist(); err != nil {
				return rep, fmt.Errorf("ingest: %w", err)
			}
		}
	}
	rep.PointsWritten = len(unique)
	rep.Duration = time.Since(start)

	if m := in.opts.Metrics; m != nil {
		m.PointsWritten.Add(int64(rep.PointsWritten))
		m.ChunkFailures.Add(int64(rep.ChunksFailed))
		m.DocumentsSkipped.Add(int64(rep.DocumentsSkipped))
		if info, found, err := in.store.GetCollection(ctx, in.opts.Collection.Name); err == nil && found {
			m.CollectionPoints.Set(int64(info.PointsCount))
		}
	}
	in.log.Info("ingest finished",
		"collection", rep.Collection,
		"documents", rep.Documents,
		"chunks", rep.Chunks,
		"points", rep.PointsWritten,
		"skipped_documents", rep.DocumentsSkipped,
		"failed_chunks", rep.ChunksFailed,
		"duration", rep.Duration,
	)
	return rep, nil
}

// plan chunks every document. Positions are fixed here, before any
// embedding runs, so completion order cannot change them.
func (in *Ingestor) plan(docs []domain.Document, rep *Report) ([]job, error) {
	var jobs []job
	for _, doc := range docs {
		chunks, err := chunk.Document(doc, in.opts.ChunkSize, in.opts.ChunkOverlap)
		if err != nil {
			return nil, fmt.Errorf("ingest: chunk %q: %w", doc.Title, err)
		}
		if len(chunks) == 0 {
			rep.DocumentsSkipped++
			rep.Failures = append(rep.Failures, ItemFailure{
				Title:  doc.Title,
				Reason: domain.ErrEmptyDocument.Error(),
				Err:    domain.ErrEmptyDocument,
			})
			in.log.Warn("skipping empty document", "title", doc.Title, "source", doc.Source)
			continue
		}
		for _, c := range chunks {
			jobs = append(jobs, job{doc: doc, chunk: c})
		}
	}
	return jobs, nil
}

func (in *Ingestor) embedAll(ctx context.Context, jobs []job, rep *Report) ([]domain.Point, error) {
	embed := fn.TracedStage("ingest.embed", in.embedStage())
	var done atomic.Int64
	results := fn.ParMapResult(ctx, jobs, in.opts.Workers, func(ctx context.Context, j job) fn.Result[domain.Point] {
		r := embed(ctx, j)
		if in.opts.Progress != nil {
			in.opts.Progress(int(done.Add(1)), len(jobs))
		}
		return r
	})

	points := make([]domain.Point, 0, len(results))
	var tripped bool
	for i, r := range results {
		p, err := r.Unwrap()
		if err == nil {
			points = append(points, p)
			continue
		}
		j := jobs[i]
		rep.ChunksFailed++
		rep.Failures = append(rep.Failures, ItemFailure{
			Title:    j.doc.Title,
			Position: j.chunk.Position,
			Reason:   err.Error(),
			Err:      err,
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			tripped = true
			continue
		}
		in.log.Warn("chunk embedding failed, skipping",
			"title", j.doc.Title, "position", j.chunk.Position, "err", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if tripped {
		return nil, domain.Unavailable("ingest: embed", resilience.ErrCircuitOpen)
	}
	return points, nil
}

// embedStage embeds one chunk with timeout, retry and breaker, and builds its point.
// The breaker sees one outcome per chunk, after retries, and only collaborator
// outages count against it.
func (in *Ingestor) embedStage() fn.Stage[job, domain.Point] {
	retried := func(ctx context.Context, text string) fn.Result[[]float32] {
		return fn.Retry(ctx, in.opts.Retry, func(ctx context.Context) fn.Result[[]float32] {
			ctx, cancel := context.WithTimeout(ctx, in.opts.CallTimeout)
			defer cancel()
			return fn.FromPair(in.embedder.Embed(ctx, text))
		})
	}
	guarded := retried
	if b := in.opts.Breaker; b != nil {
		guarded = func(ctx context.Context, text string) fn.Result[[]float32] {
			var res fn.Result[[]float32]
			err := b.Call(ctx, func(ctx context.Context) error {
				res = retried(ctx, text)
				if err := res.Error(); Transient(err) {
					return err
				}
				return nil
			})
			if err != nil {
				return fn.Err[[]float32](err)
			}
			return res
		}
	}
	model := in.embedder.Model()
	dim := in.opts.Collection.Dimension

	return func(ctx context.Context, j job) fn.Result[domain.Point] {
		vec, err := guarded(ctx, j.chunk.Text).Unwrap()
		if err != nil {
			return fn.Err[domain.Point](err)
		}
		if len(vec) != dim {
			return fn.Err[domain.Point](fmt.Errorf("embedding has %d dimensions, collection expects %d: %w",
				len(vec), dim, domain.ErrSchemaMismatch))
		}
		source := j.doc.Source
		if source == "" {
			source = j.doc.Title
		}
		return fn.Ok(domain.Point{
			ID:     PointID(source, j.chunk.Text),
			Vector: vec,
			Payload: domain.Payload{
				Title:   j.doc.Title,
				Content: j.chunk.Text,
				Source:  j.doc.Source,
				Index:   j.chunk.Position,
				Model:   model,
			},
		})
	}
}
