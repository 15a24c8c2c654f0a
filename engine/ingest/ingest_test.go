package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reforma-ai/ragqa/engine/domain"
	"github.com/reforma-ai/ragqa/engine/semantic"
	"github.com/reforma-ai/ragqa/pkg/fn"
	"github.com/reforma-ai/ragqa/pkg/metrics"
	"github.com/reforma-ai/ragqa/pkg/resilience"
)

const testDim = 16

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// hashEmbedder maps words into a fixed-size bag-of-words vector.
type hashEmbedder struct {
	failOn   func(text string) error
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (e *hashEmbedder) Model() string { return "hash-16" }

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.failOn != nil {
		if err := e.failOn(text); err != nil {
			return nil, err
		}
	}
	vec := make([]float32, testDim)
	vec[0] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[1+h.Sum32()%(testDim-1)]++
	}
	return vec, nil
}

func newStore(t *testing.T) *semantic.LocalStore {
	t.Helper()
	s, err := semantic.NewLocal("")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testOptions() Options {
	return Options{
		Collection:   domain.CollectionSpec{Name: "articles", Dimension: testDim},
		ChunkSize:    120,
		ChunkOverlap: 20,
		Workers:      4,
		Retry:        fn.RetryOpts{MaxAttempts: 1},
		Logger:       quiet,
	}
}

func shortDocs(n int) []domain.Document {
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = domain.Document{
			Title:  fmt.Sprintf("doc-%d", i+1),
			Source: fmt.Sprintf("https://example.org/club/%d", i+1),
			Text:   fmt.Sprintf("Document number %d talks about residence permits and visas.", i+1),
		}
	}
	return docs
}

func pointCount(t *testing.T, s *semantic.LocalStore) uint64 {
	t.Helper()
	info, found, err := s.GetCollection(context.Background(), "articles")
	if err != nil || !found {
		t.Fatalf("GetCollection: found=%v err=%v", found, err)
	}
	return info.PointsCount
}

func TestIngest_PartialFailure(t *testing.T) {
	store := newStore(t)
	emb := &hashEmbedder{failOn: func(text string) error {
		if strings.Contains(text, "number 5 ") {
			return errors.New("embedding backend rejected chunk")
		}
		return nil
	}}
	reg := metrics.New()
	opts := testOptions()
	opts.Metrics = metrics.NewPipeline(reg, "articles")

	rep, err := New(store, emb, opts).Ingest(context.Background(), shortDocs(10))
	if err != nil {
		t.Fatalf("Ingest must not abort on one bad chunk: %v", err)
	}
	if rep.PointsWritten != 9 || rep.ChunksFailed != 1 || rep.DocumentsSkipped != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].Title != "doc-5" || rep.Failures[0].Position != 1 {
		t.Fatalf("failures = %+v", rep.Failures)
	}
	if got := pointCount(t, store); got != 9 {
		t.Fatalf("stored points = %d", got)
	}
	if opts.Metrics.PointsWritten.Value() != 9 || opts.Metrics.ChunkFailures.Value() != 1 || opts.Metrics.CollectionPoints.Value() != 9 {
		t.Fatalf("metrics:\n%s", reg.Render())
	}
	if !strings.Contains(rep.Summary(), "9 points written") || !strings.Contains(rep.Summary(), "doc-5 #1") {
		t.Fatalf("summary = %q", rep.Summary())
	}
}

func TestIngest_EmptyDocumentSkipped(t *testing.T) {
	store := newStore(t)
	docs := append(shortDocs(2), domain.Document{Title: "blank", Text: " \n\t "})

	rep, err := New(store, &hashEmbedder{}, testOptions()).Ingest(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}
	if rep.DocumentsSkipped != 1 || rep.PointsWritten != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if !errors.Is(rep.Failures[0].Err, domain.ErrEmptyDocument) {
		t.Fatalf("failure = %+v", rep.Failures[0])
	}
}

func TestIngest_Idempotent(t *testing.T) {
	store := newStore(t)
	ing := New(store, &hashEmbedder{}, testOptions())
	docs := shortDocs(5)

	for run := 0; run < 2; run++ {
		rep, err := ing.Ingest(context.Background(), docs)
		if err != nil {
			t.Fatal(err)
		}
		if run == 1 && rep.CollectionStatus != "exists" {
			t.Fatalf("second run status = %q", rep.CollectionStatus)
		}
	}
	if got := pointCount(t, store); got != 5 {
		t.Fatalf("re-ingest grew the collection to %d points", got)
	}
}

func TestIngest_DuplicateChunksMerged(t *testing.T) {
	store := newStore(t)
	doc := domain.Document{Title: "t", Source: "s", Text: "same text"}
	rep, err := New(store, &hashEmbedder{}, testOptions()).Ingest(context.Background(), []domain.Document{doc, doc})
	if err != nil {
		t.Fatal(err)
	}
	if rep.PointsWritten != 1 || rep.Duplicates != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestIngest_PositionsAndBoundedFanOut(t *testing.T) {
	store := newStore(t)
	emb := &hashEmbedder{delay: 2 * time.Millisecond}
	opts := testOptions()
	opts.Workers = 3
	var mu sync.Mutex
	var progress []int
	opts.Progress = func(done, total int) {
		mu.Lock()
		progress = append(progress, done)
		mu.Unlock()
	}

	var words []string
	for i := 0; i < 200; i++ {
		words = append(words, fmt.Sprintf("word%03d", i))
	}
	text := strings.Join(words, " ")
	rep, err := New(store, emb, opts).Ingest(context.Background(), []domain.Document{{Title: "long", Source: "s", Text: text}})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Chunks < 5 || rep.PointsWritten != rep.Chunks {
		t.Fatalf("report = %+v", rep)
	}
	if emb.peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds workers", emb.peak.Load())
	}
	if len(progress) != rep.Chunks {
		t.Fatalf("progress called %d times for %d chunks", len(progress), rep.Chunks)
	}

	hits, err := store.Search(context.Background(), "articles", make16(1), rep.Chunks)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int]bool{}
	for _, h := range hits {
		if h.Payload.Model != "hash-16" || h.Payload.Title != "long" {
			t.Fatalf("payload = %+v", h.Payload)
		}
		seen[h.Payload.Index] = true
	}
	for i := 1; i <= rep.Chunks; i++ {
		if !seen[i] {
			t.Fatalf("missing index %d in %v", i, seen)
		}
	}
}

func make16(v float32) []float32 {
	out := make([]float32, testDim)
	for i := range out {
		out[i] = v
	}
	return out
}

type failingUpsert struct{ *semantic.LocalStore }

func (failingUpsert) Upsert(context.Context, string, []domain.Point) error {
	return domain.Unavailable("upsert", errors.New("connection reset"))
}

func TestIngest_UpsertFailureIsFatal(t *testing.T) {
	store := failingUpsert{newStore(t)}
	rep, err := New(store, &hashEmbedder{}, testOptions()).Ingest(context.Background(), shortDocs(4))

	var ue *UpsertError
	if !errors.As(err, &ue) || ue.Count != 4 {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("cause lost: %v", err)
	}
	if rep.PointsWritten != 0 || rep.Chunks != 4 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestIngest_InvalidConfigBeforeIO(t *testing.T) {
	emb := &hashEmbedder{}
	opts := testOptions()
	opts.ChunkOverlap = opts.ChunkSize

	_, err := New(newStore(t), emb, opts).Ingest(context.Background(), shortDocs(1))
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
	if emb.calls.Load() != 0 {
		t.Fatal("no embedding call expected")
	}
}

func TestPlan_ChunkingErrorIsReturned(t *testing.T) {
	opts := testOptions()
	opts.ChunkOverlap = opts.ChunkSize
	in := New(newStore(t), &hashEmbedder{}, opts)

	var rep Report
	jobs, err := in.plan(shortDocs(2), &rep)
	if !errors.Is(err, domain.ErrInvalidConfig) || jobs != nil {
		t.Fatalf("jobs=%v err=%v", jobs, err)
	}
	if rep.DocumentsSkipped != 0 {
		t.Fatalf("bad chunking must not look like empty documents: %+v", rep)
	}
}

func TestIngest_DimensionMismatchSkipsChunk(t *testing.T) {
	opts := testOptions()
	opts.Collection.Dimension = 8
	rep, err := New(newStore(t), &hashEmbedder{}, opts).Ingest(context.Background(), shortDocs(2))
	if err != nil {
		t.Fatal(err)
	}
	if rep.PointsWritten != 0 || rep.ChunksFailed != 2 || !errors.Is(rep.Failures[0].Err, domain.ErrSchemaMismatch) {
		t.Fatalf("report = %+v", rep)
	}
}

func TestIngest_RetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	emb := &hashEmbedder{failOn: func(string) error {
		if attempts.Add(1) == 1 {
			return domain.Unavailable("embed", errors.New("503"))
		}
		return nil
	}}
	opts := testOptions()
	opts.Workers = 1
	opts.Retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}

	rep, err := New(newStore(t), emb, opts).Ingest(context.Background(), shortDocs(1))
	if err != nil || rep.PointsWritten != 1 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
	if emb.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", emb.calls.Load())
	}
}

func TestIngest_BreakerAbortsRun(t *testing.T) {
	emb := &hashEmbedder{failOn: func(string) error {
		return domain.Unavailable("embed", errors.New("connection refused"))
	}}
	opts := testOptions()
	opts.Workers = 1
	opts.Breaker = resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Cooldown: time.Minute})

	_, err := New(newStore(t), emb, opts).Ingest(context.Background(), shortDocs(6))
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v", err)
	}
	if emb.calls.Load() != 2 {
		t.Fatalf("breaker should stop calls after threshold, got %d", emb.calls.Load())
	}
}

func TestIngest_BreakerKeepsPartialFailures(t *testing.T) {
	rejected := func(text string) error {
		for _, n := range []string{"3", "4", "5", "6", "7"} {
			if strings.Contains(text, "number "+n+" ") {
				return errors.New("400 input rejected")
			}
		}
		return nil
	}
	tests := []struct {
		name      string
		failOn    func(string) error
		attempts  int
		written   int
		failed    int
		wantCalls int32
	}{
		{"rejected chunks in a row", rejected, 1, 5, 5, 10},
		{"one chunk down through every retry", func(text string) error {
			if strings.Contains(text, "number 5 ") {
				return domain.Unavailable("embed", errors.New("503"))
			}
			return nil
		}, 5, 9, 1, 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			emb := &hashEmbedder{failOn: tt.failOn}
			opts := testOptions()
			opts.Workers = 1
			opts.Retry = fn.RetryOpts{MaxAttempts: tt.attempts, InitialWait: time.Millisecond}
			opts.Breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)

			rep, err := New(store, emb, opts).Ingest(context.Background(), shortDocs(10))
			if err != nil {
				t.Fatalf("Ingest aborted: %v", err)
			}
			if rep.PointsWritten != tt.written || rep.ChunksFailed != tt.failed {
				t.Fatalf("report = %+v", rep)
			}
			if got := pointCount(t, store); got != uint64(tt.written) {
				t.Fatalf("stored points = %d", got)
			}
			if emb.calls.Load() != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", emb.calls.Load(), tt.wantCalls)
			}
			if st := opts.Breaker.State(); st != resilience.StateClosed {
				t.Fatalf("breaker state = %s", st)
			}
		})
	}
}

func TestIngest_PersistsAfterRun(t *testing.T) {
	dir := t.TempDir()
	store, err := semantic.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(store, &hashEmbedder{}, testOptions()).Ingest(context.Background(), shortDocs(3)); err != nil {
		t.Fatal(err)
	}

	// No Close: a process dying here must not lose the run.
	reopened, err := semantic.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := pointCount(t, reopened); got != 3 {
		t.Fatalf("points after reopen = %d, want 3", got)
	}
}

type unreachableStore struct{ *semantic.LocalStore }

func (unreachableStore) GetCollection(context.Context, string) (domain.CollectionInfo, bool, error) {
	return domain.CollectionInfo{}, false, domain.Unavailable("get", errors.New("dial tcp: refused"))
}

func TestIngest_StoreUnavailable(t *testing.T) {
	emb := &hashEmbedder{}
	_, err := New(unreachableStore{newStore(t)}, emb, testOptions()).Ingest(context.Background(), shortDocs(1))
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if emb.calls.Load() != 0 {
		t.Fatal("must not embed when the store is unreachable")
	}
}

func TestPointID(t *testing.T) {
	a := PointID("src", "text")
	if a != PointID("src", "text") {
		t.Fatal("PointID must be deterministic")
	}
	if a == PointID("src", "other") || a == PointID("other", "text") {
		t.Fatal("PointID must depend on source and text")
	}
	if len(a) != 36 {
		t.Fatalf("not a uuid: %q", a)
	}
}
