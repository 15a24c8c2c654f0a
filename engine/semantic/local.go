package semantic

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"

	"github.com/reforma-ai/ragqa/engine/domain"
)

const (
	snapshotFile = "chromem.gob.gz"
	// schemaFile keeps collection dimensions, which the snapshot does not
	// expose after import.
	schemaFile = "schema.yaml"
)

var errNoEmbedder = errors.New("semantic: local store embeds nothing, vectors must be precomputed")

// LocalStore is an in-process vector store on chromem-go. It only supports
// cosine similarity. With a non-empty dir the database is imported on open
// and exported by Persist.
type LocalStore struct {
	db  *chromem.DB
	dir string

	mu   sync.RWMutex
	dims map[string]int
}

// NewLocal opens a LocalStore. An empty dir keeps everything in memory.
func NewLocal(dir string) (*LocalStore, error) {
	s := &LocalStore{db: chromem.NewDB(), dir: dir, dims: make(map[string]int)}
	if dir == "" {
		return s, nil
	}
	path := filepath.Join(dir, snapshotFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err := s.db.ImportFromFile(path, ""); err != nil {
		return nil, fmt.Errorf("semantic: import %s: %w", path, err)
	}
	if err := s.loadSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) loadSchema() error {
	path := filepath.Join(s.dir, schemaFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("semantic: read %s: %w", path, err)
	}
	var dims map[string]int
	if err := yaml.Unmarshal(data, &dims); err != nil {
		return fmt.Errorf("semantic: parse %s: %w", path, err)
	}
	for name, dim := range dims {
		if s.collection(name) != nil {
			s.dims[name] = dim
		}
	}
	return nil
}

// Persist exports the database to dir. It is a no-op for in-memory stores.
func (s *LocalStore) Persist() error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("semantic: persist: %w", err)
	}
	if err := s.db.ExportToFile(filepath.Join(s.dir, snapshotFile), true, ""); err != nil {
		return fmt.Errorf("semantic: persist: %w", err)
	}
	s.mu.RLock()
	data, err := yaml.Marshal(s.dims)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("semantic: persist schema: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, schemaFile), data, 0o644); err != nil {
		return fmt.Errorf("semantic: persist schema: %w", err)
	}
	return nil
}

// Close persists the database.
func (s *LocalStore) Close() error { return s.Persist() }

func noEmbed(context.Context, string) ([]float32, error) { return nil, errNoEmbedder }

func (s *LocalStore) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, noEmbed)
}

// GetCollection reports the collection schema. Dimension is 0 only for a
// snapshot written without its schema file.
func (s *LocalStore) GetCollection(_ context.Context, name string) (domain.CollectionInfo, bool, error) {
	col := s.collection(name)
	if col == nil {
		return domain.CollectionInfo{}, false, nil
	}
	s.mu.RLock()
	dim := s.dims[name]
	s.mu.RUnlock()
	return domain.CollectionInfo{
		Name:        name,
		Dimension:   dim,
		Distance:    domain.DistanceCosine,
		PointsCount: uint64(col.Count()),
	}, true, nil
}

// CreateCollection creates an empty collection.
func (s *LocalStore) CreateCollection(_ context.Context, spec domain.CollectionSpec) error {
	if spec.Distance != domain.DistanceCosine {
		return domain.NewConfigError("store.backend", "local store supports cosine distance only, got "+spec.Distance.String())
	}
	meta := map[string]string{"dimension": strconv.Itoa(spec.Dimension)}
	if _, err := s.db.CreateCollection(spec.Name, meta, noEmbed); err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", spec.Name, err)
	}
	s.mu.Lock()
	s.dims[spec.Name] = spec.Dimension
	s.mu.Unlock()
	return nil
}

// DeleteCollection drops the collection if it exists.
func (s *LocalStore) DeleteCollection(_ context.Context, name string) error {
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", name, err)
	}
	s.mu.Lock()
	delete(s.dims, name)
	s.mu.Unlock()
	return nil
}

// Upsert adds the points. A point whose id already exists is replaced.
func (s *LocalStore) Upsert(ctx context.Context, collection string, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	col := s.collection(collection)
	if col == nil {
		return fmt.Errorf("semantic: upsert into %s: %w", collection, domain.ErrCollectionNotFound)
	}
	s.mu.RLock()
	dim := s.dims[collection]
	s.mu.RUnlock()
	if dim == 0 {
		dim = len(points[0].Vector)
	}
	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("semantic: upsert into %s: point %s has %d dimensions, collection has %d: %w",
				collection, p.ID, len(p.Vector), dim, domain.ErrSchemaMismatch)
		}
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Embedding: p.Vector,
			Content:   p.Payload.Content,
			Metadata:  payloadToMap(p.Payload),
		}
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), collection, err)
	}

	s.mu.Lock()
	s.dims[collection] = dim
	s.mu.Unlock()
	return nil
}

// Search returns up to topK points by cosine similarity, best first.
func (s *LocalStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]domain.ScoredPoint, error) {
	col := s.collection(collection)
	if col == nil {
		return nil, fmt.Errorf("semantic: search %s: %w", collection, domain.ErrCollectionNotFound)
	}

	// chromem-go requires 0 < nResults <= collection size.
	count := col.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", collection, err)
	}
	out := make([]domain.ScoredPoint, len(results))
	for i, r := range results {
		p := mapToPayload(r.Metadata)
		p.Content = r.Content
		out[i] = domain.ScoredPoint{ID: r.ID, Score: r.Similarity, Payload: p}
	}
	return out, nil
}

func payloadToMap(p domain.Payload) map[string]string {
	m := map[string]string{
		"title":  p.Title,
		"source": p.Source,
		"index":  strconv.Itoa(p.Index),
	}
	if p.Model != "" {
		m["model"] = p.Model
	}
	return m
}

func mapToPayload(m map[string]string) domain.Payload {
	index, _ := strconv.Atoi(m["index"])
	return domain.Payload{
		Title:  m["title"],
		Source: m["source"],
		Index:  index,
		Model:  m["model"],
	}
}
