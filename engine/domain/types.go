// Package domain holds the shared types of the ingestion and retrieval
// pipeline: documents, chunks, points and the collection schema.
package domain

import (
	"fmt"
	"strings"
)

// Document is one source article. It is produced by the scraper or the
// on-disk corpus and is never mutated by the pipeline.
type Document struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Title  string `json:"title"`
}

// Chunk is a bounded fragment of exactly one Document.
type Chunk struct {
	Text        string
	ParentTitle string
	Position    int // 1-based within the parent document
}

// Payload is the fixed-shape metadata stored with every point. Missing
// fields read back as empty strings (or zero for Index).
type Payload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Index   int    `json:"index"`
	Model   string `json:"model,omitempty"`
}

// Point is the unit written to a vector collection.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a single nearest-neighbour hit.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload Payload
}

// Distance is the similarity metric of a collection.
type Distance int

const (
	DistanceCosine Distance = iota
	DistanceDot
	DistanceEuclid
)

func (d Distance) String() string {
	switch d {
	case DistanceCosine:
		return "cosine"
	case DistanceDot:
		return "dot"
	case DistanceEuclid:
		return "euclidean"
	default:
		return "unknown"
	}
}

// ParseDistance maps a config value onto a Distance.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return DistanceCosine, nil
	case "dot":
		return DistanceDot, nil
	case "euclid", "euclidean":
		return DistanceEuclid, nil
	}
	return 0, NewConfigError("distance", fmt.Sprintf("unknown metric %q", s))
}

// CollectionSpec is the schema a collection is expected to have.
type CollectionSpec struct {
	Name      string
	Dimension int
	Distance  Distance
}

// Validate rejects specs that cannot be sent to a vector store.
func (s CollectionSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return NewConfigError("collection.name", "must not be empty")
	}
	if s.Dimension <= 0 {
		return NewConfigError("collection.dimension", fmt.Sprintf("must be positive, got %d", s.Dimension))
	}
	return nil
}

// CollectionInfo is what a vector store reports about an existing collection.
// Dimension is zero when the store cannot tell.
type CollectionInfo struct {
	Name        string
	Dimension   int
	Distance    Distance
	PointsCount uint64
}
