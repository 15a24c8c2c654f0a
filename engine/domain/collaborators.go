package domain

import "context"

// Embedder turns text into a vector. Model identifies the embedding model so
// ingest-time and query-time vectors can be checked for compatibility.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Completer produces an LLM answer for a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}
