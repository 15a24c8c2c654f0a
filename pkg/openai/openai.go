// Package openai adapts go-openai to the embedding and completion
// collaborators of the pipeline.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/reforma-ai/ragqa/engine/domain"
)

// Known embedding models and their vector sizes.
var embeddingDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Dimension returns the vector size of a known embedding model, or 0.
func Dimension(model string) int { return embeddingDims[model] }

// Config is shared by Embedder and Completer.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func newClient(cfg Config) *goopenai.Client {
	c := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c.HTTPClient = &http.Client{Timeout: timeout}
	return goopenai.NewClientWithConfig(c)
}

// Embedder embeds text with an OpenAI embedding model.
type Embedder struct {
	client *goopenai.Client
	model  string
}

// NewEmbedder creates an Embedder for model.
func NewEmbedder(cfg Config, model string) *Embedder {
	return &Embedder{client: newClient(cfg), model: model}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, classify("openai embed", err)
	}
	if len(resp.Data) != 1 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embed: got %d embeddings, want 1", len(resp.Data))
	}
	return resp.Data[0].Embedding, nil
}

// Completer answers with an OpenAI chat model.
type Completer struct {
	client      *goopenai.Client
	model       string
	temperature float32
}

// NewCompleter creates a Completer for model.
func NewCompleter(cfg Config, model string, temperature float64) *Completer {
	return &Completer{client: newClient(cfg), model: model, temperature: float32(temperature)}
}

// Complete sends one system and one user message and returns the reply.
func (c *Completer) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", classify("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify marks transport failures and unavailable statuses as collaborator
// outages; rejected requests keep their plain error.
func classify(op string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if domain.UnavailableStatus(apiErr.HTTPStatusCode) {
			return domain.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		if domain.UnavailableStatus(reqErr.HTTPStatusCode) {
			return domain.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.Unavailable(op, err)
}
