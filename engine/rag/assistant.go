package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reforma-ai/ragqa/engine/domain"
	"github.com/reforma-ai/ragqa/pkg/resilience"
)

// DefaultSystemPrompt keeps the model inside the retrieved knowledge base.
const DefaultSystemPrompt = `You are an internal assistant for entrepreneurs and accountants.
Your job is to explain the 2026 tax reform.
Answer briefly, in plain language, and strictly from the context fragments you are given.

If the context does not hold enough information for a precise answer:
- say honestly that the data is insufficient,
- do NOT invent legal norms or figures,
- you may suggest how to phrase the question more precisely.

Do not use any context that was not explicitly passed to you.`

// Retrieval is what the assistant needs from a Retriever.
type Retrieval interface {
	Retrieve(ctx context.Context, text string, topK int) (Result, error)
}

// AssistantOptions configures an Assistant.
type AssistantOptions struct {
	TopK         int
	SystemPrompt string
	Logger       *slog.Logger
}

// Assistant answers questions grounded in retrieved context.
type Assistant struct {
	retriever Retrieval
	completer domain.Completer
	opts      AssistantOptions
	log       *slog.Logger
}

// NewAssistant creates an Assistant.
func NewAssistant(r Retrieval, c domain.Completer, opts AssistantOptions) *Assistant {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Assistant{retriever: r, completer: c, opts: opts, log: log}
}

// Answer is a completed question.
type Answer struct {
	Question string       `json:"question"`
	Text     string       `json:"answer"`
	Context  string       `json:"context"`
	Trace    []TraceEntry `json:"trace"`
	// Grounded is false when no context was found and the model was told so.
	Grounded bool `json:"grounded"`
}

// UserPrompt builds the user message. Without context it tells the model so,
// letting it decline instead of making an answer up.
func UserPrompt(question, context string) string {
	if context == "" {
		return "User question:\n" + question + "\n\n" +
			"Note: no context was found in the knowledge base. " +
			"If you are not sure, answer that there is not enough information for a precise answer."
	}
	return "User question:\n" + question + "\n\n" +
		"Context on the 2026 reform (knowledge base fragments):\n" + context
}

// Ask validates question, retrieves context and asks the completer.
func (a *Assistant) Ask(ctx context.Context, question string) (Answer, error) {
	q, err := domain.ValidateQuestion(question)
	if err != nil {
		return Answer{}, err
	}

	res, err := a.retriever.Retrieve(ctx, q, a.opts.TopK)
	if err != nil {
		return Answer{}, err
	}

	text, err := a.completer.Complete(ctx, a.opts.SystemPrompt, UserPrompt(q, res.Context))
	if err != nil {
		return Answer{}, fmt.Errorf("rag: complete: %w", err)
	}
	a.log.Info("question answered", "question_len", len(q), "fragments", len(res.Hits), "grounded", !res.Empty())

	return Answer{
		Question: q,
		Text:     text,
		Context:  res.Context,
		Trace:    res.Trace,
		Grounded: !res.Empty(),
	}, nil
}

// Markdown renders the answer with the context it used and a collapsible
// debug block holding the retrieval trace.
func (a Answer) Markdown() string {
	parts := []string{
		"**Question:** " + a.Question + "\n",
		"**Answer:**\n" + a.Text,
	}
	if a.Context != "" {
		parts = append(parts, "\n---\n**Context used from the knowledge base:**\n", a.Context)
	}
	parts = append(parts,
		"\n---\n<details><summary>Debug details</summary>\n\n",
		traceText(a.Trace),
		"\n</details>",
	)
	return strings.Join(parts, "\n")
}

// FallbackAnswer turns a failed Ask into a message fit for the end user.
func FallbackAnswer(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrEmptyQuestion):
		return "Please ask a question."
	case errors.Is(err, domain.ErrQuestionTooLong):
		return fmt.Sprintf("The question is too long, please keep it under %d characters.", domain.MaxQuestionLength)
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, domain.ErrCollaboratorUnavailable):
		return "The assistant cannot reach its services right now.\n`" + err.Error() + "`\n\n" +
			"Check that the vector store is running and the API key is valid, then try again."
	case errors.Is(err, domain.ErrModelMismatch), errors.Is(err, domain.ErrSchemaMismatch), errors.Is(err, domain.ErrCollectionNotFound):
		return "The knowledge base is not compatible with the current configuration.\n`" + err.Error() + "`\n\n" +
			"Re-ingest the documents with the configured embedding model."
	default:
		return "The assistant hit an internal error.\n`" + err.Error() + "`"
	}
}
