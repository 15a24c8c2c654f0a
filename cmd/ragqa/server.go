package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/reforma-ai/ragqa/engine/domain"
	"github.com/reforma-ai/ragqa/engine/rag"
	"github.com/reforma-ai/ragqa/pkg/metrics"
	"github.com/reforma-ai/ragqa/pkg/mid"
	"github.com/reforma-ai/ragqa/pkg/resilience"
)

type asker interface {
	Ask(ctx context.Context, question string) (rag.Answer, error)
}

// api serves the HTTP endpoints.
type api struct {
	retriever rag.Retrieval
	assistant asker
	topK      int
	log       *slog.Logger
}

func newRouter(a *api, reg *metrics.Registry, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(mid.OTel("ragqa"))
	r.Use(middleware.RequestID)
	r.Use(mid.Recover(a.log))
	r.Use(mid.Logger(a.log))
	r.Use(mid.Metrics(reg))
	r.Use(middleware.Timeout(90 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/health", handleHealth)
	r.Post("/api/ask", a.handleAsk)
	r.Post("/api/retrieve", a.handleRetrieve)
	r.Method(http.MethodGet, "/metrics", reg.Handler())
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// ErrorResponse carries a user-facing message and the underlying error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *api) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	ans, err := a.assistant.Ask(r.Context(), req.Question)
	if err != nil {
		a.fail(w, "ask", err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// RetrieveRequest is the JSON body for POST /api/retrieve. TopK 0 uses the
// configured default.
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// RetrieveResponse is the retrieval result with the rendered trace.
type RetrieveResponse struct {
	Context string    `json:"context"`
	Trace   []string  `json:"trace"`
	Hits    []rag.Hit `json:"hits"`
}

func (a *api) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	topK := req.TopK
	if topK == 0 {
		topK = a.topK
	}
	res, err := a.retriever.Retrieve(r.Context(), req.Query, topK)
	if err != nil {
		a.fail(w, "retrieve", err)
		return
	}
	hits := res.Hits
	if hits == nil {
		hits = []rag.Hit{}
	}
	writeJSON(w, http.StatusOK, RetrieveResponse{Context: res.Context, Trace: res.TraceLines(), Hits: hits})
}

func (a *api) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.log.Error(op+" failed", "err", err)
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Message: rag.FallbackAnswer(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuestion), errors.Is(err, domain.ErrQuestionTooLong),
		errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, domain.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCollectionNotFound), errors.Is(err, domain.ErrModelMismatch),
		errors.Is(err, domain.ErrSchemaMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
