package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reforma-ai/ragqa/engine/domain"
	"github.com/reforma-ai/ragqa/engine/rag"
	"github.com/reforma-ai/ragqa/pkg/metrics"
	"github.com/reforma-ai/ragqa/pkg/resilience"
)

type fakeRetriever struct {
	res   rag.Result
	err   error
	topK  int
	query string
}

func (f *fakeRetriever) Retrieve(_ context.Context, text string, topK int) (rag.Result, error) {
	f.query, f.topK = text, topK
	return f.res, f.err
}

type fakeAsker struct {
	ans rag.Answer
	err error
}

func (f *fakeAsker) Ask(_ context.Context, q string) (rag.Answer, error) {
	if f.err != nil {
		return rag.Answer{}, f.err
	}
	a := f.ans
	a.Question = q
	return a, nil
}

func newTestRouter(r *fakeRetriever, a *fakeAsker) (http.Handler, *metrics.Registry) {
	reg := metrics.New()
	return newRouter(&api{retriever: r, assistant: a, topK: 5, log: quietLogger()}, reg, []string{"*"}), reg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestRouter(&fakeRetriever{}, &fakeAsker{})
	rec := do(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp["status"] != "ok" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestAskEndpoint(t *testing.T) {
	h, _ := newTestRouter(&fakeRetriever{}, &fakeAsker{ans: rag.Answer{Text: "Yes.", Grounded: true}})
	rec := do(t, h, http.MethodPost, "/api/ask", `{"question":"Is VAT due?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ans rag.Answer
	if err := json.NewDecoder(rec.Body).Decode(&ans); err != nil {
		t.Fatal(err)
	}
	if ans.Question != "Is VAT due?" || ans.Text != "Yes." || !ans.Grounded {
		t.Errorf("answer = %+v", ans)
	}
}

func TestAskEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"invalid json", "not json", nil, http.StatusBadRequest},
		{"empty question", `{"question":""}`, domain.ErrEmptyQuestion, http.StatusBadRequest},
		{"store down", `{"question":"q"}`, domain.Unavailable("search", fmt.Errorf("dial tcp")), http.StatusServiceUnavailable},
		{"breaker open", `{"question":"q"}`, resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"model mismatch", `{"question":"q"}`, fmt.Errorf("rag: %w", domain.ErrModelMismatch), http.StatusConflict},
		{"unknown", `{"question":"q"}`, fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(&fakeRetriever{}, &fakeAsker{err: tt.err})
			rec := do(t, h, http.MethodPost, "/api/ask", tt.body)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("unexpected error body %q", rec.Body.String())
			}
			if tt.err != nil && resp.Message != rag.FallbackAnswer(tt.err) {
				t.Errorf("message = %q", resp.Message)
			}
		})
	}
}

func TestRetrieveEndpoint(t *testing.T) {
	r := &fakeRetriever{res: rag.Result{
		Context: "[1] VAT\nbody",
		Trace:   []rag.TraceEntry{{Rank: 1, Score: 0.8734, Title: "VAT"}},
		Hits:    []rag.Hit{{Rank: 1, ID: "a", Score: 0.8734, Payload: domain.Payload{Title: "VAT", Content: "body"}}},
	}}
	h, _ := newTestRouter(r, &fakeAsker{})

	rec := do(t, h, http.MethodPost, "/api/retrieve", `{"query":"vat"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if r.topK != 5 || r.query != "vat" {
		t.Errorf("retriever called with %q/%d", r.query, r.topK)
	}
	var resp RetrieveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Trace) != 1 || resp.Trace[0] != "1) score=0.873, title=VAT" {
		t.Errorf("trace = %v", resp.Trace)
	}

	do(t, h, http.MethodPost, "/api/retrieve", `{"query":"vat","top_k":2}`)
	if r.topK != 2 {
		t.Errorf("top_k not forwarded: %d", r.topK)
	}
}

func TestRetrieveEndpoint_Empty(t *testing.T) {
	h, _ := newTestRouter(&fakeRetriever{}, &fakeAsker{})
	rec := do(t, h, http.MethodPost, "/api/retrieve", `{"query":"nothing"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"trace":["no results"]`) || !strings.Contains(body, `"hits":[]`) {
		t.Errorf("body = %s", body)
	}
}

func TestRetrieveEndpoint_BadTopK(t *testing.T) {
	r := &fakeRetriever{err: domain.NewConfigError("retrieve.top_k", "must be positive")}
	h, _ := newTestRouter(r, &fakeAsker{})
	rec := do(t, h, http.MethodPost, "/api/retrieve", `{"query":"x","top_k":-1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(&fakeRetriever{}, &fakeAsker{})
	do(t, h, http.MethodGet, "/api/health", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `ragqa_http_requests_total{method="GET",code="2xx"} 1`) {
		t.Errorf("metrics body:\n%s", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(&fakeRetriever{}, &fakeAsker{})
	req := httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
}
