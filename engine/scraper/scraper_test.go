package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reforma-ai/ragqa/engine/domain"
)

const indexPage = `<html><body>
<nav>
  <a href="/club/article-knowledge?page=2">Next page of knowledge</a>
  <a href="/club/authors/ivanova">Ivanova, author page</a>
  <a href="/club/list?tag=nds">Everything about VAT tag</a>
  <a href="https://example.org/club/outside">External article title</a>
</nav>
<ul>
  <li><a href="/club/articles/usn-2026">  Simplified tax   regime in 2026 </a></li>
  <li><a href="/club/articles/short">Short</a></li>
  <li><a href="/club/articles/vat-threshold"><span>VAT threshold</span> <b>for small business</b></a></li>
  <li><a href="/club/articles/usn-2026">Simplified tax regime in 2026 (again)</a></li>
  <li><a href="/club/articles/too-short-body">An article with almost no body</a></li>
  <li><a href="/club/articles/missing">An article that is gone now</a></li>
</ul>
</body></html>`

func longParagraph(seed string) string {
	return strings.Repeat(seed+" ", 80)
}

func newSite(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/club/article-knowledge", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		fmt.Fprint(w, indexPage)
	})
	mux.HandleFunc("/club/articles/usn-2026", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `<html><body><div itemprop="articleBody"><h2>Rates</h2><p>%s</p></div></body></html>`,
			longParagraph("usn"))
	})
	mux.HandleFunc("/club/articles/vat-threshold", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `<html><body><article><h3>Threshold</h3><ul><li>%s</li></ul></article></body></html>`,
			longParagraph("vat"))
	})
	mux.HandleFunc("/club/articles/too-short-body", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `<html><body><article><p>Tiny.</p></article></body></html>`)
	})
	mux.HandleFunc("/club/articles/missing", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newScraper(t *testing.T, srv *httptest.Server, opts Options) *Scraper {
	t.Helper()
	opts.BaseURL = srv.URL + "/club/article-knowledge"
	s, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCollectLinks(t *testing.T) {
	srv, _ := newSite(t)
	s := newScraper(t, srv, Options{})

	links, err := s.CollectLinks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []Link{
		{URL: srv.URL + "/club/articles/usn-2026", Title: "Simplified tax regime in 2026"},
		{URL: srv.URL + "/club/articles/vat-threshold", Title: "VAT threshold for small business"},
		{URL: srv.URL + "/club/articles/too-short-body", Title: "An article with almost no body"},
		{URL: srv.URL + "/club/articles/missing", Title: "An article that is gone now"},
	}
	if len(links) != len(want) {
		t.Fatalf("got %d links: %+v", len(links), links)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("link %d = %+v, want %+v", i, links[i], want[i])
		}
	}
}

func TestCollectLinks_Limit(t *testing.T) {
	srv, _ := newSite(t)
	s := newScraper(t, srv, Options{Limit: 2})

	links, err := s.CollectLinks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}
}

func TestCollectLinks_NoneFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/about">About the company</a></body></html>`)
	}))
	defer srv.Close()
	s := newScraper(t, srv, Options{})

	if _, err := s.CollectLinks(context.Background()); !errors.Is(err, ErrNoLinks) {
		t.Fatalf("expected ErrNoLinks, got %v", err)
	}
}

func TestCollectLinks_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	s := newScraper(t, srv, Options{})

	_, err := s.CollectLinks(context.Background())
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestRun(t *testing.T) {
	srv, hits := newSite(t)
	s := newScraper(t, srv, Options{})

	docs, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2: %+v", len(docs), docs)
	}
	if docs[0].Title != "Simplified tax regime in 2026" || docs[0].Source != srv.URL+"/club/articles/usn-2026" {
		t.Errorf("doc 0 = %+v", docs[0])
	}
	if !strings.HasPrefix(docs[0].Text, "Rates\nusn usn") {
		t.Errorf("doc 0 text = %.40q", docs[0].Text)
	}
	if !strings.HasPrefix(docs[1].Text, "Threshold\nvat vat") {
		t.Errorf("doc 1 text = %.40q", docs[1].Text)
	}
	// index + four articles
	if got := hits.Load(); got != 5 {
		t.Errorf("requests = %d, want 5", got)
	}
}

func TestArticle_TooShort(t *testing.T) {
	srv, _ := newSite(t)
	s := newScraper(t, srv, Options{})

	r := s.Article(context.Background(), Link{URL: srv.URL + "/club/articles/too-short-body", Title: "x"})
	var tooShort *TooShortError
	if !errors.As(r.Error(), &tooShort) || !errors.Is(r.Error(), ErrTooShort) {
		t.Fatalf("expected TooShortError, got %v", r.Error())
	}
	if tooShort.Min != DefaultMinLength || tooShort.Length != len("Tiny.") {
		t.Errorf("unexpected %+v", tooShort)
	}
}

func TestRun_Delay(t *testing.T) {
	srv, _ := newSite(t)
	s := newScraper(t, srv, Options{Limit: 2, Delay: 30 * time.Millisecond})

	start := time.Now()
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// three requests, two waits
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("requests not paced: %v", elapsed)
	}
}

func TestRun_Cancelled(t *testing.T) {
	srv, _ := newSite(t)
	s := newScraper(t, srv, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestNew_Invalid(t *testing.T) {
	for _, opts := range []Options{
		{BaseURL: "not a url"},
		{Delay: -time.Second},
	} {
		_, err := New(opts)
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("New(%+v) = %v, want ErrInvalidConfig", opts, err)
		}
	}
}
