// Package scraper collects knowledge-base articles from the accounting club
// site and turns them into documents for ingestion.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/reforma-ai/ragqa/engine/domain"
	"github.com/reforma-ai/ragqa/pkg/fn"
)

const (
	DefaultBaseURL   = "https://www.moedelo.org/club/article-knowledge"
	DefaultLimit     = 30
	DefaultDelay     = time.Second
	DefaultMinLength = 200
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	minTitleLength = 10
)

// ErrNoLinks is returned when the index page yields no article links.
var ErrNoLinks = errors.New("scraper: no article links found")

// Options configures a Scraper. Zero fields take the defaults above,
// except Delay: zero disables pacing.
type Options struct {
	BaseURL   string
	Limit     int
	Delay     time.Duration
	MinLength int
	Timeout   time.Duration
	UserAgent string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Link is an article discovered on the index page.
type Link struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Scraper fetches the index page, then each article, at most one request
// per Delay.
type Scraper struct {
	opts    Options
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New validates opts and returns a Scraper.
func New(opts Options) (*Scraper, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Delay < 0 {
		return nil, domain.NewConfigError("scrape.delay", "must not be negative")
	}
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, domain.NewConfigError("scrape.base_url", fmt.Sprintf("invalid url %q", opts.BaseURL))
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &Scraper{
		opts:    opts,
		base:    base,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

// CollectLinks fetches the index page and returns up to Limit unique
// article links in page order.
func (s *Scraper) CollectLinks(ctx context.Context) ([]Link, error) {
	doc, err := s.fetch(ctx, s.base.String())
	if err != nil {
		return nil, fmt.Errorf("scraper: index: %w", err)
	}

	var links []Link
	seen := make(map[string]struct{})
	walk(doc, func(n *html.Node) bool {
		if len(links) >= s.opts.Limit {
			return false
		}
		if !isElement(n, "a") {
			return true
		}
		href := attr(n, "href")
		if !articleHref(href) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := s.base.ResolveReference(ref).String()
		title := collapse(textOf(n))
		if utf8.RuneCountInString(title) < minTitleLength {
			return true
		}
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		links = append(links, Link{URL: abs, Title: title})
		return true
	})

	s.logger.Info("scraper: links collected", "count", len(links), "index", s.base.String())
	if len(links) == 0 {
		return nil, ErrNoLinks
	}
	return links, nil
}

func articleHref(href string) bool {
	if !strings.HasPrefix(href, "/club/") {
		return false
	}
	for _, skip := range []string{"article-knowledge", "authors", "tag="} {
		if strings.Contains(href, skip) {
			return false
		}
	}
	return true
}

// Article fetches one link and extracts its text. Texts shorter than
// MinLength come back as ErrTooShort.
func (s *Scraper) Article(ctx context.Context, link Link) fn.Result[domain.Document] {
	doc, err := s.fetch(ctx, link.URL)
	if err != nil {
		return fn.Err[domain.Document](fmt.Errorf("scraper: article %s: %w", link.URL, err))
	}
	text, via := extract(doc)
	n := utf8.RuneCountInString(text)
	s.logger.Debug("scraper: extracted", "url", link.URL, "strategy", via, "length", n)
	if n < s.opts.MinLength {
		return fn.Err[domain.Document](&TooShortError{URL: link.URL, Length: n, Min: s.opts.MinLength})
	}
	return fn.Ok(domain.Document{Title: link.Title, Text: text, Source: link.URL})
}

// ErrTooShort marks an article whose extracted text is below MinLength.
var ErrTooShort = errors.New("scraper: article text too short")

// TooShortError carries the measured length of a skipped article.
type TooShortError struct {
	URL    string
	Length int
	Min    int
}

func (e *TooShortError) Error() string {
	return fmt.Sprintf("scraper: %s: text too short (%d < %d)", e.URL, e.Length, e.Min)
}

func (e *TooShortError) Unwrap() error { return ErrTooShort }

// Scrape collects links and streams one result per article. The channel
// closes when every link is processed or ctx is done.
func (s *Scraper) Scrape(ctx context.Context) (<-chan fn.Result[domain.Document], error) {
	links, err := s.CollectLinks(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan fn.Result[domain.Document], len(links))
	go func() {
		defer close(ch)
		for i, link := range links {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("scraper: fetching", "n", i+1, "of", len(links), "url", link.URL)
			ch <- s.Article(ctx, link)
		}
	}()
	return ch, nil
}

// Run scrapes every article and returns the ones that passed extraction.
// Per-article failures are logged and skipped.
func (s *Scraper) Run(ctx context.Context) ([]domain.Document, error) {
	results, err := s.Scrape(ctx)
	if err != nil {
		return nil, err
	}
	var docs []domain.Document
	skipped := 0
	for r := range results {
		doc, err := r.Unwrap()
		if err != nil {
			skipped++
			s.logger.Warn("scraper: article skipped", "err", err)
			continue
		}
		docs = append(docs, doc)
	}
	if err := ctx.Err(); err != nil {
		return docs, fmt.Errorf("scraper: %w", err)
	}
	s.logger.Info("scraper: done", "documents", len(docs), "skipped", skipped)
	return docs, nil
}

func (s *Scraper) fetch(ctx context.Context, target string) (*html.Node, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.Unavailable("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d", resp.StatusCode)
		if domain.UnavailableStatus(resp.StatusCode) {
			return nil, domain.Unavailable("fetch", err)
		}
		return nil, err
	}
	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
