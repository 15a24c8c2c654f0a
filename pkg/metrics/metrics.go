// Package metrics is a small Prometheus-compatible registry. Counters, gauges
// and histograms are grouped in families keyed by name; each label set is a
// separate series. Render produces the text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are latency buckets in seconds sized for embedding and LLM calls.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge holds the last value set.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(n int64)   { g.v.Store(n) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram counts observations into fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []uint64
	sum     float64
	count   uint64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.buckets[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any // rendered label set -> *Counter | *Gauge | *Histogram
}

// Registry holds metric families. The zero value is not usable; call New.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// Counter returns the counter for name and label pairs, creating it on first use.
func (r *Registry) Counter(name, help string, labels ...string) *Counter {
	return get(r, name, help, kindCounter, labels, func() *Counter { return &Counter{} })
}

// Gauge returns the gauge for name and label pairs.
func (r *Registry) Gauge(name, help string, labels ...string) *Gauge {
	return get(r, name, help, kindGauge, labels, func() *Gauge { return &Gauge{} })
}

// Histogram returns the histogram for name and label pairs. Nil buckets use
// DefaultBuckets; buckets are fixed by the first call for a series.
func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return get(r, name, help, kindHistogram, labels, func() *Histogram {
		b := append([]float64(nil), buckets...)
		sort.Float64s(b)
		return &Histogram{bounds: b, buckets: make([]uint64, len(b))}
	})
}

func get[M any](r *Registry, name, help string, k kind, labels []string, mk func() *M) *M {
	key := labelSet(labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]any)}
		r.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	if m, ok := f.series[key].(*M); ok {
		return m
	}
	m := mk()
	f.series[key] = m
	return m
}

// labelSet renders k/v pairs as `k="v",k2="v2"`. An odd trailing key is dropped.
func labelSet(kvs []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kvs[i], kvs[i+1])
	}
	return b.String()
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// WriteTo writes every family in the text exposition format, sorted by name.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	r.mu.Lock()
	names := make([]string, 0, len(r.families))
	for n := range r.families {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		writeFamily(&b, r.families[n])
	}
	r.mu.Unlock()

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Render returns the exposition text.
func (r *Registry) Render() string {
	var b strings.Builder
	_, _ = r.WriteTo(&b)
	return b.String()
}

func writeFamily(b *strings.Builder, f *family) {
	if f.help != "" {
		fmt.Fprintf(b, "# HELP %s %s\n", f.name, f.help)
	}
	fmt.Fprintf(b, "# TYPE %s %s\n", f.name, f.kind)

	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, labels := range keys {
		switch m := f.series[labels].(type) {
		case *Counter:
			fmt.Fprintf(b, "%s%s %d\n", f.name, braces(labels), m.Value())
		case *Gauge:
			fmt.Fprintf(b, "%s%s %d\n", f.name, braces(labels), m.Value())
		case *Histogram:
			writeHistogram(b, f.name, labels, m)
		}
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	var cum uint64
	for i, bound := range h.bounds {
		cum += h.buckets[i]
		fmt.Fprintf(b, "%s_bucket{%s%sle=\"%g\"} %d\n", name, labels, sep, bound, cum)
	}
	fmt.Fprintf(b, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, h.count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, braces(labels), h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, braces(labels), h.count)
}

// Handler serves the registry at any path.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = r.WriteTo(w)
	})
}
