// Prometheus-text-format metrics
//
// Counters, gauges, and histograms with label sets, hand-rendered in
// the Prometheus exposition format. Small enough that the tool does
// not need a client library to expose a /metrics endpoint.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Labels is one metric series' label set. A nil or empty map is the
// unlabeled series.
type Labels map[string]string

// Key returns a canonical identity for the label set.
func (l Labels) Key() string {
	if len(l) == 0 {
		return ""
	}
	keys := sortedKeys(l)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String renders the label set in exposition format, including braces.
// Empty label sets render as "".
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range sortedKeys(l) {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", k, l[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// Clone returns a copy; a nil receiver clones to an empty map.
func (l Labels) Clone() Labels {
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Merge returns a new label set with other's values layered on top.
func (l Labels) Merge(other Labels) Labels {
	out := l.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

func sortedKeys(l Labels) []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metric is one named family of series.
type Metric interface {
	Name() string
	Write(sb *strings.Builder)
}

// family holds the per-label-key series of one metric. All families
// share this locking scheme; the value payload differs per type.
type family[T any] struct {
	mu     sync.Mutex
	series map[string]*series[T]
}

type series[T any] struct {
	labels Labels
	value  T
}

// get returns the series for labels, creating it on first use. Caller
// holds the lock.
func (f *family[T]) get(labels Labels) *series[T] {
	key := labels.Key()
	s, ok := f.series[key]
	if !ok {
		s = &series[T]{labels: labels.Clone()}
		if f.series == nil {
			f.series = make(map[string]*series[T])
		}
		f.series[key] = s
	}
	return s
}

// each visits the series in deterministic label-key order. Caller
// holds the lock.
func (f *family[T]) each(fn func(*series[T])) {
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(f.series[k])
	}
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name string
	help string
	fam  family[uint64]
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Name() string { return c.name }

// Inc adds 1 to the series for labels.
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add adds delta to the series for labels.
func (c *Counter) Add(labels Labels, delta uint64) {
	c.fam.mu.Lock()
	c.fam.get(labels).value += delta
	c.fam.mu.Unlock()
}

// Get returns the series value, 0 for an unseen label set.
func (c *Counter) Get(labels Labels) uint64 {
	c.fam.mu.Lock()
	defer c.fam.mu.Unlock()
	if s, ok := c.fam.series[labels.Key()]; ok {
		return s.value
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	c.fam.mu.Lock()
	defer c.fam.mu.Unlock()
	writeHeader(sb, c.name, c.help, "counter")
	c.fam.each(func(s *series[uint64]) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, s.labels, s.value)
	})
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	name string
	help string
	fam  family[float64]
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Name() string { return g.name }

// Set replaces the series value for labels.
func (g *Gauge) Set(labels Labels, value float64) {
	g.fam.mu.Lock()
	g.fam.get(labels).value = value
	g.fam.mu.Unlock()
}

// Add adds delta to the series for labels.
func (g *Gauge) Add(labels Labels, delta float64) {
	g.fam.mu.Lock()
	g.fam.get(labels).value += delta
	g.fam.mu.Unlock()
}

func (g *Gauge) Inc(labels Labels)                { g.Add(labels, 1) }
func (g *Gauge) Dec(labels Labels)                { g.Add(labels, -1) }
func (g *Gauge) Sub(labels Labels, delta float64) { g.Add(labels, -delta) }

// Get returns the series value, 0 for an unseen label set.
func (g *Gauge) Get(labels Labels) float64 {
	g.fam.mu.Lock()
	defer g.fam.mu.Unlock()
	if s, ok := g.fam.series[labels.Key()]; ok {
		return s.value
	}
	return 0
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.fam.mu.Lock()
	defer g.fam.mu.Unlock()
	writeHeader(sb, g.name, g.help, "gauge")
	g.fam.each(func(s *series[float64]) {
		fmt.Fprintf(sb, "%s%s %g\n", g.name, s.labels, s.value)
	})
}

// histState is one histogram series: per-bucket counts plus the
// running sum and count.
type histState struct {
	counts []uint64
	sum    float64
	count  uint64
}

// Histogram tracks a distribution of observations in cumulative
// buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	fam     family[*histState]
}

// NewHistogram creates a histogram with the given upper bounds. The
// bounds are sorted; an implicit +Inf bucket is always present.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	return &Histogram{name: name, help: help, buckets: bounds}
}

// DefaultBuckets suits sub-second latency measurements.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// LinearBuckets returns count bounds starting at start, width apart.
func LinearBuckets(start, width float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = start + float64(i)*width
	}
	return out
}

// ExponentialBuckets returns count bounds starting at start, each
// factor times the previous.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = start
		start *= factor
	}
	return out
}

func (h *Histogram) Name() string { return h.name }

// Observe records one value.
func (h *Histogram) Observe(labels Labels, value float64) {
	h.fam.mu.Lock()
	defer h.fam.mu.Unlock()
	s := h.fam.get(labels)
	if s.value == nil {
		s.value = &histState{counts: make([]uint64, len(h.buckets))}
	}
	st := s.value
	st.count++
	st.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			st.counts[i]++
		}
	}
}

// HistogramSnapshot is a point-in-time copy of one series, with
// cumulative bucket counts keyed by upper bound.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// GetSnapshot returns the series for labels; an unseen label set
// yields an empty snapshot.
func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.buckets))}
	h.fam.mu.Lock()
	defer h.fam.mu.Unlock()
	s, ok := h.fam.series[labels.Key()]
	if !ok || s.value == nil {
		return snap
	}
	snap.Count = s.value.count
	snap.Sum = s.value.sum
	cumulative := uint64(0)
	for i, bound := range h.buckets {
		cumulative += s.value.counts[i]
		snap.Buckets[bound] = cumulative
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.fam.mu.Lock()
	defer h.fam.mu.Unlock()
	writeHeader(sb, h.name, h.help, "histogram")
	h.fam.each(func(s *series[*histState]) {
		st := s.value
		if st == nil {
			return
		}
		cumulative := uint64(0)
		for i, bound := range h.buckets {
			cumulative += st.counts[i]
			bl := s.labels.Merge(Labels{"le": fmt.Sprintf("%g", bound)})
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, bl, cumulative)
		}
		bl := s.labels.Merge(Labels{"le": "+Inf"})
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, bl, st.count)
		fmt.Fprintf(sb, "%s_sum%s %g\n", h.name, s.labels, st.sum)
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, s.labels, st.count)
	})
}

// Registry holds named metrics and renders them in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric; duplicate names are an error.
func (r *Registry) Register(metric Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := metric.Name()
	if _, exists := r.metrics[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.metrics[name] = metric
	r.order = append(r.order, name)
	return nil
}

// MustRegister panics on a duplicate name.
func (r *Registry) MustRegister(metric Metric) {
	if err := r.Register(metric); err != nil {
		panic(err)
	}
}

// Unregister removes a metric by name. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.metrics, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a registered metric or nil.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders every metric in Prometheus text format.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
