// Stream processing metrics
//
// Defines the metrics published by the post-processing pipeline:
// line throughput, rewrite activity, warnings, and run timing.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// StreamMetrics holds the metrics of one or more pipeline runs.
type StreamMetrics struct {
	LinesIn  *Counter
	LinesOut *Counter
	BytesIn  *Counter
	BytesOut *Counter

	LinesModified  *Counter
	LinesInserted  *Counter
	ParseWarnings  *Counter
	TransformWarns *Counter

	Layers       *Gauge
	PrintTime    *Gauge
	RunDuration  *Histogram
	RunsComplete *Counter
	RunsFailed   *Counter

	GoGoroutines *Gauge
	GoMemoryHeap *Gauge

	registry *Registry

	sysStop     chan struct{}
	sysStopOnce sync.Once
}

// NewStreamMetrics creates the full metric set on a fresh registry.
func NewStreamMetrics() *StreamMetrics {
	m := &StreamMetrics{
		LinesIn:  NewCounter("gcodepost_lines_in_total", "Input lines read"),
		LinesOut: NewCounter("gcodepost_lines_out_total", "Output lines written"),
		BytesIn:  NewCounter("gcodepost_bytes_in_total", "Input bytes read"),
		BytesOut: NewCounter("gcodepost_bytes_out_total", "Output bytes written"),

		LinesModified: NewCounter("gcodepost_lines_modified_total",
			"Lines rewritten by the active transform"),
		LinesInserted: NewCounter("gcodepost_lines_inserted_total",
			"Lines synthesized by the active transform"),
		ParseWarnings: NewCounter("gcodepost_parse_warnings_total",
			"Lines with malformed parameters passed through raw"),
		TransformWarns: NewCounter("gcodepost_transform_warnings_total",
			"Invariant violations surfaced by the active transform"),

		Layers: NewGauge("gcodepost_layers", "Layers detected in the last run"),
		PrintTime: NewGauge("gcodepost_print_time_seconds",
			"Estimated print duration of the last run"),
		RunDuration: NewHistogram("gcodepost_run_duration_seconds",
			"Wall time of a pipeline run", ExponentialBuckets(0.01, 4, 8)),
		RunsComplete: NewCounter("gcodepost_runs_complete_total", "Successful runs"),
		RunsFailed:   NewCounter("gcodepost_runs_failed_total", "Failed runs"),

		GoGoroutines: NewGauge("gcodepost_go_goroutines", "Number of goroutines"),
		GoMemoryHeap: NewGauge("gcodepost_go_memory_heap_bytes", "Heap in use"),

		registry: NewRegistry(),
		sysStop:  make(chan struct{}),
	}

	m.registry.MustRegister(m.LinesIn)
	m.registry.MustRegister(m.LinesOut)
	m.registry.MustRegister(m.BytesIn)
	m.registry.MustRegister(m.BytesOut)
	m.registry.MustRegister(m.LinesModified)
	m.registry.MustRegister(m.LinesInserted)
	m.registry.MustRegister(m.ParseWarnings)
	m.registry.MustRegister(m.TransformWarns)
	m.registry.MustRegister(m.Layers)
	m.registry.MustRegister(m.PrintTime)
	m.registry.MustRegister(m.RunDuration)
	m.registry.MustRegister(m.RunsComplete)
	m.registry.MustRegister(m.RunsFailed)
	m.registry.MustRegister(m.GoGoroutines)
	m.registry.MustRegister(m.GoMemoryHeap)
	return m
}

// Registry exposes the underlying registry for serving or dumping.
func (m *StreamMetrics) Registry() *Registry {
	return m.registry
}

// Gather renders all metrics in Prometheus text format.
func (m *StreamMetrics) Gather() string {
	return m.registry.Gather()
}

// UpdateSystemMetrics refreshes the runtime gauges.
func (m *StreamMetrics) UpdateSystemMetrics() {
	m.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	m.GoMemoryHeap.Set(nil, float64(ms.HeapInuse))
}

// StartSystemCollector refreshes the runtime gauges periodically until
// StopSystemCollector is called.
func (m *StreamMetrics) StartSystemCollector(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics()
			case <-m.sysStop:
				return
			}
		}
	}()
}

// StopSystemCollector stops the background refresher.
func (m *StreamMetrics) StopSystemCollector() {
	m.sysStopOnce.Do(func() { close(m.sysStop) })
}
