// Package stream runs the single-pass line pipeline: read, parse, track
// state, transform, render, write. Memory stays bounded regardless of
// file size; the only buffering is the active transform's segment
// window and the I/O buffers.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stream

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"gcodepost/pkg/errors"
	"gcodepost/pkg/gcode"
	"gcodepost/pkg/log"
	"gcodepost/pkg/machine"
	"gcodepost/pkg/metrics"
	"gcodepost/pkg/printtime"
	"gcodepost/pkg/transform"
)

// cancelCheckInterval is how many lines pass between context checks.
const cancelCheckInterval = 4096

// Options configures one pipeline run.
type Options struct {
	// Transform is the active pass. Nil runs a pure passthrough, which
	// still validates that parse and render round-trip.
	Transform transform.Transform

	// ZEpsilon overrides the layer heuristic threshold when positive.
	ZEpsilon float64

	// Warn receives per-line warnings: malformed parameters and
	// transform invariant violations. Optional.
	Warn func(err error)

	// Metrics receives run counters when set.
	Metrics *metrics.StreamMetrics

	// Estimate enables the print-time model. Limits only applies when
	// Estimate is set.
	Estimate bool
	Limits   printtime.Limits
}

// Result summarizes one pipeline run.
type Result struct {
	LinesIn  int
	LinesOut int
	BytesIn  int64
	BytesOut int64

	// Modified counts input lines rewritten in place, Inserted counts
	// net lines added by the transform.
	Modified int
	Inserted int

	ParseWarnings     int
	TransformWarnings int

	Layers   int
	Duration time.Duration

	// PrintTime is the modeled print duration of the job. Zero unless
	// Options.Estimate was set.
	PrintTime time.Duration
}

// Process streams r through the configured transform into w. The input
// is never held in memory as a whole. The context is only checked
// between lines; an aborted run leaves w truncated mid-file but never
// mid-line.
func Process(ctx context.Context, r io.Reader, w io.Writer, opts Options) (*Result, error) {
	start := time.Now()
	res := &Result{}

	st := machine.NewState()
	if opts.ZEpsilon > 0 {
		st.ZEpsilon = opts.ZEpsilon
	}

	var est *printtime.Estimator
	if opts.Estimate {
		est = printtime.NewEstimator(opts.Limits)
	}

	tr := opts.Transform
	if tr != nil {
		tr.SetWarn(func(err error) {
			res.TransformWarnings++
			warn(opts, err, res.LinesIn)
		})
	}

	br := bufio.NewReaderSize(r, 256<<10)
	bw := bufio.NewWriterSize(w, 256<<10)

	writeLine := func(text, eol string) error {
		if _, err := bw.WriteString(text); err != nil {
			return errors.StreamIOError("write", err)
		}
		if _, err := bw.WriteString(eol); err != nil {
			return errors.StreamIOError("write", err)
		}
		res.LinesOut++
		res.BytesOut += int64(len(text) + len(eol))
		return nil
	}

	lastEOL := "\n"
	for {
		if res.LinesIn%cancelCheckInterval == 0 && ctx.Err() != nil {
			return res, errors.Wrap(ctx.Err(), errors.ErrStreamIO, "processing aborted")
		}

		raw, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return res, errors.StreamIOError("read", readErr)
		}
		if raw == "" && readErr == io.EOF {
			break
		}

		body, eol := splitEOL(raw)
		res.LinesIn++
		res.BytesIn += int64(len(raw))
		lastEOL = eol

		cmd := gcode.ParseLine(body)
		if degraded(cmd) {
			res.ParseWarnings++
			warn(opts, errors.ParseWarning(res.LinesIn, body), res.LinesIn)
		}
		mv := st.Apply(cmd)
		if est != nil {
			est.Observe(st, mv)
		}

		var cmds []*gcode.Command
		if tr != nil {
			cmds = tr.Process(cmd, st, mv)
		} else {
			cmds = []*gcode.Command{cmd}
		}

		sep := eol
		if sep == "" {
			sep = "\n"
		}
		for i, oc := range cmds {
			lineEOL := sep
			if i == len(cmds)-1 {
				lineEOL = eol
			}
			if err := writeLine(gcode.Render(oc), lineEOL); err != nil {
				return res, err
			}
			if oc == cmd && oc.Modified {
				res.Modified++
			}
		}

		if readErr == io.EOF {
			break
		}
	}

	if tr != nil {
		flushEOL := lastEOL
		if flushEOL == "" {
			flushEOL = "\n"
		}
		first := true
		for _, oc := range tr.Flush(st) {
			if first && lastEOL == "" {
				if _, err := bw.WriteString("\n"); err != nil {
					return res, errors.StreamIOError("write", err)
				}
			}
			first = false
			if err := writeLine(gcode.Render(oc), flushEOL); err != nil {
				return res, err
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return res, errors.StreamIOError("write", err)
	}

	if res.LinesOut > res.LinesIn {
		res.Inserted = res.LinesOut - res.LinesIn
	}
	res.Layers = st.Layer
	if est != nil {
		res.PrintTime = est.Total()
	}
	res.Duration = time.Since(start)
	res.record(opts, tr)

	log.Debug("processed %d lines (%d out, %d modified, %d layers) in %s",
		res.LinesIn, res.LinesOut, res.Modified, res.Layers, res.Duration)
	return res, nil
}

// splitEOL separates a raw line into its body and line terminator. The
// terminator is re-emitted as read, so CRLF files stay CRLF and a
// missing final newline stays missing.
func splitEOL(raw string) (body, eol string) {
	if strings.HasSuffix(raw, "\r\n") {
		return raw[:len(raw)-2], "\r\n"
	}
	if strings.HasSuffix(raw, "\n") {
		return raw[:len(raw)-1], "\n"
	}
	return raw, ""
}

// degraded reports whether a state-relevant command carries parameters
// the parser could not interpret. Free-text commands like M117 always
// have unparsed tokens and are not counted.
func degraded(cmd *gcode.Command) bool {
	if !machine.Tracked(cmd.Code) {
		return false
	}
	for _, p := range cmd.Params {
		if !p.Valid {
			return true
		}
	}
	return false
}

func warn(opts Options, err error, line int) {
	if opts.Warn == nil {
		return
	}
	if pe, ok := err.(*errors.ProcessError); ok && pe.Line == 0 {
		pe.SetLine(line)
	}
	opts.Warn(err)
}

// record publishes the run counters.
func (r *Result) record(opts Options, tr transform.Transform) {
	m := opts.Metrics
	if m == nil {
		return
	}
	var labels metrics.Labels
	if tr != nil {
		labels = metrics.Labels{"transform": tr.Name()}
	}
	m.LinesIn.Add(labels, uint64(r.LinesIn))
	m.LinesOut.Add(labels, uint64(r.LinesOut))
	m.BytesIn.Add(labels, uint64(r.BytesIn))
	m.BytesOut.Add(labels, uint64(r.BytesOut))
	m.LinesModified.Add(labels, uint64(r.Modified))
	m.LinesInserted.Add(labels, uint64(r.Inserted))
	m.ParseWarnings.Add(labels, uint64(r.ParseWarnings))
	m.TransformWarns.Add(labels, uint64(r.TransformWarnings))
	m.Layers.Set(labels, float64(r.Layers))
	if r.PrintTime > 0 {
		m.PrintTime.Set(labels, r.PrintTime.Seconds())
	}
	m.RunDuration.Observe(labels, r.Duration.Seconds())
	m.RunsComplete.Inc(labels)
}
