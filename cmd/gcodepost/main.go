// gcodepost is a streaming post-processor for sliced G-code. It rewrites
// a file with one selected transform (coast, tempramp, bedcool, tower)
// while passing every untouched line through byte for byte, and can
// hand the result straight to a printer running Moonraker.
//
// Usage:
//
//	gcodepost -transform coast [options] file.gcode
//
// Options:
//
//	-transform string   Transform to apply (coast, tempramp, bedcool, tower)
//	-config string      INI file with per-transform option sections
//	-opt key=value      Override one transform option (repeatable)
//	-output string      Output path ("-" = stdout; default: rewrite input in place)
//	-z-epsilon float    Layer heuristic Z threshold (default 0.01)
//	-estimate           Log an estimated print duration for the file
//	-stats              Print run statistics to stderr in Prometheus text format
//	-metrics-listen     Serve /metrics on this address while running
//	-upload string      Moonraker address to upload the result to
//	-api-key string     Moonraker API key
//	-remote string      Remote filename for the upload (default: local name)
//	-start-print        Ask the printer to start the uploaded file
//	-monitor            Follow print progress over the websocket after -start-print
//	-logfile string     Log file path (default: stderr)
//	-loglevel string    DEBUG, INFO, WARN, ERROR (default INFO)
//
// Examples:
//
//	# Taper extrusion before travels, rewrite in place
//	gcodepost -transform coast part.gcode
//
//	# Temperature ramp with options from a config file
//	gcodepost -transform tempramp -config post.cfg -output out.gcode part.gcode
//
//	# Process, upload, print, and watch
//	gcodepost -transform coast -upload printer.local:7125 -start-print -monitor part.gcode
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gcodepost/pkg/config"
	"gcodepost/pkg/errors"
	"gcodepost/pkg/fileio"
	"gcodepost/pkg/log"
	"gcodepost/pkg/metrics"
	"gcodepost/pkg/moonraker"
	"gcodepost/pkg/stream"
	"gcodepost/pkg/transform"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// maxLoggedWarnings caps per-line warning log lines; the totals still
// land in the run statistics.
const maxLoggedWarnings = 20

// optFlags collects repeated -opt key=value flags.
type optFlags map[string]string

func (o optFlags) String() string { return "" }

func (o optFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	o[key] = value
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	transformName := flag.String("transform", "", "Transform to apply: "+strings.Join(transform.Names(), ", "))
	configFile := flag.String("config", "", "INI file with per-transform option sections")
	opts := optFlags{}
	flag.Var(opts, "opt", "Override one transform option as key=value (repeatable)")
	output := flag.String("output", "", "Output path (\"-\" = stdout; default: rewrite input in place)")
	zEpsilon := flag.Float64("z-epsilon", 0, "Layer heuristic Z threshold")
	estimate := flag.Bool("estimate", false, "Log an estimated print duration")
	stats := flag.Bool("stats", false, "Print run statistics to stderr")
	metricsListen := flag.String("metrics-listen", "", "Serve /metrics on this address while running")
	upload := flag.String("upload", "", "Moonraker address to upload the result to")
	apiKey := flag.String("api-key", "", "Moonraker API key")
	remote := flag.String("remote", "", "Remote filename for the upload")
	startPrint := flag.Bool("start-print", false, "Ask the printer to start the uploaded file")
	monitor := flag.Bool("monitor", false, "Follow print progress after -start-print")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	logLevel := flag.String("loglevel", "", "DEBUG, INFO, WARN, ERROR")

	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: exactly one input file is required (\"-\" for stdin)\n")
		flag.Usage()
		return exitConfig
	}
	input := flag.Arg(0)

	if err := setupLogging(*logFile, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// All configuration problems surface here, before any line is read.
	// Anything else (the bedcool layer pre-count hitting an I/O error)
	// exits as a runtime failure.
	tr, err := buildTransform(*transformName, *configFile, opts, input)
	if err != nil {
		if errors.IsConfig(err) || errors.Is(err, errors.ErrTransformUnknown) {
			log.Error("invalid configuration: %v", err)
			return exitConfig
		}
		log.Error("%v", err)
		return exitRuntime
	}

	if *upload == "" && (*startPrint || *monitor) {
		log.Error("invalid configuration: -start-print and -monitor require -upload")
		return exitConfig
	}
	if input == "-" && *output == "" {
		log.Error("invalid configuration: stdin input requires -output")
		return exitConfig
	}
	if *upload != "" && *output == "-" {
		log.Error("invalid configuration: -upload requires a file output")
		return exitConfig
	}

	m := metrics.NewStreamMetrics()
	if *metricsListen != "" {
		srv := metrics.NewMetricsServer(m, *metricsListen)
		errCh := srv.StartAsync()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			srv.Shutdown(shutdownCtx)
			<-errCh
		}()
		m.StartSystemCollector(5 * time.Second)
		defer m.StopSystemCollector()
	}

	outPath, err := process(ctx, input, *output, tr, *zEpsilon, *estimate, m)
	if err != nil {
		m.RunsFailed.Inc(nil)
		log.Error("%v", err)
		if *stats {
			fmt.Fprint(os.Stderr, m.Gather())
		}
		return exitRuntime
	}
	if *stats {
		fmt.Fprint(os.Stderr, m.Gather())
	}

	if *upload != "" {
		if err := uploadAndWatch(ctx, *upload, *apiKey, outPath, *remote, *startPrint, *monitor); err != nil {
			log.Error("%v", err)
			return exitRuntime
		}
	}
	return exitOK
}

func setupLogging(logFile, logLevel string) error {
	logger := log.New("gcodepost")
	log.ConfigureFromEnv(logger)
	if logLevel != "" {
		logger.SetLevel(log.ParseLevel(logLevel))
	}
	if logFile != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: logFile})
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		logger.SetWriter(w)
		logger.SetColorize(false)
	}
	log.SetDefaultLogger(logger)
	return nil
}

// buildTransform resolves the transform and its options. A nil
// transform (empty name) runs the pipeline as a pure passthrough.
func buildTransform(name, configFile string, opts optFlags, input string) (transform.Transform, error) {
	if name == "" {
		if len(opts) > 0 {
			return nil, errors.ConfigValidationError("-opt given without -transform")
		}
		return nil, nil
	}

	cfg := config.New()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigValidation, err.Error())
		}
		cfg = loaded
	}
	sec := cfg.GetSectionOptional(name)
	for k, v := range opts {
		sec.SetOption(k, v)
	}

	// bedcool needs the total layer count, which a single forward pass
	// cannot know. Count layers up front unless configured explicitly.
	if name == "bedcool" && !sec.HasOption("total_layers") {
		if input == "-" {
			return nil, errors.ConfigValidationError("bedcool on stdin requires -opt total_layers=N")
		}
		total, err := countLayers(input)
		if err != nil {
			return nil, err
		}
		sec.SetOption("total_layers", strconv.Itoa(total))
		log.Info("counted %d layers in %s", total, input)
	}

	tr, err := transform.Create(name, sec)
	if err != nil {
		return nil, err
	}
	for _, opt := range sec.UnusedOptions() {
		log.Warn("option %s.%s is not used by this transform", name, opt)
	}
	return tr, nil
}

// countLayers runs the state tracker over the file without writing
// anything, returning the final layer index.
func countLayers(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.StreamIOError("open", err)
	}
	defer f.Close()

	res, err := stream.Process(context.Background(), f, io.Discard, stream.Options{})
	if err != nil {
		return 0, err
	}
	return res.Layers, nil
}

// process runs the pipeline with the chosen input and output plumbing
// and returns the path of the written file ("" for stdout).
func process(ctx context.Context, input, output string, tr transform.Transform, zEpsilon float64, estimate bool, m *metrics.StreamMetrics) (string, error) {
	warned := 0
	opts := stream.Options{
		Transform: tr,
		ZEpsilon:  zEpsilon,
		Estimate:  estimate,
		Metrics:   m,
		Warn: func(err error) {
			if !errors.IsWarning(err) {
				// Not a recoverable stream condition; log at full
				// severity but keep the run going.
				log.Error("%v", err)
				return
			}
			warned++
			if warned <= maxLoggedWarnings {
				log.Warn("%v", err)
			} else if warned == maxLoggedWarnings+1 {
				log.Warn("further warnings suppressed")
			}
		},
	}

	var in *os.File
	if input == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(input)
		if err != nil {
			return "", errors.StreamIOError("open", err)
		}
		defer f.Close()
		in = f
	}

	if output == "-" {
		res, err := stream.Process(ctx, in, os.Stdout, opts)
		if err != nil {
			return "", err
		}
		logResult(res)
		return "", nil
	}

	target := output
	if target == "" {
		// In-place rewrite. The lock keeps two concurrent runs from
		// clobbering each other's temp files.
		target = input
		lock, err := fileio.LockFile(input + ".lock")
		if err != nil {
			return "", err
		}
		defer func() {
			lock.Unlock()
			os.Remove(input + ".lock")
		}()
	}

	w, err := fileio.NewAtomicWriter(target)
	if err != nil {
		return "", err
	}
	res, err := stream.Process(ctx, in, w, opts)
	if err != nil {
		w.Abort()
		return "", err
	}
	if err := w.Commit(); err != nil {
		return "", err
	}
	logResult(res)
	return target, nil
}

func logResult(res *stream.Result) {
	log.Info("%d lines in, %d out (%d modified, %d inserted), %d layers, %s",
		res.LinesIn, res.LinesOut, res.Modified, res.Inserted, res.Layers,
		res.Duration.Round(time.Millisecond))
	if res.PrintTime > 0 {
		log.Info("estimated print time %s", res.PrintTime.Round(time.Second))
	}
	if res.ParseWarnings > 0 {
		log.Warn("%d lines had malformed parameters and were passed through raw", res.ParseWarnings)
	}
}

func uploadAndWatch(ctx context.Context, addr, apiKey, localPath, remoteName string, startPrint, monitor bool) error {
	client, err := moonraker.New(moonraker.Config{Address: addr, APIKey: apiKey})
	if err != nil {
		return err
	}

	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}
	if err := client.Upload(ctx, localPath, remoteName, startPrint); err != nil {
		return err
	}
	if !monitor || !startPrint {
		return nil
	}

	updates := make(chan moonraker.PrintStatus, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		lastPct := -1
		for s := range updates {
			pct := int(s.Progress * 100)
			if pct != lastPct || s.Terminal() {
				lastPct = pct
				log.Info("print %s: %s %d%%", s.Filename, s.State, pct)
			}
		}
	}()

	final, err := client.Monitor(ctx, updates)
	close(updates)
	<-done
	if err != nil {
		return err
	}
	if final.State != "complete" {
		return errors.MoonrakerError("print", fmt.Errorf("finished in state %s: %s", final.State, final.Message))
	}
	return nil
}
