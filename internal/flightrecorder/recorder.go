// Package flightrecorder keeps a rolling execution trace in memory and writes it to disk when a run misbehaves.
package flightrecorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/trace"
	"sync/atomic"
	"time"

	"github.com/myrjola/groupworkout/internal/errors"
)

const (
	// defaultMinAge is the minimum age of trace events to keep.
	defaultMinAge = time.Minute

	// defaultMaxBytes is the maximum size of the trace buffer.
	defaultMaxBytes = 16 * 1024 * 1024 // 16MB

	// defaultCooldown is the minimum time between captures.
	defaultCooldown = time.Minute
)

// Capture reasons.
const (
	ReasonRefineTimeout = "refine-timeout"
	ReasonSlowAssembly  = "slow-assembly"
)

// Recorder captures execution traces of slow allocation runs and timed out refinements.
type Recorder struct {
	logger          *slog.Logger
	flightRecorder  *trace.FlightRecorder
	tracesDirectory string
	cooldown        time.Duration
	lastCapture     atomic.Int64 // Unix nanoseconds of last capture
}

// Config configures the Recorder. Zero durations and sizes select the defaults.
type Config struct {
	MinAge          time.Duration
	MaxBytes        uint64
	Cooldown        time.Duration
	TracesDirectory string
}

// New creates a Recorder writing to cfg.TracesDirectory, which is created when missing.
func New(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if cfg.TracesDirectory == "" {
		return nil, errors.New("traces directory is required")
	}
	if stat, err := os.Stat(cfg.TracesDirectory); err != nil {
		if err = os.MkdirAll(cfg.TracesDirectory, 0o750); err != nil {
			return nil, errors.Wrap(err, "create traces directory")
		}
	} else if !stat.IsDir() {
		return nil, errors.New("traces path is not a directory", slog.String("path", cfg.TracesDirectory))
	}

	if cfg.MinAge == 0 {
		cfg.MinAge = defaultMinAge
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}

	return &Recorder{
		logger: logger,
		flightRecorder: trace.NewFlightRecorder(trace.FlightRecorderConfig{
			MinAge:   cfg.MinAge,
			MaxBytes: cfg.MaxBytes,
		}),
		tracesDirectory: cfg.TracesDirectory,
		cooldown:        cfg.Cooldown,
		lastCapture:     atomic.Int64{},
	}, nil
}

// Start begins flight recording.
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.flightRecorder.Start(); err != nil {
		return errors.Wrap(err, "start flight recorder")
	}
	r.logger.LogAttrs(ctx, slog.LevelDebug, "flight recorder started",
		slog.String("directory", r.tracesDirectory),
		slog.Duration("cooldown", r.cooldown))
	return nil
}

// Stop ends flight recording.
func (r *Recorder) Stop(ctx context.Context) {
	r.flightRecorder.Stop()
	r.logger.LogAttrs(ctx, slog.LevelDebug, "flight recorder stopped")
}

// Capture writes the buffered trace to a file named after reason. Captures within the cooldown of the previous
// one are skipped. It is safe to call from several goroutines and on a nil Recorder.
func (r *Recorder) Capture(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	now := time.Now()
	last := r.lastCapture.Load()
	if last > 0 && now.Sub(time.Unix(0, last)) < r.cooldown {
		r.logger.LogAttrs(ctx, slog.LevelDebug, "skipping trace capture due to cooldown",
			slog.String("reason", reason),
			slog.Time("last_capture", time.Unix(0, last)))
		return
	}
	if !r.lastCapture.CompareAndSwap(last, now.UnixNano()) {
		// Another goroutine captured concurrently.
		return
	}

	path := filepath.Join(r.tracesDirectory, fmt.Sprintf("%s-%s.trace", reason, now.UTC().Format("20060102-150405.000")))
	if err := r.write(path); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "failed to capture trace", errors.SlogError(err))
		return
	}
	r.logger.LogAttrs(ctx, slog.LevelWarn, "captured trace",
		slog.String("reason", reason),
		slog.String("file", path))
}

func (r *Recorder) write(path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create trace file", slog.String("file", path))
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			err = errors.Join(err, errors.Wrap(closeErr, "close trace file", slog.String("file", path)))
		}
	}()
	if _, err = r.flightRecorder.WriteTo(file); err != nil {
		return errors.Wrap(err, "write trace", slog.String("file", path))
	}
	return nil
}
