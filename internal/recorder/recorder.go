package recorder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pagetrace/pagetrace/pkg/errors"
	"github.com/pagetrace/pagetrace/pkg/types"
	"github.com/pagetrace/pagetrace/pkg/utils"
)

// target is one monitored process: its pid, its trace buffer, and the
// fine-grained lock that serializes capture appends against snapshot
// copy-out. The buffer lock is never held across slow work.
type target struct {
	pid int32
	mu  sync.Mutex
	buf *TraceBuffer
}

// Config configures a Recorder. Zero-value fields fall back to defaults:
// real clock, no-op metrics, INFO logging to stdout, unlimited record
// budget.
type Config struct {
	// Resolver converts captured file handles to paths during Collect.
	Resolver types.Resolver

	// Clock supplies capture timestamps when the hook passes a zero time.
	Clock types.Clock

	// Logger receives warn-level signals (empty buffer, overflow) and
	// lifecycle messages. The capture path never logs.
	Logger *utils.Logger

	// Metrics receives capture and collect events.
	Metrics types.MetricsSink

	// MaxRecords bounds the total records across all targets a Setup call
	// may reserve. Exceeding it fails Setup with OUT_OF_MEMORY before any
	// target is registered. Zero means unlimited.
	MaxRecords int
}

// Recorder is the trace engine: the registry of monitored targets, the
// process-wide enable flag, and the capture/collect machinery over them.
//
// It is an explicit instance rather than package state so tests can run
// independent recorders side by side. One process-wide instance is the
// expected production shape.
//
// Locking: the registry RWMutex gates membership and the enable flag
// (readers: capture, collect copy-out; writer: Setup/Start/Stop/Reset).
// Each target's buffer lock gates that target's records. The registry lock
// is always taken before a buffer lock, and the buffer lock is always
// released before any unbounded-latency work begins.
type Recorder struct {
	mu      sync.RWMutex
	targets []*target
	enabled bool

	resolver   types.Resolver
	clock      types.Clock
	logger     *utils.Logger
	metrics    types.MetricsSink
	maxRecords int

	captured atomic.Int64
	dropped  atomic.Int64
}

// New creates a Recorder with an empty registry.
func New(cfg Config) *Recorder {
	r := &Recorder{
		resolver:   cfg.Resolver,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		maxRecords: cfg.MaxRecords,
	}
	if r.clock == nil {
		r.clock = realClock{}
	}
	if r.logger == nil {
		r.logger = utils.DefaultLogger()
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	return r
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Setup registers the given pids for recording, each with an empty trace
// buffer of the given capacity. It is all-or-nothing: on any failure no
// target is registered.
//
// Calling Setup while targets are still registered is a caller error;
// Reset must run first.
func (r *Recorder) Setup(pids []int32, capacity int) error {
	if capacity <= 0 {
		return errors.NewError(errors.ErrCodeInvalidArgument,
			fmt.Sprintf("buffer capacity must be positive, got %d", capacity)).
			WithComponent("recorder").WithOperation("setup")
	}
	seen := make(map[int32]struct{}, len(pids))
	for _, pid := range pids {
		if _, dup := seen[pid]; dup {
			return errors.NewError(errors.ErrCodeInvalidArgument,
				fmt.Sprintf("duplicate target pid %d", pid)).
				WithComponent("recorder").WithOperation("setup")
		}
		seen[pid] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.targets) != 0 {
		return errors.NewError(errors.ErrCodeInvalidState,
			"targets already registered; reset before setup").
			WithComponent("recorder").WithOperation("setup")
	}
	if r.maxRecords > 0 && len(pids)*capacity > r.maxRecords {
		return errors.NewError(errors.ErrCodeOutOfMemory,
			fmt.Sprintf("%d targets x %d records exceeds budget of %d",
				len(pids), capacity, r.maxRecords)).
			WithComponent("recorder").WithOperation("setup").
			WithDetail("requested", len(pids)*capacity).
			WithDetail("budget", r.maxRecords)
	}

	targets := make([]*target, 0, len(pids))
	for _, pid := range pids {
		targets = append(targets, &target{pid: pid, buf: newTraceBuffer(capacity)})
	}
	r.targets = targets

	r.logger.Info("recorder: registered %d targets, capacity %d", len(pids), capacity)
	r.metrics.TargetsChanged(len(pids), capacity)
	return nil
}

// Start enables capture. Idempotent.
func (r *Recorder) Start() {
	r.mu.Lock()
	r.enabled = true
	r.mu.Unlock()
	r.logger.Info("recorder: capture started")
}

// Stop disables capture. Idempotent. In-flight capture calls finish; they
// are bounded and fast regardless.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.enabled = false
	r.mu.Unlock()
	r.logger.Info("recorder: capture stopped")
}

// Reset releases every buffer-owned file reference, frees all buffers, and
// empties the registry. Safe at any time, including mid-recording: the
// writer lock excludes the capture path for its duration. After Reset,
// capture is a no-op regardless of the enable flag.
func (r *Recorder) Reset() {
	r.mu.Lock()
	released := 0
	for _, t := range r.targets {
		t.mu.Lock()
		for i := 0; i < t.buf.cur; i++ {
			t.buf.records[i].File.Release()
			released++
		}
		t.buf = nil
		t.mu.Unlock()
	}
	r.targets = nil
	r.mu.Unlock()

	r.logger.Info("recorder: reset, released %d captured references", released)
	r.metrics.TargetsChanged(0, 0)
}

// Enabled reports whether capture is currently on.
func (r *Recorder) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Stats returns a point-in-time view of recorder state.
func (r *Recorder) Stats() types.RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := types.RecorderStats{
		Targets:  len(r.targets),
		Enabled:  r.enabled,
		Captured: r.captured.Load(),
		Dropped:  r.dropped.Load(),
	}
	for _, t := range r.targets {
		t.mu.Lock()
		stats.Records += t.buf.cur
		stats.Capacity = t.buf.capacity()
		t.mu.Unlock()
	}
	return stats
}

// findTarget returns the target for pid, or nil. Caller holds the registry
// lock (either mode). Linear scan: the registry is small and ordered, and
// the scan allocates nothing.
func (r *Recorder) findTarget(pid int32) *target {
	for _, t := range r.targets {
		if t.pid == pid {
			return t
		}
	}
	return nil
}
