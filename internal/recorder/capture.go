package recorder

import (
	"time"

	"github.com/pagetrace/pagetrace/pkg/types"
)

// Drop reasons reported to the metrics sink. The sink pre-binds a counter
// per reason so the capture path never formats or allocates labels.
const (
	DropDisabled    = "disabled"
	DropNoFile      = "nofile"
	DropUnmonitored = "unmonitored"
	DropFull        = "full"
)

// OnReadFault is the capture path, invoked by the read-observation hook on
// every qualifying fault. It runs in bounded, small, constant time with no
// blocking operation and no allocation: the common "disabled" and "not
// monitored" cases are the cheapest branches.
//
// There are exactly two outcomes: the fault is recorded, or it is silently
// ignored. Capture never reports an error; a full buffer is an expected
// operating condition.
//
// The hook guarantees ref only for the duration of the call; recording
// retains an owning reference that Reset or resolution later releases.
func (r *Recorder) OnReadFault(pid int32, ref *types.FileRef, offset uint64, now time.Time) {
	r.mu.RLock()

	if !r.enabled {
		r.mu.RUnlock()
		r.metrics.CaptureDropped(DropDisabled)
		return
	}
	// Some fault sources carry no backing file (anonymous or special
	// mappings); those are ignored without side effects.
	if ref == nil {
		r.mu.RUnlock()
		r.metrics.CaptureDropped(DropNoFile)
		return
	}

	t := r.findTarget(pid)
	if t == nil {
		r.mu.RUnlock()
		r.metrics.CaptureDropped(DropUnmonitored)
		return
	}

	if now.IsZero() {
		now = r.clock.Now()
	}

	t.mu.Lock()
	if t.buf.full() {
		t.mu.Unlock()
		r.mu.RUnlock()
		r.dropped.Add(1)
		r.metrics.CaptureDropped(DropFull)
		return
	}
	ref.Retain()
	t.buf.append(types.FaultRecord{File: ref, Offset: offset, Time: now})
	t.mu.Unlock()

	r.mu.RUnlock()

	r.captured.Add(1)
	r.metrics.CaptureRecorded(pid)
}

// noopMetrics satisfies types.MetricsSink for recorders built without a
// metrics collector.
type noopMetrics struct{}

func (noopMetrics) CaptureRecorded(int32)                               {}
func (noopMetrics) CaptureDropped(string)                               {}
func (noopMetrics) CollectObserved(int, int, time.Duration, error)      {}
func (noopMetrics) ResolutionObserved(string)                           {}
func (noopMetrics) TargetsChanged(int, int)                             {}
