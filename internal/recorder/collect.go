package recorder

import (
	"fmt"
	"time"

	"github.com/pagetrace/pagetrace/internal/buffer"
	"github.com/pagetrace/pagetrace/pkg/errors"
	"github.com/pagetrace/pagetrace/pkg/types"
)

// Resolution outcomes reported to the metrics sink.
const (
	ResolveOK      = "ok"
	ResolveDeleted = "deleted"
	ResolveError   = "error"
)

// Collect post-processes the trace for the given targets and returns one
// footprint per pid, in the order given. pids must match the registered
// targets exactly, in registration order, and capacity must be at least the
// setup capacity: any divergence is a CONTRACT_VIOLATION, a programming
// error in the caller, not a recoverable condition.
//
// One scratch buffer is allocated up front and reused across targets. Per
// target, the registry read lock is held only long enough to locate the
// target and copy its buffer; resolution, the slow step, runs with no lock
// held, so capture for other processes and lifecycle operations proceed
// concurrently. The read lock is reacquired for the next target.
//
// An empty buffer yields an empty footprint, not an error. A full buffer
// yields a Truncated footprint plus a warning. A resolution failure aborts
// the whole batch: footprints already built for earlier targets are
// discarded, snapshot references are released, and RESOLUTION_FAILED is
// returned — either every requested target's metadata is returned, or none.
func (r *Recorder) Collect(pids []int32, capacity int) ([]types.TargetFootprint, error) {
	start := time.Now()

	if capacity <= 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument,
			fmt.Sprintf("scratch capacity must be positive, got %d", capacity)).
			WithComponent("recorder").WithOperation("collect")
	}
	if r.resolver == nil {
		return nil, errors.NewError(errors.ErrCodeNotInitialized,
			"recorder has no resolver").
			WithComponent("recorder").WithOperation("collect")
	}

	scratch := &TraceBuffer{records: buffer.GetRecords(capacity)}
	defer func() {
		scratch.reset()
		buffer.PutRecords(scratch.records)
	}()

	if err := r.checkMembership(pids); err != nil {
		return nil, err
	}

	footprints := make([]types.TargetFootprint, 0, len(pids))
	total := 0
	for i, pid := range pids {
		truncated, err := r.snapshotAt(i, pid, scratch)
		if err != nil {
			r.metrics.CollectObserved(len(pids), 0, time.Since(start), err)
			return nil, err
		}

		// No lock held from here: resolution is unboundedly slow.
		fp, err := r.resolveSnapshot(pid, scratch, truncated)
		if err != nil {
			r.metrics.CollectObserved(len(pids), 0, time.Since(start), err)
			return nil, err
		}
		footprints = append(footprints, fp)
		total += len(fp.Records)
	}

	r.metrics.CollectObserved(len(pids), total, time.Since(start), nil)
	return footprints, nil
}

// checkMembership verifies the caller's pid list matches registry
// membership before any snapshot work starts. The per-position check in
// snapshotAt re-verifies on every reacquire, since the registry can change
// while the read lock is dropped.
func (r *Recorder) checkMembership(pids []int32) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.targets) != len(pids) {
		return contractViolation(fmt.Sprintf(
			"caller supplied %d targets but registry holds %d", len(pids), len(r.targets)))
	}
	return nil
}

// snapshotAt copies the i-th target's buffer into scratch under the
// registry read lock and the target's buffer lock, verifying that the
// target at this position is the pid the caller expects. Both locks are
// released before it returns.
func (r *Recorder) snapshotAt(i int, pid int32, scratch *TraceBuffer) (truncated bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.targets) <= i {
		return false, contractViolation(fmt.Sprintf(
			"target %d (pid %d) vanished mid-collect; registry holds %d targets",
			i, pid, len(r.targets)))
	}
	t := r.targets[i]
	if t.pid != pid {
		return false, contractViolation(fmt.Sprintf(
			"target list diverged from registry: position %d holds pid %d, caller expects %d",
			i, t.pid, pid))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buf.cur > scratch.capacity() {
		return false, contractViolation(fmt.Sprintf(
			"scratch capacity %d below buffer cursor %d for pid %d",
			scratch.capacity(), t.buf.cur, pid))
	}
	scratch.copyFrom(t.buf)
	return t.buf.full(), nil
}

// resolveSnapshot walks the snapshot and resolves each record to metadata,
// releasing the snapshot-owned reference as each record is consumed. On a
// resolution failure the remaining references are released and the whole
// footprint is abandoned.
func (r *Recorder) resolveSnapshot(pid int32, snap *TraceBuffer, truncated bool) (types.TargetFootprint, error) {
	fp := types.TargetFootprint{
		PID:       pid,
		Records:   make([]types.Metadata, 0, snap.cur),
		Truncated: truncated,
	}

	if snap.cur == 0 {
		r.logger.Warn("recorder: empty buffer for pid %d, nothing to process", pid)
		return fp, nil
	}
	if truncated {
		r.logger.Warn("recorder: buffer for pid %d filled during recording; later faults were dropped, consider a larger capacity", pid)
	}

	for i := 0; i < snap.cur; i++ {
		rec := snap.records[i]
		path, deleted, rerr := r.resolver.Resolve(rec.File)
		if rerr != nil {
			snap.releaseFrom(i)
			snap.cur = 0
			r.metrics.ResolutionObserved(ResolveError)
			return types.TargetFootprint{}, errors.NewError(errors.ErrCodeResolutionFailed,
				fmt.Sprintf("record %d of pid %d did not resolve", i, pid)).
				WithComponent("recorder").WithOperation("collect").
				WithContext("pid", fmt.Sprintf("%d", pid)).
				WithCause(rerr)
		}

		rec.File.Release()
		snap.records[i] = types.FaultRecord{}

		outcome := ResolveOK
		if deleted {
			outcome = ResolveDeleted
		}
		r.metrics.ResolutionObserved(outcome)

		fp.Records = append(fp.Records, types.Metadata{
			Path:    path,
			Offset:  rec.Offset,
			Time:    rec.Time,
			Deleted: deleted,
		})
	}
	snap.cur = 0
	return fp, nil
}

func contractViolation(msg string) *errors.TraceError {
	return errors.NewError(errors.ErrCodeContractViolation, msg).
		WithComponent("recorder").WithOperation("collect").WithStack()
}
