package types

import (
	"context"
	"time"
)

// Resolver turns a FileRef into a human-readable path. deleted reports that
// the backing file was removed after capture; that is not a resolution
// failure. Implementations are free to block and allocate: resolution only
// ever runs off the capture path, outside any recorder lock.
type Resolver interface {
	Resolve(ref *FileRef) (path string, deleted bool, err error)
}

// Clock supplies capture timestamps. The default implementation returns
// time.Now, which carries Go's monotonic reading.
type Clock interface {
	Now() time.Time
}

// CaptureSink is the hot callback surface the read-observation hook drives.
// Implementations must be O(1), non-blocking and allocation-free: the hook
// invokes this on every qualifying read for every observed process.
//
// There are exactly two legal outcomes of a capture call: the fault was
// recorded, or it was silently ignored (tracing disabled, pid not
// monitored, nil ref, buffer full). A capture is never an error.
type CaptureSink interface {
	OnReadFault(pid int32, ref *FileRef, offset uint64, now time.Time)
}

// MetricsSink receives recorder events for export. The capture-path methods
// must be as cheap as a counter increment.
type MetricsSink interface {
	CaptureRecorded(pid int32)
	CaptureDropped(reason string)
	CollectObserved(targets int, records int, duration time.Duration, err error)
	ResolutionObserved(outcome string)
	TargetsChanged(targets int, capacity int)
}

// FootprintUploader ships collected footprints to external storage for
// offline analysis. Implementations may block; callers bound them with ctx.
type FootprintUploader interface {
	Upload(ctx context.Context, sessionID string, footprints []TargetFootprint) error
}
