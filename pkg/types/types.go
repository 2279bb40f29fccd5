package types

import (
	"time"
)

// MaxPathLen is the longest resolved path the tracer will accept. Resolution
// of a record whose path exceeds this limit fails the whole collect call.
const MaxPathLen = 256

// PageSize is the granularity at which fault offsets are recorded. Offsets
// handed to the capture path are byte offsets aligned down to a page
// boundary.
const PageSize = 4096

// FaultRecord is one captured file-backed read fault. It is plain data: the
// capture path fills it in and nothing else touches it until snapshot time.
//
// The FileRef is retained at capture time and released exactly once, either
// by resolution (for the snapshot's retained copy) or by Reset (for the
// buffer-owned copy).
type FaultRecord struct {
	File   *FileRef
	Offset uint64
	Time   time.Time
}

// Metadata is the resolved, human-readable form of a FaultRecord.
// Deleted marks a record whose backing file was removed after capture;
// consumers are expected to filter those rather than treat them as errors.
type Metadata struct {
	Path    string    `json:"path"`
	Offset  uint64    `json:"offset"`
	Time    time.Time `json:"time"`
	Deleted bool      `json:"deleted,omitempty"`
}

// TargetFootprint is the per-target output of a collect call.
// Truncated reports that the target's buffer filled up during recording and
// later faults were dropped; it is a warning signal, not an error.
type TargetFootprint struct {
	PID       int32      `json:"pid"`
	Records   []Metadata `json:"records"`
	Truncated bool       `json:"truncated,omitempty"`
}

// RecorderStats is a point-in-time view of recorder state, used by the
// control plane and the health tracker.
type RecorderStats struct {
	Targets  int   `json:"targets"`
	Capacity int   `json:"capacity"`
	Records  int   `json:"records"`
	Enabled  bool  `json:"enabled"`
	Captured int64 `json:"captured"`
	Dropped  int64 `json:"dropped"`
}
