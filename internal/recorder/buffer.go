package recorder

import (
	"github.com/pagetrace/pagetrace/pkg/types"
)

// TraceBuffer is a fixed-capacity, append-only sequence of fault records.
// The cursor counts valid records; slots beyond it are unused. Once the
// cursor reaches capacity, further appends are silently dropped.
//
// A TraceBuffer is owned by exactly one target and mutated only under that
// target's buffer lock.
type TraceBuffer struct {
	records []types.FaultRecord
	cur     int
}

func newTraceBuffer(capacity int) *TraceBuffer {
	return &TraceBuffer{
		records: make([]types.FaultRecord, capacity),
	}
}

func (b *TraceBuffer) capacity() int {
	return len(b.records)
}

func (b *TraceBuffer) full() bool {
	return b.cur >= len(b.records)
}

// append stores one record and advances the cursor. Caller holds the buffer
// lock and has already checked full(); this is the capture path, so the
// body is a pair of stores.
func (b *TraceBuffer) append(rec types.FaultRecord) {
	b.records[b.cur] = rec
	b.cur++
}

// copyFrom shallow-copies src's valid records into b and retains one
// additional reference per copied record, so the snapshot owns references
// independent of the source buffer. Caller holds src's buffer lock; the
// work is bounded by src.cur atomic increments plus a memmove, so it is
// safe under a lock shared with the capture path.
func (b *TraceBuffer) copyFrom(src *TraceBuffer) {
	b.cur = src.cur
	copy(b.records[:src.cur], src.records[:src.cur])
	for i := 0; i < src.cur; i++ {
		b.records[i].File.Retain()
	}
}

// releaseFrom releases the snapshot-owned references for records in
// [from, cur) and clears the slots. Used on the resolution abort path and
// after successful resolution consumed earlier entries one by one.
func (b *TraceBuffer) releaseFrom(from int) {
	for i := from; i < b.cur; i++ {
		b.records[i].File.Release()
		b.records[i] = types.FaultRecord{}
	}
}

// reset clears the cursor and the record slots so pooled reuse does not pin
// released FileRefs.
func (b *TraceBuffer) reset() {
	for i := 0; i < b.cur; i++ {
		b.records[i] = types.FaultRecord{}
	}
	b.cur = 0
}
