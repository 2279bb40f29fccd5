package types

import (
	"fmt"
	"sync/atomic"
)

// ReleaseFunc is invoked once, when a FileRef's count drops to zero.
// Typically it closes the underlying file descriptor.
type ReleaseFunc func(ref *FileRef)

// FileRef is a reference-counted handle to an open file. It stands in for
// the kernel's struct file: the capture path retains it per recorded fault,
// and each owner releases its reference exactly once.
//
// The zero count means the handle is dead; Retain on a dead ref panics,
// because it can only happen through a use-after-release bug.
type FileRef struct {
	// Key identifies the file to a Resolver. For the procfs resolver it is
	// the decimal fd; for the hook it is the backing path itself.
	Key string

	// FD is the underlying descriptor, or -1 when the ref is not fd-backed.
	FD int

	count   atomic.Int64
	release ReleaseFunc
}

// NewFileRef creates a handle with an initial count of one, owned by the
// caller. release may be nil.
func NewFileRef(key string, fd int, release ReleaseFunc) *FileRef {
	ref := &FileRef{Key: key, FD: fd, release: release}
	ref.count.Store(1)
	return ref
}

// Retain takes an additional reference. Safe for concurrent use; constant
// time, no allocation, suitable for the capture path.
func (r *FileRef) Retain() *FileRef {
	if r.count.Add(1) <= 1 {
		panic(fmt.Sprintf("types: Retain on released FileRef %q", r.Key))
	}
	return r
}

// Release drops one reference. When the last reference is dropped the
// ReleaseFunc runs. Releasing more times than retained panics.
func (r *FileRef) Release() {
	n := r.count.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("types: over-release of FileRef %q", r.Key))
	}
	if n == 0 && r.release != nil {
		r.release(r)
	}
}

// RefCount reports the current reference count. Intended for tests and
// diagnostics only; the value may be stale by the time it is read.
func (r *FileRef) RefCount() int64 {
	return r.count.Load()
}
