// Package resolver turns captured file handles into filesystem paths. It is
// the slow half of the trace pipeline: resolution walks /proc and may touch
// the VFS, so it must only ever run from Collect, never from the capture
// path.
package resolver

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pagetrace/pagetrace/pkg/errors"
	"github.com/pagetrace/pagetrace/pkg/types"
)

// deletedSuffix is what the kernel appends to the link target of an fd whose
// backing file has been unlinked.
const deletedSuffix = " (deleted)"

// ProcResolver resolves file handles through /proc/self/fd. The handle's fd
// must still be open in this process; the tracer holds a reference from
// capture until resolution precisely so the fd cannot be recycled underneath
// us.
type ProcResolver struct {
	// Root overrides the proc mount point, for tests. Empty means "/proc".
	Root string
}

// NewProcResolver returns a resolver over the standard /proc mount.
func NewProcResolver() *ProcResolver {
	return &ProcResolver{}
}

// Resolve reads the fd's symlink and reports the backing path and whether
// the file has been deleted since capture. Paths longer than
// types.MaxPathLen do not fit a trace record and fail with PATH_TOO_LONG.
func (r *ProcResolver) Resolve(ref *types.FileRef) (string, bool, error) {
	if ref == nil || ref.FD < 0 {
		return "", false, errors.NewError(errors.ErrCodeInvalidArgument,
			"resolve requires a handle with an open fd").
			WithComponent("resolver").WithOperation("resolve")
	}

	root := r.Root
	if root == "" {
		root = "/proc"
	}
	link := fmt.Sprintf("%s/self/fd/%d", root, ref.FD)

	path, err := os.Readlink(link)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, errors.NewError(errors.ErrCodeFileNotFound,
				fmt.Sprintf("fd %d is not open", ref.FD)).
				WithComponent("resolver").WithOperation("resolve").
				WithCause(err)
		}
		return "", false, errors.NewError(errors.ErrCodeResolutionFailed,
			fmt.Sprintf("readlink %s failed", link)).
			WithComponent("resolver").WithOperation("resolve").
			WithCause(err)
	}

	deleted := strings.HasSuffix(path, deletedSuffix)
	if deleted {
		path = strings.TrimSuffix(path, deletedSuffix)
	}

	if len(path) >= types.MaxPathLen {
		return "", false, errors.NewError(errors.ErrCodePathTooLong,
			fmt.Sprintf("path is %d bytes, limit %d", len(path), types.MaxPathLen)).
			WithComponent("resolver").WithOperation("resolve").
			WithDetail("fd", ref.FD)
	}

	return path, deleted, nil
}

// StaticResolver resolves handles from an in-memory table. It backs the
// in-process hook's unit tests and any deployment where the hook already
// knows the path at capture time and encodes it as the handle key.
type StaticResolver struct {
	mu      sync.RWMutex
	paths   map[string]string
	deleted map[string]struct{}
	fail    map[string]error
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		paths:   make(map[string]string),
		deleted: make(map[string]struct{}),
		fail:    make(map[string]error),
	}
}

// Add registers a handle key with its path.
func (r *StaticResolver) Add(key, path string) {
	r.mu.Lock()
	r.paths[key] = path
	r.mu.Unlock()
}

// MarkDeleted flags a key so resolution reports its file as deleted.
func (r *StaticResolver) MarkDeleted(key string) {
	r.mu.Lock()
	r.deleted[key] = struct{}{}
	r.mu.Unlock()
}

// FailWith makes resolution of key return err instead of a path.
func (r *StaticResolver) FailWith(key string, err error) {
	r.mu.Lock()
	r.fail[key] = err
	r.mu.Unlock()
}

// Remove drops a key entirely; subsequent resolution fails with
// FILE_NOT_FOUND.
func (r *StaticResolver) Remove(key string) {
	r.mu.Lock()
	delete(r.paths, key)
	delete(r.deleted, key)
	delete(r.fail, key)
	r.mu.Unlock()
}

func (r *StaticResolver) Resolve(ref *types.FileRef) (string, bool, error) {
	if ref == nil {
		return "", false, errors.NewError(errors.ErrCodeInvalidArgument,
			"resolve requires a handle").
			WithComponent("resolver").WithOperation("resolve")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if err, ok := r.fail[ref.Key]; ok {
		return "", false, err
	}
	path, ok := r.paths[ref.Key]
	if !ok {
		return "", false, errors.NewError(errors.ErrCodeFileNotFound,
			fmt.Sprintf("no path registered for handle %q", ref.Key)).
			WithComponent("resolver").WithOperation("resolve")
	}
	if len(path) >= types.MaxPathLen {
		return "", false, errors.NewError(errors.ErrCodePathTooLong,
			fmt.Sprintf("path is %d bytes, limit %d", len(path), types.MaxPathLen)).
			WithComponent("resolver").WithOperation("resolve")
	}
	_, deleted := r.deleted[ref.Key]
	return path, deleted, nil
}
