// Package hook observes file reads and feeds them to the trace engine. It
// mounts a passthrough filesystem over the directory being traced; every
// read that reaches the daemon is reported to the capture sink with the
// reading process's pid and the page-aligned offset, then served from the
// backing file unchanged.
//
// Reads absorbed by the kernel page cache never reach the daemon, which is
// exactly the set of faults the tracer does not want: the trace ends up
// holding first-touch reads, the cold-start footprint.
package hook

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/pagetrace/pagetrace/pkg/types"
	"github.com/pagetrace/pagetrace/pkg/utils"
)

// observerRoot carries the per-mount state every node shares.
type observerRoot struct {
	source string
	sink   types.CaptureSink

	opens atomic.Int64
	reads atomic.Int64
}

// observerNode is a loopback node whose file handles report reads.
type observerNode struct {
	fs.LoopbackNode

	root *observerRoot
}

var _ = (fs.NodeOpener)((*observerNode)(nil))

// Open opens the backing file through the loopback layer and wraps the
// handle. A private fd is opened alongside for the trace handle, so the
// resolver can recover the path even if the file is unlinked while the
// trace still references it.
func (n *observerNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	fh, fuseFlags, errno := n.LoopbackNode.Open(ctx, flags)
	if errno != 0 {
		return fh, fuseFlags, errno
	}
	n.root.opens.Add(1)

	path := filepath.Join(n.root.source, n.Path(nil))

	// Reads on a handle whose trace fd cannot be opened are still served;
	// they just go unrecorded, the same silent-drop contract the engine
	// applies everywhere else. A node path that somehow escapes the
	// observed tree is treated the same way.
	var ref *types.FileRef
	if err := utils.ValidatePathWithinBase(n.root.source, path); err != nil {
		return &observerFile{inner: fh, node: n}, fuseFlags, 0
	}
	if fd, err := syscall.Open(path, syscall.O_RDONLY, 0); err == nil {
		traceFD := fd
		ref = types.NewFileRef(path, traceFD, func(*types.FileRef) {
			_ = syscall.Close(traceFD)
		})
	}

	return &observerFile{
		inner: fh,
		node:  n,
		ref:   ref,
	}, fuseFlags, 0
}

// observerFile wraps a loopback file handle and reports each read.
type observerFile struct {
	inner fs.FileHandle
	node  *observerNode
	ref   *types.FileRef
}

var _ = (fs.FileReader)((*observerFile)(nil))
var _ = (fs.FileReleaser)((*observerFile)(nil))
var _ = (fs.FileGetattrer)((*observerFile)(nil))
var _ = (fs.FileLseeker)((*observerFile)(nil))

func (f *observerFile) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	f.node.root.reads.Add(1)

	var pid int32
	if caller, ok := fuse.FromContext(ctx); ok {
		pid = int32(caller.Pid)
	}
	if off >= 0 {
		aligned := uint64(off) &^ (types.PageSize - 1)
		f.node.root.sink.OnReadFault(pid, f.ref, aligned, time.Time{})
	}

	if r, ok := f.inner.(fs.FileReader); ok {
		return r.Read(ctx, dest, off)
	}
	return nil, syscall.ENOTSUP
}

// Release drops the observer's own reference. References the engine
// retained at capture stay live until reset or resolution.
func (f *observerFile) Release(ctx context.Context) syscall.Errno {
	if f.ref != nil {
		f.ref.Release()
		f.ref = nil
	}
	if r, ok := f.inner.(fs.FileReleaser); ok {
		return r.Release(ctx)
	}
	return 0
}

func (f *observerFile) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	if g, ok := f.inner.(fs.FileGetattrer); ok {
		return g.Getattr(ctx, out)
	}
	return syscall.ENOTSUP
}

func (f *observerFile) Lseek(ctx context.Context, off uint64, whence uint32) (uint64, syscall.Errno) {
	if l, ok := f.inner.(fs.FileLseeker); ok {
		return l.Lseek(ctx, off, whence)
	}
	return 0, syscall.ENOTSUP
}

// newObserverRoot builds the root node for a mount over source.
func newObserverRoot(source string, sink types.CaptureSink) (fs.InodeEmbedder, *observerRoot, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(source, &st); err != nil {
		return nil, nil, err
	}

	root := &observerRoot{source: source, sink: sink}
	loopback := &fs.LoopbackRoot{Path: source}
	loopback.NewNode = func(rootData *fs.LoopbackRoot, parent *fs.Inode, name string, st *syscall.Stat_t) fs.InodeEmbedder {
		return &observerNode{
			LoopbackNode: fs.LoopbackNode{RootData: rootData},
			root:         root,
		}
	}

	node := loopback.NewNode(loopback, nil, "", &st)
	return node, root, nil
}
