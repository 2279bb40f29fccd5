package hook

import (
	"context"
	stderr "errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/pagetrace/pagetrace/internal/config"
	"github.com/pagetrace/pagetrace/pkg/errors"
	"github.com/pagetrace/pagetrace/pkg/types"
)

// recordingSink remembers every fault reported to it.
type recordingSink struct {
	mu     sync.Mutex
	faults []fault
}

type fault struct {
	pid    int32
	key    string
	offset uint64
}

func (s *recordingSink) OnReadFault(pid int32, ref *types.FileRef, offset uint64, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ""
	if ref != nil {
		key = ref.Key
	}
	s.faults = append(s.faults, fault{pid: pid, key: key, offset: offset})
}

// openObserverFile builds an observer handle over a real file without a
// mount, the way Open would.
func openObserverFile(t *testing.T, path string, sink types.CaptureSink) *observerFile {
	t.Helper()

	fd, err := syscall.Open(path, syscall.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	innerFD, err := syscall.Open(path, syscall.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}

	root := &observerRoot{source: filepath.Dir(path), sink: sink}
	node := &observerNode{root: root}
	return &observerFile{
		inner: fs.NewLoopbackFile(innerFD),
		node:  node,
		ref: types.NewFileRef(path, fd, func(*types.FileRef) {
			_ = syscall.Close(fd)
		}),
	}
}

func TestObserverFileReportsReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.apk")
	payload := make([]byte, 3*types.PageSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	f := openObserverFile(t, path, sink)
	defer f.Release(context.Background())

	ctx := fuse.NewContext(context.Background(), &fuse.Caller{
		Owner: fuse.Owner{Uid: 0, Gid: 0},
		Pid:   4242,
	})

	dest := make([]byte, 512)
	res, errno := f.Read(ctx, dest, int64(types.PageSize)+100)
	if errno != 0 {
		t.Fatalf("Read errno = %v", errno)
	}
	got, _ := res.Bytes(dest)
	if len(got) != 512 || got[0] != payload[types.PageSize+100] {
		t.Errorf("read returned wrong data")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.faults) != 1 {
		t.Fatalf("faults = %d, want 1", len(sink.faults))
	}
	f0 := sink.faults[0]
	if f0.pid != 4242 {
		t.Errorf("pid = %d, want 4242 from the FUSE caller", f0.pid)
	}
	if f0.offset != uint64(types.PageSize) {
		t.Errorf("offset = %d, want page-aligned %d", f0.offset, types.PageSize)
	}
	if f0.key != path {
		t.Errorf("handle key = %q, want %q", f0.key, path)
	}

	if got := f.node.root.reads.Load(); got != 1 {
		t.Errorf("read counter = %d", got)
	}
}

func TestObserverFileReleaseDropsRef(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.so")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	f := openObserverFile(t, path, sink)
	ref := f.ref
	if got := ref.RefCount(); got != 1 {
		t.Fatalf("initial refcount = %d", got)
	}

	if errno := f.Release(context.Background()); errno != 0 {
		t.Fatalf("Release errno = %v", errno)
	}
	if f.ref != nil {
		t.Error("handle still holds the ref after Release")
	}
	// Double release of the handle must not re-release the FileRef.
	if errno := f.Release(context.Background()); errno != 0 {
		t.Fatalf("second Release errno = %v", errno)
	}
}

func TestObserverFileSurvivesNilRef(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	f := openObserverFile(t, path, sink)
	f.ref.Release()
	f.ref = nil

	dest := make([]byte, 4)
	if _, errno := f.Read(context.Background(), dest, 0); errno != 0 {
		t.Fatalf("Read errno = %v", errno)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.faults) != 1 || sink.faults[0].key != "" {
		t.Errorf("nil-ref fault not forwarded as such: %+v", sink.faults)
	}
}

func TestMountManagerValidation(t *testing.T) {
	sink := &recordingSink{}

	t.Run("missing paths", func(t *testing.T) {
		m := NewMountManager(config.HookConfig{}, sink, nil)
		err := m.Mount(context.Background())
		if !stderr.Is(err, errors.NewError(errors.ErrCodeMissingConfig, "")) {
			t.Errorf("err = %v, want MISSING_CONFIG", err)
		}
	})

	t.Run("source equals mountpoint", func(t *testing.T) {
		dir := t.TempDir()
		m := NewMountManager(config.HookConfig{Source: dir, Mountpoint: dir}, sink, nil)
		err := m.Mount(context.Background())
		if !stderr.Is(err, errors.NewError(errors.ErrCodeInvalidConfig, "")) {
			t.Errorf("err = %v, want INVALID_CONFIG", err)
		}
	})

	t.Run("mountpoint does not exist", func(t *testing.T) {
		m := NewMountManager(config.HookConfig{
			Source:     t.TempDir(),
			Mountpoint: filepath.Join(t.TempDir(), "absent"),
		}, sink, nil)
		err := m.Mount(context.Background())
		if !stderr.Is(err, errors.NewError(errors.ErrCodeMountFailed, "")) {
			t.Errorf("err = %v, want MOUNT_FAILED", err)
		}
	})

	t.Run("mountpoint is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "f")
		if err := os.WriteFile(file, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		m := NewMountManager(config.HookConfig{
			Source:     t.TempDir(),
			Mountpoint: file,
		}, sink, nil)
		err := m.Mount(context.Background())
		if !stderr.Is(err, errors.NewError(errors.ErrCodeInvalidConfig, "")) {
			t.Errorf("err = %v, want INVALID_CONFIG", err)
		}
	})
}

func TestMountManagerLifecycleErrors(t *testing.T) {
	m := NewMountManager(config.HookConfig{
		Source:     t.TempDir(),
		Mountpoint: t.TempDir(),
	}, &recordingSink{}, nil)

	if m.IsMounted() {
		t.Error("fresh manager reports mounted")
	}
	if err := m.Unmount(); !stderr.Is(err, errors.NewError(errors.ErrCodeInvalidState, "")) {
		t.Errorf("unmount while unmounted: err = %v, want INVALID_STATE", err)
	}

	stats := m.Stats()
	if stats.Mounted || stats.Opens != 0 || stats.Reads != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

// TestMountedReadObservation exercises the full mount path. It needs a
// usable /dev/fuse, so it skips on build machines without one.
func TestMountedReadObservation(t *testing.T) {
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("no /dev/fuse")
	}
	if os.Getuid() != 0 {
		t.Skip("needs root for DirectMount")
	}

	source := t.TempDir()
	mountpoint := t.TempDir()
	payload := make([]byte, 2*types.PageSize)
	if err := os.WriteFile(filepath.Join(source, "data.bin"), payload, 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	m := NewMountManager(config.HookConfig{Source: source, Mountpoint: mountpoint}, sink, nil)
	if err := m.Mount(context.Background()); err != nil {
		t.Skipf("mount failed on this machine: %v", err)
	}
	defer func() {
		if err := m.Unmount(); err != nil {
			t.Errorf("unmount: %v", err)
		}
	}()

	data, err := os.ReadFile(filepath.Join(mountpoint, "data.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != len(payload) {
		t.Errorf("read %d bytes through mount, want %d", len(data), len(payload))
	}

	sink.mu.Lock()
	faults := len(sink.faults)
	sink.mu.Unlock()
	if faults == 0 {
		t.Error("no faults observed through the mount")
	}

	if got := m.Stats(); !got.Mounted || got.Reads == 0 {
		t.Errorf("stats = %+v", got)
	}
}
