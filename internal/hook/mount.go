package hook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/pagetrace/pagetrace/internal/config"
	"github.com/pagetrace/pagetrace/pkg/errors"
	"github.com/pagetrace/pagetrace/pkg/types"
	"github.com/pagetrace/pagetrace/pkg/utils"
)

// Stats counts hook activity since mount.
type Stats struct {
	Mounted bool   `json:"mounted"`
	Source  string `json:"source"`
	Opens   int64  `json:"opens"`
	Reads   int64  `json:"reads"`
}

// MountManager owns the lifecycle of one observation mount.
type MountManager struct {
	cfg    config.HookConfig
	sink   types.CaptureSink
	logger *utils.StructuredLogger

	mu      sync.Mutex
	server  *fuse.Server
	root    *observerRoot
	mounted bool
}

// NewMountManager prepares a manager; nothing is mounted until Mount.
func NewMountManager(cfg config.HookConfig, sink types.CaptureSink, logger *utils.StructuredLogger) *MountManager {
	if logger == nil {
		logger, _ = utils.NewStructuredLogger(nil)
	}
	return &MountManager{
		cfg:    cfg,
		sink:   sink,
		logger: logger.WithComponent("hook"),
	}
}

// Mount mounts the observation filesystem over the configured mountpoint.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "hook is already mounted").
			WithComponent("hook").WithOperation("mount")
	}
	if err := m.validate(); err != nil {
		return err
	}

	rootNode, root, err := newObserverRoot(m.cfg.Source, m.sink)
	if err != nil {
		return errors.NewError(errors.ErrCodeMountFailed,
			fmt.Sprintf("cannot stat source %s", m.cfg.Source)).
			WithComponent("hook").WithOperation("mount").
			WithCause(err)
	}

	attrTimeout := time.Second
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:        "pagetrace",
			FsName:      m.cfg.Source,
			AllowOther:  m.cfg.AllowOther,
			DirectMount: true,
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &attrTimeout,
	}

	server, err := fs.Mount(m.cfg.Mountpoint, rootNode, opts)
	if err != nil {
		return errors.NewError(errors.ErrCodeMountFailed,
			fmt.Sprintf("mount at %s failed", m.cfg.Mountpoint)).
			WithComponent("hook").WithOperation("mount").
			WithCause(err)
	}

	m.server = server
	m.root = root
	m.mounted = true

	m.logger.Info("observation mount up", map[string]interface{}{
		"source":     m.cfg.Source,
		"mountpoint": m.cfg.Mountpoint,
	})

	go func() {
		server.Wait()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		m.logger.Info("observation mount down", map[string]interface{}{
			"mountpoint": m.cfg.Mountpoint,
		})
	}()

	return nil
}

// Unmount tears the mount down, falling back to a lazy unmount when the
// mountpoint is busy.
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || m.server == nil {
		return errors.NewError(errors.ErrCodeInvalidState, "hook is not mounted").
			WithComponent("hook").WithOperation("unmount")
	}

	if err := m.server.Unmount(); err != nil {
		m.logger.Warn("unmount failed, trying lazy unmount", map[string]interface{}{
			"error": err.Error(),
		})
		if lazyErr := syscall.Unmount(m.cfg.Mountpoint, 2); lazyErr != nil {
			return errors.NewError(errors.ErrCodeUnmountFailed,
				fmt.Sprintf("unmount of %s failed", m.cfg.Mountpoint)).
				WithComponent("hook").WithOperation("unmount").
				WithCause(err)
		}
	}

	m.server = nil
	m.root = nil
	m.mounted = false
	return nil
}

// IsMounted reports whether the observation mount is up.
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Stats returns hook activity counters.
func (m *MountManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Mounted: m.mounted,
		Source:  m.cfg.Source,
	}
	if m.root != nil {
		s.Opens = m.root.opens.Load()
		s.Reads = m.root.reads.Load()
	}
	return s
}

// Wait blocks until the mount is gone.
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
}

func (m *MountManager) validate() error {
	if m.cfg.Source == "" || m.cfg.Mountpoint == "" {
		return errors.NewError(errors.ErrCodeMissingConfig,
			"hook requires both source and mountpoint").
			WithComponent("hook").WithOperation("mount")
	}
	if filepath.Clean(m.cfg.Source) == filepath.Clean(m.cfg.Mountpoint) {
		return errors.NewError(errors.ErrCodeInvalidConfig,
			"hook source and mountpoint cannot be the same directory").
			WithComponent("hook").WithOperation("mount")
	}
	for _, p := range []string{m.cfg.Source, m.cfg.Mountpoint} {
		if err := utils.ValidatePath(p, true); err != nil {
			return errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
				WithComponent("hook").WithOperation("mount")
		}
	}

	info, err := os.Stat(m.cfg.Mountpoint)
	if err != nil {
		return errors.NewError(errors.ErrCodeMountFailed,
			fmt.Sprintf("cannot access mountpoint %s", m.cfg.Mountpoint)).
			WithComponent("hook").WithOperation("mount").
			WithCause(err)
	}
	if !info.IsDir() {
		return errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("mountpoint %s is not a directory", m.cfg.Mountpoint)).
			WithComponent("hook").WithOperation("mount")
	}

	if m.alreadyMounted() {
		return errors.NewError(errors.ErrCodeAlreadyStarted,
			fmt.Sprintf("%s is already a mountpoint", m.cfg.Mountpoint)).
			WithComponent("hook").WithOperation("mount")
	}
	return nil
}

// alreadyMounted scans /proc/mounts for the mountpoint.
func (m *MountManager) alreadyMounted() bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	target := filepath.Clean(m.cfg.Mountpoint)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == target {
			return true
		}
	}
	return false
}
