// Package meminfo samples the kernel's page-cache accounting from
// /proc/meminfo. The hint layer uses it to decide whether enough file cache
// is resident for a recorded launch pattern to be worth acting on.
package meminfo

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pagetrace/pagetrace/pkg/errors"
	"github.com/pagetrace/pagetrace/pkg/utils"
)

// Sample is one observation of the file-backed page cache.
type Sample struct {
	Timestamp    time.Time
	ActiveKB     uint64 // Active(file)
	InactiveKB   uint64 // Inactive(file)
	FileCacheKB  uint64 // ActiveKB + InactiveKB
	MemTotalKB   uint64
	MemFreeKB    uint64
	MemAvailable uint64 // MemAvailable, in kB
}

// MonitorConfig configures a file-cache monitor.
type MonitorConfig struct {
	// SampleInterval is how often the background loop samples. Zero
	// disables the loop; Sample still works on demand.
	SampleInterval time.Duration

	// MaxSamples bounds the history ring.
	MaxSamples int

	// Path overrides the meminfo file, for tests.
	Path string

	Logger *utils.StructuredLogger
}

// DefaultMonitorConfig returns the production defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval: 30 * time.Second,
		MaxSamples:     100,
		Path:           "/proc/meminfo",
	}
}

// Monitor samples file-cache occupancy, on demand and optionally on a
// background interval.
type Monitor struct {
	config MonitorConfig
	logger *utils.StructuredLogger

	mu      sync.RWMutex
	samples []Sample
	current Sample

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewMonitor creates a stopped monitor.
func NewMonitor(config MonitorConfig) *Monitor {
	if config.Path == "" {
		config.Path = "/proc/meminfo"
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = 100
	}
	logger := config.Logger
	if logger == nil {
		logger, _ = utils.NewStructuredLogger(nil)
		logger = logger.WithComponent("meminfo")
	}
	return &Monitor{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start launches the background sampling loop. No-op when the interval is
// zero or the monitor already runs.
func (m *Monitor) Start(ctx context.Context) error {
	if m.config.SampleInterval <= 0 {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&m.active, 0, 1) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "meminfo monitor already running").
			WithComponent("meminfo")
	}

	if _, err := m.Sample(); err != nil {
		atomic.StoreInt32(&m.active, 0)
		return err
	}

	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info("meminfo monitor started", map[string]interface{}{
		"interval": m.config.SampleInterval.String(),
	})
	return nil
}

// Stop ends the background loop and waits for it.
func (m *Monitor) Stop() {
	if !atomic.CompareAndSwapInt32(&m.active, 1, 0) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if _, err := m.Sample(); err != nil {
				m.logger.Warn("meminfo sample failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Sample reads meminfo once and records the observation.
func (m *Monitor) Sample() (Sample, error) {
	data, err := os.ReadFile(m.config.Path)
	if err != nil {
		return Sample{}, errors.NewError(errors.ErrCodeInternalError,
			fmt.Sprintf("reading %s", m.config.Path)).
			WithComponent("meminfo").WithOperation("sample").
			WithCause(err)
	}

	s, err := parse(data)
	if err != nil {
		return Sample{}, err
	}
	s.Timestamp = time.Now()

	m.mu.Lock()
	m.current = s
	m.samples = append(m.samples, s)
	if len(m.samples) > m.config.MaxSamples {
		m.samples = m.samples[1:]
	}
	m.mu.Unlock()

	return s, nil
}

// Current returns the most recent sample and whether one exists.
func (m *Monitor) Current() (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, !m.current.Timestamp.IsZero()
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

// FileCacheKB samples on demand and returns the resident file cache in kB.
func (m *Monitor) FileCacheKB() (uint64, error) {
	s, err := m.Sample()
	if err != nil {
		return 0, err
	}
	return s.FileCacheKB, nil
}

// parse extracts the fields of interest from meminfo content. Lines look
// like "Active(file):     123456 kB".
func parse(data []byte) (Sample, error) {
	var s Sample
	sawActive, sawInactive := false, false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := line[:idx]
		val, err := parseKB(line[idx+1:])
		if err != nil {
			continue
		}
		switch key {
		case "Active(file)":
			s.ActiveKB = val
			sawActive = true
		case "Inactive(file)":
			s.InactiveKB = val
			sawInactive = true
		case "MemTotal":
			s.MemTotalKB = val
		case "MemFree":
			s.MemFreeKB = val
		case "MemAvailable":
			s.MemAvailable = val
		}
	}

	if !sawActive || !sawInactive {
		return Sample{}, errors.NewError(errors.ErrCodeInternalError,
			"meminfo is missing file-cache fields").
			WithComponent("meminfo").WithOperation("parse")
	}
	s.FileCacheKB = s.ActiveKB + s.InactiveKB
	return s, nil
}

func parseKB(rest string) (uint64, error) {
	rest = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "kB"))
	return strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
}
