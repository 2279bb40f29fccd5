package meminfo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleMeminfo = `MemTotal:        8000000 kB
MemFree:         1200000 kB
MemAvailable:    4500000 kB
Buffers:          300000 kB
Cached:          2800000 kB
Active:          3000000 kB
Inactive:        2000000 kB
Active(anon):    1600000 kB
Inactive(anon):   200000 kB
Active(file):    1400000 kB
Inactive(file):  1800000 kB
SwapTotal:             0 kB
`

func writeMeminfo(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meminfo")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse(t *testing.T) {
	s, err := parse([]byte(sampleMeminfo))
	if err != nil {
		t.Fatal(err)
	}
	if s.ActiveKB != 1400000 {
		t.Errorf("ActiveKB = %d", s.ActiveKB)
	}
	if s.InactiveKB != 1800000 {
		t.Errorf("InactiveKB = %d", s.InactiveKB)
	}
	if s.FileCacheKB != 3200000 {
		t.Errorf("FileCacheKB = %d, want 3200000", s.FileCacheKB)
	}
	if s.MemTotalKB != 8000000 || s.MemFreeKB != 1200000 || s.MemAvailable != 4500000 {
		t.Errorf("totals wrong: %+v", s)
	}
}

func TestParseMissingFields(t *testing.T) {
	_, err := parse([]byte("MemTotal: 100 kB\nMemFree: 50 kB\n"))
	if err == nil {
		t.Fatal("parse accepted meminfo without file-cache fields")
	}
}

func TestMonitorSampleAndHistory(t *testing.T) {
	path := writeMeminfo(t, sampleMeminfo)
	m := NewMonitor(MonitorConfig{Path: path, MaxSamples: 2})

	if _, ok := m.Current(); ok {
		t.Fatal("fresh monitor reports a sample")
	}

	for i := 0; i < 3; i++ {
		if _, err := m.Sample(); err != nil {
			t.Fatal(err)
		}
	}

	cur, ok := m.Current()
	if !ok || cur.FileCacheKB != 3200000 {
		t.Errorf("current = %+v, ok = %v", cur, ok)
	}
	if got := len(m.History()); got != 2 {
		t.Errorf("history holds %d samples, want ring of 2", got)
	}

	kb, err := m.FileCacheKB()
	if err != nil || kb != 3200000 {
		t.Errorf("FileCacheKB = %d, %v", kb, err)
	}
}

func TestMonitorBackgroundLoop(t *testing.T) {
	path := writeMeminfo(t, sampleMeminfo)
	m := NewMonitor(MonitorConfig{Path: path, SampleInterval: 10 * time.Millisecond, MaxSamples: 100})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second Start did not fail")
	}

	time.Sleep(50 * time.Millisecond)
	m.Stop()
	m.Stop() // idempotent

	if got := len(m.History()); got < 2 {
		t.Errorf("background loop took %d samples, want at least 2", got)
	}
}

func TestMonitorMissingFile(t *testing.T) {
	m := NewMonitor(MonitorConfig{Path: filepath.Join(t.TempDir(), "absent")})
	if _, err := m.Sample(); err == nil {
		t.Fatal("sampling a missing file succeeded")
	}
}
