package hint

import (
	stderrors "errors"
	"sync"
	"testing"
)

type fixedSampler struct {
	kb  uint64
	err error
}

func (s fixedSampler) FileCacheKB() (uint64, error) { return s.kb, s.err }

func TestModeRoundTrip(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeAppLaunch, ModeCameraLaunch} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("prefetch"); err == nil {
		t.Error("unknown mode parsed")
	}
}

func TestHintsDefaultsAndActive(t *testing.T) {
	h := New()
	if h.Enabled() || h.CurrentMode() != ModeNone || h.MinFileCacheKB() != 0 {
		t.Errorf("zero value not inert: %+v", h.Snapshot())
	}
	if h.Active() {
		t.Error("inert hints report active")
	}

	h.SetEnabled(true)
	if h.Active() {
		t.Error("enabled with mode none reports active")
	}
	if err := h.SetMode(ModeAppLaunch); err != nil {
		t.Fatal(err)
	}
	if !h.Active() {
		t.Error("enabled app-launch not active")
	}

	if err := h.SetMode(Mode(42)); err == nil {
		t.Error("out-of-range mode accepted")
	}
	if h.CurrentMode() != ModeAppLaunch {
		t.Error("rejected mode overwrote the flag")
	}
}

func TestFileCacheEnough(t *testing.T) {
	h := New()

	if !h.FileCacheEnough(fixedSampler{kb: 1}) {
		t.Error("any resident cache must clear a zero floor")
	}
	if h.FileCacheEnough(nil) {
		t.Error("nil sampler passed")
	}

	h.SetMinFileCacheKB(1000)
	if h.FileCacheEnough(fixedSampler{kb: 999}) {
		t.Error("cache below floor passed")
	}
	if h.FileCacheEnough(fixedSampler{kb: 1000}) {
		t.Error("cache exactly at floor passed; the floor is exclusive")
	}
	if !h.FileCacheEnough(fixedSampler{kb: 1001}) {
		t.Error("cache above floor failed")
	}
	if h.FileCacheEnough(fixedSampler{err: stderrors.New("meminfo unreadable")}) {
		t.Error("sampler error passed")
	}
}

func TestCurrentModeRequiresEnable(t *testing.T) {
	h := New()
	if err := h.SetMode(ModeAppLaunch); err != nil {
		t.Fatal(err)
	}

	if got := h.CurrentMode(); got != ModeNone {
		t.Errorf("CurrentMode with hints disabled = %v, want ModeNone", got)
	}
	if h.Active() {
		t.Error("disabled hints report active")
	}
	// The stored mode is not lost: the wire snapshot still carries it
	if got := h.Snapshot().Mode; got != "app-launch" {
		t.Errorf("Snapshot().Mode = %q, want app-launch", got)
	}

	h.SetEnabled(true)
	if got := h.CurrentMode(); got != ModeAppLaunch {
		t.Errorf("CurrentMode after enable = %v, want ModeAppLaunch", got)
	}
	if !h.Active() {
		t.Error("enabled app-launch not active")
	}
}

func TestSnapshotApply(t *testing.T) {
	h := New()
	err := h.Apply(State{Enabled: true, Mode: "camera-launch", MinFileCacheKB: 2048})
	if err != nil {
		t.Fatal(err)
	}
	got := h.Snapshot()
	if !got.Enabled || got.Mode != "camera-launch" || got.MinFileCacheKB != 2048 {
		t.Errorf("snapshot = %+v", got)
	}

	if err := h.Apply(State{Mode: "bogus"}); err == nil {
		t.Error("bogus mode applied")
	}
	if h.CurrentMode() != ModeCameraLaunch {
		t.Error("failed apply changed the mode")
	}
}

func TestConcurrentFlagAccess(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if i%2 == 0 {
					h.SetEnabled(j%2 == 0)
					_ = h.SetMode(Mode(j % 3))
				} else {
					_ = h.Active()
					_ = h.Snapshot()
				}
			}
		}()
	}
	wg.Wait()
}
