// Package hint holds the launch-hint flags that gate when tracing is worth
// running. A supervising agent flips these around app or camera launches;
// the daemon consults them before arming the recorder.
//
// The flags sit on hot paths of their writers, so they are plain atomics
// behind a typed facade rather than a mutex-guarded struct.
package hint

import (
	"fmt"
	"sync/atomic"

	"github.com/pagetrace/pagetrace/pkg/errors"
)

// Mode selects which launch pattern the current trace window belongs to.
type Mode int32

const (
	ModeNone Mode = iota
	ModeAppLaunch
	ModeCameraLaunch
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeAppLaunch:
		return "app-launch"
	case ModeCameraLaunch:
		return "camera-launch"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// ParseMode converts the wire form back to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none":
		return ModeNone, nil
	case "app-launch":
		return ModeAppLaunch, nil
	case "camera-launch":
		return ModeCameraLaunch, nil
	default:
		return ModeNone, errors.NewError(errors.ErrCodeInvalidArgument,
			fmt.Sprintf("unknown hint mode %q", s)).
			WithComponent("hint")
	}
}

// FileCacheSampler reports resident file cache in kB. Satisfied by the
// meminfo monitor.
type FileCacheSampler interface {
	FileCacheKB() (uint64, error)
}

// Hints is the flag set. The zero value is disabled, mode none, no cache
// floor.
type Hints struct {
	enabled        atomic.Bool
	mode           atomic.Int32
	minFileCacheKB atomic.Uint64
}

func New() *Hints {
	return &Hints{}
}

// SetEnabled flips the master switch.
func (h *Hints) SetEnabled(on bool) { h.enabled.Store(on) }

// Enabled reports the master switch.
func (h *Hints) Enabled() bool { return h.enabled.Load() }

// SetMode publishes the launch pattern for the next trace window.
func (h *Hints) SetMode(m Mode) error {
	switch m {
	case ModeNone, ModeAppLaunch, ModeCameraLaunch:
		h.mode.Store(int32(m))
		return nil
	default:
		return errors.NewError(errors.ErrCodeInvalidArgument,
			fmt.Sprintf("hint mode out of range: %d", m)).
			WithComponent("hint")
	}
}

// CurrentMode returns the effective launch pattern. While the master switch
// is off the effective mode is none, whatever was last published; the stored
// mode survives a disable/enable cycle and Snapshot still reports it raw.
func (h *Hints) CurrentMode() Mode {
	if !h.enabled.Load() {
		return ModeNone
	}
	return Mode(h.mode.Load())
}

// SetMinFileCacheKB sets the file-cache floor below which tracing is not
// worth the page-ins it would trigger.
func (h *Hints) SetMinFileCacheKB(kb uint64) { h.minFileCacheKB.Store(kb) }

// MinFileCacheKB returns the configured floor.
func (h *Hints) MinFileCacheKB() uint64 { return h.minFileCacheKB.Load() }

// Active reports whether the hints currently ask for tracing at all.
func (h *Hints) Active() bool {
	return h.CurrentMode() != ModeNone
}

// FileCacheEnough samples the file cache and requires it strictly above the
// floor. Sampler errors count as "not enough": when the system cannot even
// be observed, skipping the trace window is the safe answer.
func (h *Hints) FileCacheEnough(sampler FileCacheSampler) bool {
	if sampler == nil {
		return false
	}
	kb, err := sampler.FileCacheKB()
	if err != nil {
		return false
	}
	return kb > h.MinFileCacheKB()
}

// State is the wire snapshot of the flag set.
type State struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Mode           string `json:"mode" yaml:"mode"`
	MinFileCacheKB uint64 `json:"min_file_cache_kb" yaml:"min_file_cache_kb"`
}

// Snapshot reads all flags. It reports the stored mode even while disabled,
// so a PUT/GET round trip over the API preserves what the agent published.
// The reads are individually atomic, not mutually consistent; callers only
// ever show the result to humans.
func (h *Hints) Snapshot() State {
	return State{
		Enabled:        h.Enabled(),
		Mode:           Mode(h.mode.Load()).String(),
		MinFileCacheKB: h.MinFileCacheKB(),
	}
}

// Apply sets all flags from a wire snapshot.
func (h *Hints) Apply(s State) error {
	mode, err := ParseMode(s.Mode)
	if err != nil {
		return err
	}
	h.SetEnabled(s.Enabled)
	h.SetMinFileCacheKB(s.MinFileCacheKB)
	return h.SetMode(mode)
}
