package health

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pagetrace/pagetrace/pkg/errors"
)

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	tracker.RegisterComponent(ComponentRecorder)

	state := tracker.GetState(ComponentRecorder)
	if state != StateHealthy {
		t.Errorf("Expected initial state to be StateHealthy, got %s", state)
	}
}

func TestTracker_UnregisteredComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	if state := tracker.GetState("nope"); state != StateUnavailable {
		t.Errorf("Expected StateUnavailable for unknown component, got %s", state)
	}
	if _, err := tracker.GetComponentHealth("nope"); err == nil {
		t.Error("Expected error for unknown component")
	}
}

func TestTracker_RecordSuccess(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentExporter)

	// Record a few errors first
	tracker.RecordError(ComponentExporter, fmt.Errorf("test error"))
	tracker.RecordError(ComponentExporter, fmt.Errorf("test error"))

	// Record successes to recover
	tracker.RecordSuccess(ComponentExporter)
	tracker.RecordSuccess(ComponentExporter)

	health, err := tracker.GetComponentHealth(ComponentExporter)
	if err != nil {
		t.Fatalf("Failed to get component health: %v", err)
	}

	if health.ConsecutiveErrors != 0 {
		t.Errorf("Expected ConsecutiveErrors=0 after successes, got %d", health.ConsecutiveErrors)
	}
}

func TestTracker_RecordError_Degradation(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 3
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentRecorder)

	// Record errors below threshold
	for i := 0; i < 2; i++ {
		tracker.RecordError(ComponentRecorder, fmt.Errorf("error %d", i))
	}

	state := tracker.GetState(ComponentRecorder)
	if state != StateHealthy {
		t.Errorf("Expected StateHealthy before threshold, got %s", state)
	}

	// Cross the threshold
	tracker.RecordError(ComponentRecorder, fmt.Errorf("error 3"))

	state = tracker.GetState(ComponentRecorder)
	if state != StateDegraded {
		t.Errorf("Expected StateDegraded after threshold, got %s", state)
	}
}

func TestTracker_SlowPathErrorsGoCaptureOnly(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 2
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentExporter)

	uploadErr := errors.NewError(errors.ErrCodeUploadFailed, "put rejected")
	tracker.RecordError(ComponentExporter, uploadErr)
	tracker.RecordError(ComponentExporter, uploadErr)

	state := tracker.GetState(ComponentExporter)
	if state != StateCaptureOnly {
		t.Errorf("Expected StateCaptureOnly for export failures, got %s", state)
	}

	if !tracker.CanCapture(ComponentExporter) {
		t.Error("capture-only component should still allow capture")
	}
	if tracker.CanCollect(ComponentExporter) {
		t.Error("capture-only component should not allow collect")
	}
}

func TestTracker_Unavailable(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 2
	config.UnavailableThreshold = 4
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentHook)

	for i := 0; i < 4; i++ {
		tracker.RecordError(ComponentHook, fmt.Errorf("mount lost"))
	}

	state := tracker.GetState(ComponentHook)
	if state != StateUnavailable {
		t.Errorf("Expected StateUnavailable, got %s", state)
	}
	if tracker.CanCapture(ComponentHook) {
		t.Error("unavailable component should not allow capture")
	}
}

func TestTracker_RecoveryToHealthy(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 2
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentRecorder)

	tracker.RecordError(ComponentRecorder, fmt.Errorf("a"))
	tracker.RecordError(ComponentRecorder, fmt.Errorf("b"))

	if state := tracker.GetState(ComponentRecorder); state != StateDegraded {
		t.Fatalf("Expected StateDegraded, got %s", state)
	}

	// One success per outstanding error
	tracker.RecordSuccess(ComponentRecorder)
	tracker.RecordSuccess(ComponentRecorder)

	if state := tracker.GetState(ComponentRecorder); state != StateHealthy {
		t.Errorf("Expected StateHealthy after recovery, got %s", state)
	}

	health, err := tracker.GetComponentHealth(ComponentRecorder)
	if err != nil {
		t.Fatal(err)
	}
	if health.LastError != nil || health.LastErrorMessage != "" {
		t.Error("Expected error details cleared on recovery")
	}
}

func TestTracker_OverallHealth(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 1
	tracker := NewTracker(config)

	if tracker.GetOverallHealth() != StateHealthy {
		t.Error("Expected empty tracker to report healthy")
	}

	tracker.RegisterComponent(ComponentRecorder)
	tracker.RegisterComponent(ComponentExporter)

	if tracker.GetOverallHealth() != StateHealthy {
		t.Error("Expected overall healthy with fresh components")
	}

	tracker.RecordError(ComponentExporter, errors.NewError(errors.ErrCodeConnectionFailed, "endpoint down"))

	// Worst component wins
	if got := tracker.GetOverallHealth(); got != StateCaptureOnly {
		t.Errorf("Expected overall capture-only, got %s", got)
	}
}

func TestTracker_StateChangeCallback(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 1
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentHook)

	var mu sync.Mutex
	var transitions []HealthState
	done := make(chan struct{}, 1)
	tracker.AddStateChangeCallback(StateDegraded, func(component string, oldState, newState HealthState, err error) {
		mu.Lock()
		transitions = append(transitions, newState)
		mu.Unlock()
		done <- struct{}{}
	})

	tracker.RecordError(ComponentHook, fmt.Errorf("boom"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for state change callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != StateDegraded {
		t.Errorf("Expected one transition to StateDegraded, got %v", transitions)
	}
}

func TestTracker_Metadata(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentHook)

	tracker.SetComponentMetadata(ComponentHook, "mountpoint", "/mnt/trace")

	health, err := tracker.GetComponentHealth(ComponentHook)
	if err != nil {
		t.Fatal(err)
	}
	if health.Metadata["mountpoint"] != "/mnt/trace" {
		t.Errorf("Expected metadata to round-trip, got %v", health.Metadata)
	}
}

func TestTracker_PeriodicHealthChecks(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 1
	config.HealthCheckInterval = 10 * time.Millisecond
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentMeminfo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks int32
	var mu sync.Mutex
	go tracker.StartHealthChecks(ctx, func(component string) error {
		mu.Lock()
		checks++
		n := checks
		mu.Unlock()
		if n == 1 {
			return fmt.Errorf("first check fails")
		}
		return nil
	})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := checks
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for health checks to run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	// Later successes cleared the single failure
	if state := tracker.GetState(ComponentMeminfo); state != StateHealthy {
		t.Errorf("Expected StateHealthy after recovery checks, got %s", state)
	}
}
