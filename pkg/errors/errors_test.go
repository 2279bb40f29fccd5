package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		retryableErr := NewError(ErrCodeConnectionFailed, "connection failed")
		if !retryableErr.Retryable {
			t.Error("ConnectionFailed should be retryable by default")
		}

		nonRetryableErr := NewError(ErrCodeResolutionFailed, "resolution failed")
		if nonRetryableErr.Retryable {
			t.Error("ResolutionFailed should not be retryable by default")
		}

		contractErr := NewError(ErrCodeContractViolation, "target list mismatch")
		if contractErr.Retryable {
			t.Error("ContractViolation must never be retryable")
		}
	})

	t.Run("sets correct fatal defaults", func(t *testing.T) {
		contractErr := NewError(ErrCodeContractViolation, "target list mismatch")
		if !contractErr.Fatal {
			t.Error("ContractViolation should be fatal by default")
		}

		oomErr := NewError(ErrCodeOutOfMemory, "budget exceeded")
		if oomErr.Fatal {
			t.Error("OutOfMemory should not be fatal; setup rolls back")
		}
	})

	t.Run("sets correct HTTP status defaults", func(t *testing.T) {
		tests := []struct {
			code       ErrorCode
			wantStatus int
		}{
			{ErrCodeInvalidConfig, 400},
			{ErrCodeInvalidArgument, 400},
			{ErrCodeFileNotFound, 404},
			{ErrCodeInvalidState, 409},
			{ErrCodeAlreadyStarted, 409},
			{ErrCodeContractViolation, 500},
			{ErrCodeOutOfMemory, 507},
			{ErrCodeOperationTimeout, 504},
			{ErrCodeUploadFailed, 502},
		}
		for _, tt := range tests {
			err := NewError(tt.code, "test")
			if err.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus for %s = %d, want %d", tt.code, err.HTTPStatus, tt.wantStatus)
			}
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeOutOfMemory, CategoryRecording},
		{ErrCodeContractViolation, CategoryRecording},
		{ErrCodeResolutionFailed, CategoryRecording},
		{ErrCodePathTooLong, CategoryRecording},
		{ErrCodeInvalidState, CategoryState},
		{ErrCodeMountFailed, CategoryHook},
		{ErrCodeUploadFailed, CategoryExport},
		{ErrCodeInternalError, CategoryInternal},
		{ErrorCode("SOMETHING_NEW"), CategoryInternal},
	}
	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestErrorInterface(t *testing.T) {
	t.Parallel()

	t.Run("Error formats with component and operation", func(t *testing.T) {
		err := NewError(ErrCodeResolutionFailed, "fd gone").
			WithComponent("recorder").
			WithOperation("collect")
		want := "[recorder:collect] RESOLUTION_FAILED: fd gone"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("Unwrap returns cause", func(t *testing.T) {
		cause := fmt.Errorf("readlink: no such file")
		err := NewError(ErrCodeFileNotFound, "resolve failed").WithCause(cause)
		if !errors.Is(err, cause) {
			t.Error("errors.Is should find the wrapped cause")
		}
	})

	t.Run("Is matches by code", func(t *testing.T) {
		a := NewError(ErrCodeContractViolation, "pid 5 not found")
		b := NewError(ErrCodeContractViolation, "different message")
		if !errors.Is(a, b) {
			t.Error("errors with the same code should match")
		}
		c := NewError(ErrCodeOutOfMemory, "budget")
		if errors.Is(a, c) {
			t.Error("errors with different codes should not match")
		}
	})
}

func TestErrorBuilders(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeResolutionFailed, "resolve failed").
		WithContext("pid", "1234").
		WithDetail("record", 7).
		WithComponent("recorder").
		WithOperation("collect").
		WithStack()

	if err.Context["pid"] != "1234" {
		t.Error("WithContext did not record the pid")
	}
	if err.Details["record"] != 7 {
		t.Error("WithDetail did not record the index")
	}
	if err.Stack == "" {
		t.Error("WithStack did not capture a stack")
	}
	if strings.Contains(err.Stack, "errors.go") {
		t.Error("stack should not include frames from errors.go")
	}
}

func TestJSON(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeUploadFailed, "put object failed").
		WithComponent("export").
		WithDetail("bucket", "footprints")

	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jerr)
	}
	if decoded["code"] != "UPLOAD_FAILED" {
		t.Errorf("JSON code = %v, want UPLOAD_FAILED", decoded["code"])
	}
	if decoded["component"] != "export" {
		t.Errorf("JSON component = %v, want export", decoded["component"])
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeContractViolation, "pid mismatch").WithComponent("recorder")
	s := err.String()
	for _, want := range []string{"Code=CONTRACT_VIOLATION", "Category=recording", "Component=recorder", "Fatal=true"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
