package utils

import (
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		allowAbsolute bool
		wantErr       bool
	}{
		{
			name:    "simple relative path",
			path:    "trace/footprints.jsonl",
			wantErr: false,
		},
		{
			name:          "absolute path allowed",
			path:          "/var/lib/pagetrace/footprints.jsonl",
			allowAbsolute: true,
			wantErr:       false,
		},
		{
			name:    "absolute path rejected",
			path:    "/etc/passwd",
			wantErr: true,
		},
		{
			name:    "directory traversal rejected",
			path:    "trace/../../etc/passwd",
			wantErr: true,
		},
		{
			name:    "empty path rejected",
			path:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, tt.allowAbsolute)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q, %v) error = %v, wantErr %v",
					tt.path, tt.allowAbsolute, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePathWithinBase(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		wantErr bool
	}{
		{
			name:    "relative path within base",
			base:    "/mnt/observed",
			path:    "app/data.bin",
			wantErr: false,
		},
		{
			name:    "absolute path within base",
			base:    "/mnt/observed",
			path:    "/mnt/observed/app/data.bin",
			wantErr: false,
		},
		{
			name:    "absolute path outside base",
			base:    "/mnt/observed",
			path:    "/etc/passwd",
			wantErr: true,
		},
		{
			name:    "traversal escape",
			base:    "/mnt/observed",
			path:    "../../../etc/passwd",
			wantErr: true,
		},
		{
			name:    "empty base",
			base:    "",
			path:    "x",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinBase(tt.base, tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinBase(%q, %q) error = %v, wantErr %v",
					tt.base, tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSecureJoin(t *testing.T) {
	t.Run("joins within base", func(t *testing.T) {
		got, err := SecureJoin("/var/lib/pagetrace", "sessions", "abc", "100.jsonl")
		if err != nil {
			t.Fatalf("SecureJoin: %v", err)
		}
		if !strings.HasPrefix(got, "/var/lib/pagetrace/") {
			t.Errorf("result = %q, not under base", got)
		}
	})

	t.Run("rejects escape", func(t *testing.T) {
		if _, err := SecureJoin("/var/lib/pagetrace", "..", "..", "etc"); err == nil {
			t.Error("expected error for traversal escape")
		}
	})

	t.Run("rejects empty base", func(t *testing.T) {
		if _, err := SecureJoin("", "x"); err == nil {
			t.Error("expected error for empty base")
		}
	})
}
