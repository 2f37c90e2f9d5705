package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateSegment(t *testing.T) {
	tests := []struct {
		name      string
		segment   string
		wantError bool
	}{
		{name: "version", segment: "v2", wantError: false},
		{name: "method with dash", segment: "boxcox-lda", wantError: false},
		{name: "window file", segment: "t=300.json", wantError: false},
		{name: "empty", segment: "", wantError: true},
		{name: "parent", segment: "..", wantError: true},
		{name: "hidden", segment: ".tmp", wantError: true},
		{name: "separator", segment: "a/b", wantError: true},
		{name: "space", segment: "a b", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSegment(tt.segment)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateSegment(%q) error = %v, wantError %v", tt.segment, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	if err := os.MkdirAll(safeDir, 0755); err != nil {
		t.Fatalf("Failed to create safe directory: %v", err)
	}
	if err := os.MkdirAll(unsafeDir, 0755); err != nil {
		t.Fatalf("Failed to create unsafe directory: %v", err)
	}
	symlinkPath := filepath.Join(safeDir, "evil-symlink")
	if err := os.Symlink(unsafeDir, symlinkPath); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{name: "file in dir", filePath: filepath.Join(safeDir, "model.json"), wantError: false},
		{name: "nested new file", filePath: filepath.Join(safeDir, "v1", "model", "lda", "t=30.json"), wantError: false},
		{name: "dot dot escape", filePath: filepath.Join(safeDir, "..", "unsafe", "x.json"), wantError: true},
		{name: "symlink escape", filePath: filepath.Join(symlinkPath, "x.json"), wantError: true},
		{name: "absolute elsewhere", filePath: "/etc/passwd", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
		})
	}
}
