package check

import (
	"os"
	"path/filepath"
	"testing"
)

// TestNewChecker tests the NewChecker function
func TestNewChecker(t *testing.T) {
	checker := NewChecker("custom.yaml")
	if checker == nil {
		t.Fatal("NewChecker returned nil")
	}
	if checker.configPath != "custom.yaml" {
		t.Errorf("Expected configPath 'custom.yaml', got '%s'", checker.configPath)
	}
	if checker.report == nil {
		t.Error("Report should be initialized")
	}
}

// TestNewCheckerDefaultPath tests the empty-path fallback
func TestNewCheckerDefaultPath(t *testing.T) {
	checker := NewChecker("")
	if checker.ConfigPath() != DefaultConfigPath {
		t.Errorf("Expected configPath '%s', got '%s'", DefaultConfigPath, checker.ConfigPath())
	}
}

// TestFileExists tests the fileExists function
func TestFileExists(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "test_exists.txt")
	if err := os.WriteFile(tmpFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if !fileExists(tmpFile) {
		t.Error("fileExists should return true for existing file")
	}

	if fileExists("/non/existent/file.txt") {
		t.Error("fileExists should return false for non-existing file")
	}
}

// TestEnsureDir tests the ensureDir function
func TestEnsureDir(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "subdir")

	testFile := filepath.Join(tmpDir, "test.txt")
	if err := ensureDir(testFile); err != nil {
		t.Errorf("ensureDir failed: %v", err)
	}

	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error("Directory should have been created")
	}
}

// TestRunNonInteractiveMissingConfig verifies a missing config file is a
// warning rather than a blocking error
func TestRunNonInteractiveMissingConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	checker := NewChecker(filepath.Join(dir, "config.yaml"))
	result := checker.RunNonInteractive()

	if len(result.Warnings) == 0 {
		t.Error("Expected a warning about the missing config file")
	}
	if len(result.Suggestions) == 0 {
		t.Error("Expected a suggestion to run the interactive check")
	}
}

// TestRunNonInteractiveValidConfig runs the full non-interactive check
// against a minimal valid configuration
func TestRunNonInteractiveValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := "server:\n  host: 127.0.0.1\n  port: 8420\nstorage:\n  data_dir: " + filepath.Join(dir, "data") + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	checker := NewChecker(configPath)
	result := checker.RunNonInteractive()

	if !result.Success {
		t.Errorf("Expected success, got errors: %v", result.Errors)
	}
}

// TestRunNonInteractiveBrokenConfig verifies a malformed config fails the check
func TestRunNonInteractiveBrokenConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server: [not a mapping"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	checker := NewChecker(configPath)
	result := checker.RunNonInteractive()

	if result.Success {
		t.Error("Expected failure for malformed config")
	}
	if len(result.Errors) == 0 {
		t.Error("Expected at least one error")
	}
}
