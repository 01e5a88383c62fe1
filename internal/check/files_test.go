package check

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arvlabs/arv/internal/configfiles"
)

// TestCreateConfigFile tests template creation for a missing config
func TestCreateConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	checker := NewChecker(path)

	if err := checker.createConfigFile(); err != nil {
		t.Fatalf("createConfigFile failed: %v", err)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read created file: %v", err)
	}
	template, err := configfiles.GetConfigExample()
	if err != nil {
		t.Fatalf("Failed to read template: %v", err)
	}
	if string(written) != string(template) {
		t.Error("Created file should match the embedded template")
	}
}

// TestCreateConfigFileExisting verifies an existing file is left untouched
func TestCreateConfigFileExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	checker := NewChecker(path)
	if err := checker.createConfigFile(); err != nil {
		t.Fatalf("createConfigFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if !strings.Contains(string(content), "9999") {
		t.Error("Existing config should not be overwritten")
	}
}

// TestFileCheckResultFields tests the FileCheckResult struct
func TestFileCheckResultFields(t *testing.T) {
	result := FileCheckResult{
		Path:        "config.yaml",
		Exists:      false,
		Created:     true,
		Description: "Server configuration file",
	}

	if result.Path != "config.yaml" {
		t.Errorf("Path = %s, want config.yaml", result.Path)
	}
	if !result.Created {
		t.Error("Created should be true")
	}
}
