package check

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/fatih/color"

	"github.com/arvlabs/arv/internal/config"
)

// ValidationResult represents the result of a config validation
type ValidationResult struct {
	Path       string
	Valid      bool
	AgentCount int // configured reviewer clients
	Error      error
	Warnings   []string
}

// AgentCheckResult represents the result of a reviewer CLI availability check
type AgentCheckResult struct {
	ClientKind   string
	CLIPath      string
	CLIAvailable bool
	Error        error
}

// validateConfig validates the configuration file during an interactive run
func (c *Checker) validateConfig() error {
	result := c.validateConfigYaml()
	c.report.AddValidationResult(result)
	printValidationResult(result)

	if !result.Valid {
		return fmt.Errorf("%s validation failed: %w", c.configPath, result.Error)
	}
	return nil
}

// validateConfigYaml loads and validates the configuration file. A missing
// file is valid: the server falls back to built-in defaults.
func (c *Checker) validateConfigYaml() ValidationResult {
	result := ValidationResult{Path: c.configPath}

	if !fileExists(c.configPath) {
		result.Valid = true
		result.Warnings = append(result.Warnings, "file does not exist, built-in defaults apply")
		return result
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		result.Valid = false
		result.Error = fmt.Errorf("format error: %v", err)
		return result
	}

	if appErr := cfg.Validate(); appErr != nil {
		result.Valid = false
		result.Error = fmt.Errorf("invalid value: %v", appErr)
		return result
	}

	result.Valid = true
	result.AgentCount = len(cfg.Agents)
	return result
}

// validateConfigNonInteractive validates the configuration file format
func (c *Checker) validateConfigNonInteractive(result *CheckResult) {
	configResult := c.validateConfigYaml()
	if !configResult.Valid {
		result.Success = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("Invalid %s: %v", c.configPath, configResult.Error))
	}
}

// checkEnvironment verifies the runtime prerequisites during an interactive
// run: the git binary, a writable data directory, and the reviewer CLIs
func (c *Checker) checkEnvironment() error {
	cfg, err := c.effectiveConfig()
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	// git is required: diffs and file reads shell out to it
	if gitPath, err := exec.LookPath("git"); err != nil {
		red.Printf("  ✗ git not found in PATH\n")
		return fmt.Errorf("git binary not found: %w", err)
	} else {
		green.Printf("  ✓ git (%s)\n", gitPath)
	}

	if err := checkDataDirWritable(cfg.Storage.DataDir); err != nil {
		red.Printf("  ✗ data directory %s: %v\n", cfg.Storage.DataDir, err)
		return err
	}
	green.Printf("  ✓ data directory %s is writable\n", cfg.Storage.DataDir)

	// Reviewer CLIs are warnings: a missing one only blocks sessions
	// that instantiate a reviewer of that kind
	fmt.Println()
	fmt.Println("Reviewer CLI availability:")
	for _, r := range checkAgentCLIs(cfg) {
		if r.CLIAvailable {
			green.Printf("  ✓ %s (%s)\n", r.ClientKind, r.CLIPath)
		} else {
			yellow.Printf("  ⚠ %s: CLI '%s' not found in PATH\n", r.ClientKind, r.CLIPath)
		}
	}

	return nil
}

// checkEnvironmentNonInteractive runs the same environment checks without
// terminal output, accumulating into the result
func (c *Checker) checkEnvironmentNonInteractive(result *CheckResult) {
	cfg, err := c.effectiveConfig()
	if err != nil {
		// Already reported by the config validation step
		return
	}

	if _, err := exec.LookPath("git"); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, "git binary not found in PATH")
		result.Suggestions = append(result.Suggestions,
			"Install git; arv reads diffs and files through it")
	}

	if err := checkDataDirWritable(cfg.Storage.DataDir); err != nil {
		result.Success = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("Data directory %s is not writable: %v", cfg.Storage.DataDir, err))
	}

	for _, r := range checkAgentCLIs(cfg) {
		if !r.CLIAvailable {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Reviewer CLI '%s' for client kind '%s' not found in PATH", r.CLIPath, r.ClientKind))
		}
	}
}

// effectiveConfig returns the loaded configuration, or defaults when the
// config file is absent
func (c *Checker) effectiveConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load %s: %w", c.configPath, err)
	}
	return cfg, nil
}

// checkDataDirWritable ensures the data directory exists and accepts writes
func checkDataDirWritable(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	probe := filepath.Join(dataDir, ".write-check")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("cannot write: %w", err)
	}
	return os.Remove(probe)
}

// checkAgentCLIs probes each configured reviewer client's CLI binary,
// in a stable order
func checkAgentCLIs(cfg *config.Config) []AgentCheckResult {
	kinds := make([]string, 0, len(cfg.Agents))
	for kind := range cfg.Agents {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	results := make([]AgentCheckResult, 0, len(kinds))
	for _, kind := range kinds {
		detail := cfg.Agents[kind]
		cliPath := detail.CLIPath
		if cliPath == "" {
			cliPath = kind
		}
		result := AgentCheckResult{ClientKind: kind, CLIPath: cliPath}
		if resolved, err := exec.LookPath(cliPath); err == nil {
			result.CLIAvailable = true
			result.CLIPath = resolved
		}
		results = append(results, result)
	}
	return results
}

// printValidationResult prints the validation result
func printValidationResult(result ValidationResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	if result.Valid {
		if result.AgentCount > 0 {
			green.Printf("  ✓ %s (%d reviewer clients)\n", result.Path, result.AgentCount)
		} else {
			green.Printf("  ✓ %s\n", result.Path)
		}
	} else if result.Error != nil {
		red.Printf("  ✗ %s: %v\n", result.Path, result.Error)
	} else {
		yellow.Printf("  ⚠ %s\n", result.Path)
	}

	for _, warning := range result.Warnings {
		yellow.Printf("    └─ %s\n", warning)
	}
}
