// Package check provides interactive environment checking and initialization.
// It helps users set up their local arv configuration properly.
package check

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

// DefaultConfigPath is where the server looks for its configuration when
// no --config flag is given.
const DefaultConfigPath = "config.yaml"

// CheckResult represents the result of a non-interactive environment check
type CheckResult struct {
	// Success indicates whether all required checks passed
	Success bool
	// Errors contains critical errors that prevent server startup
	Errors []string
	// Warnings contains non-critical issues that don't block startup
	Warnings []string
	// Suggestions contains helpful tips for fixing issues
	Suggestions []string
}

// Checker handles environment checking and initialization
type Checker struct {
	// configPath is the configuration file being checked
	configPath string
	// report collects check results for final output
	report *Report
	// theme for consistent styling
	theme *huh.Theme
}

// NewChecker creates a new environment checker for the given config file
func NewChecker(configPath string) *Checker {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	return &Checker{
		configPath: configPath,
		report:     NewReport(),
		theme:      huh.ThemeCharm(),
	}
}

// ConfigPath returns the path of the configuration file being checked
func (c *Checker) ConfigPath() string {
	return c.configPath
}

// Run executes the full interactive environment check
func (c *Checker) Run() error {
	c.printHeader()

	// Step 1: Check and create the configuration file
	fmt.Println()
	printSection("Checking configuration file")
	if err := c.checkConfigFile(); err != nil {
		return fmt.Errorf("file check failed: %w", err)
	}

	// Step 2: Validate the configuration format and values
	fmt.Println()
	printSection("Validating configuration")
	if err := c.validateConfig(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Step 3: Check the runtime environment (git, data dir, reviewer CLIs)
	fmt.Println()
	printSection("Checking environment")
	if err := c.checkEnvironment(); err != nil {
		return fmt.Errorf("environment check failed: %w", err)
	}

	// Step 4: Print final report
	fmt.Println()
	c.report.Print()

	return nil
}

// printHeader prints the welcome header
func (c *Checker) printHeader() {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		MarginBottom(1)

	fmt.Println(titleStyle.Render("🔍 arv Environment Check"))
}

// printSection prints a section header
func printSection(title string) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15"))
	fmt.Println(style.Render(title + "..."))
}

// confirmCreate asks user to confirm file creation
func confirmCreate(path string) (bool, error) {
	var confirm bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Create %s from template?", path)).
		Affirmative("Yes").
		Negative("No").
		Value(&confirm).
		Run()
	if err != nil {
		return false, err
	}
	return confirm, nil
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ensureDir creates the parent directory of path if it doesn't exist
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// RunNonInteractive performs a non-interactive environment check.
// Unlike Run(), this method does not prompt for user input and does not
// create files. A missing configuration file is a warning, not an error,
// since the server falls back to built-in defaults.
func (c *Checker) RunNonInteractive() *CheckResult {
	result := &CheckResult{
		Success:     true,
		Errors:      make([]string, 0),
		Warnings:    make([]string, 0),
		Suggestions: make([]string, 0),
	}

	// Step 1: Config file presence
	if !fileExists(c.configPath) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Configuration file not found: %s (using built-in defaults)", c.configPath))
		result.Suggestions = append(result.Suggestions,
			"Run 'arv serve --check' to interactively create the configuration file",
		)
	}

	// Step 2: Configuration format and values
	c.validateConfigNonInteractive(result)

	// Step 3: Environment (git binary, data dir, reviewer CLIs)
	c.checkEnvironmentNonInteractive(result)

	return result
}

// PrintCheckResult prints the check result in a formatted way
func PrintCheckResult(result *CheckResult) {
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	if len(result.Errors) > 0 {
		fmt.Println()
		red.Println("[ERROR] Environment check failed")
		fmt.Println()
		for _, err := range result.Errors {
			red.Printf("  ✗ %s\n", err)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Println()
		yellow.Println("[WARNING] Configuration warnings:")
		fmt.Println()
		for _, warn := range result.Warnings {
			yellow.Printf("  ⚠ %s\n", warn)
		}
	}

	if len(result.Suggestions) > 0 {
		cyan.Println("\nTo fix these issues:")
		for _, suggestion := range result.Suggestions {
			fmt.Printf("  → %s\n", suggestion)
		}
	}

	fmt.Println()
}
