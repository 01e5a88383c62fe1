package check

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/arvlabs/arv/internal/configfiles"
)

// FileCheckResult represents the result of a file check
type FileCheckResult struct {
	Path        string
	Exists      bool
	Created     bool
	Description string
	Error       error
}

// checkConfigFile checks the configuration file and prompts for creation
// from the embedded template when it is missing
func (c *Checker) checkConfigFile() error {
	result := c.checkFile()
	c.report.AddFileResult(result)
	return result.Error
}

func (c *Checker) checkFile() FileCheckResult {
	result := FileCheckResult{
		Path:        c.configPath,
		Description: "Server configuration file",
	}

	if fileExists(c.configPath) {
		result.Exists = true
		printFileStatus(c.configPath, true, false)
		return result
	}

	result.Exists = false
	printFileStatus(c.configPath, false, false)

	confirm, err := confirmCreate(c.configPath)
	if err != nil {
		result.Error = fmt.Errorf("failed to get user confirmation: %w", err)
		return result
	}

	if !confirm {
		// User declined; the server runs on built-in defaults
		return result
	}

	if err := c.createConfigFile(); err != nil {
		result.Error = err
		return result
	}

	result.Created = true
	printFileCreated(c.configPath)

	return result
}

// createConfigFile writes the embedded configuration template to the
// checker's config path
func (c *Checker) createConfigFile() error {
	if err := ensureDir(c.configPath); err != nil {
		return err
	}
	if err := configfiles.WriteConfigExample(c.configPath); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("failed to create file %s: %w", c.configPath, err)
	}
	return nil
}

// printFileStatus prints the status of a file check
func printFileStatus(path string, exists bool, created bool) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if exists {
		green.Printf("  ✓ %s\n", path)
	} else if created {
		green.Printf("  ✓ %s (created)\n", path)
	} else {
		yellow.Printf("  ⚠ %s does not exist\n", path)
	}
}

// printFileCreated prints a message when a file is created
func printFileCreated(path string) {
	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created %s\n", path)
}
