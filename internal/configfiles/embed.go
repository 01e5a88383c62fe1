// Package configfiles provides the embedded configuration template used to
// initialize a fresh installation.
package configfiles

import (
	"embed"
	"os"
)

//go:embed config.example.yaml
var configFS embed.FS

// GetConfigExample returns the example server configuration file content.
func GetConfigExample() ([]byte, error) {
	return configFS.ReadFile("config.example.yaml")
}

// WriteConfigExample writes the example configuration to the given path.
// An existing file is never overwritten.
func WriteConfigExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return os.ErrExist
	}
	content, err := GetConfigExample()
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, 0644)
}
