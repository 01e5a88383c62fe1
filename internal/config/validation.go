// Package config provides configuration management for the application.
// This file contains validation functions for configuration values.
package config

import (
	"fmt"
	"strings"

	"github.com/arvlabs/arv/pkg/errors"
)

// Known reviewer client kinds. "mock" is accepted for testing.
var validClientKinds = map[string]bool{
	"claude":   true,
	"codex":    true,
	"gemini":   true,
	"opencode": true,
	"mock":     true,
}

// Known strictness levels and their consensus vote weights
var validStrictness = map[string]bool{
	"strict":   true,
	"balanced": true,
	"lenient":  true,
}

// ValidClientKind reports whether kind names a supported reviewer CLI
func ValidClientKind(kind string) bool {
	return validClientKinds[kind]
}

// ValidStrictness reports whether s names a supported strictness level
func ValidStrictness(s string) bool {
	return validStrictness[s]
}

// Validate checks the configuration for values the server cannot start with
func (c *Config) Validate() *errors.AppError {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "storage.data_dir cannot be empty")
	}

	if c.Review.MaxTurns < 1 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("review.max_turns must be at least 1, got %d", c.Review.MaxTurns))
	}
	if c.Review.ConsensusThreshold <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("review.consensus_threshold must be positive, got %g", c.Review.ConsensusThreshold))
	}
	if c.Review.ProximityWindow < 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("review.proximity_window cannot be negative, got %d", c.Review.ProximityWindow))
	}
	if c.Review.MaxVerificationRounds < 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("review.max_verification_rounds cannot be negative, got %d", c.Review.MaxVerificationRounds))
	}

	for kind, detail := range c.Agents {
		if !ValidClientKind(kind) {
			return errors.New(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("agents.%s: unknown client kind", kind))
		}
		if detail.Strictness != "" && !ValidStrictness(detail.Strictness) {
			return errors.New(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("agents.%s.strictness must be strict, balanced or lenient, got %q", kind, detail.Strictness))
		}
		if detail.Timeout < 0 {
			return errors.New(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("agents.%s.timeout cannot be negative, got %d", kind, detail.Timeout))
		}
	}

	if c.Assist.ClientKind != "" && !ValidClientKind(c.Assist.ClientKind) {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("assist.client_kind: unknown client kind %q", c.Assist.ClientKind))
	}

	if c.Janitor.RetentionDays < 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("janitor.retention_days cannot be negative, got %d", c.Janitor.RetentionDays))
	}

	return nil
}
