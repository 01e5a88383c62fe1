// Package consts defines cross-module constants used throughout the application.
package consts

import (
	"sync"
	"time"
)

// ServiceName is the application service name
const ServiceName = "arv"

// Project information constants
const (
	// ProjectName is the display name of the project
	ProjectName = "ARV"

	// ProjectURL is the repository URL
	ProjectURL = "https://github.com/arvlabs/arv"
)

// Review lifecycle defaults. Each is copied onto a session at creation time
// and may be overridden per session.
const (
	// DefaultMaxTurns is the deliberation turn cap
	DefaultMaxTurns = 3

	// DefaultConsensusThreshold is the weighted-vote lead required for consensus
	DefaultConsensusThreshold = 2.0

	// DefaultProximityWindow is the line distance within which two raises
	// in the same dedup group are merged
	DefaultProximityWindow = 5

	// DefaultMaxVerificationRounds caps the fix/verify loop
	DefaultMaxVerificationRounds = 2

	// DefaultReviewerDeadline is the soft deadline for one reviewer subprocess
	DefaultReviewerDeadline = 20 * time.Minute

	// DefaultConnTestTimeout is the hard timeout for a connection probe
	DefaultConnTestTimeout = 60 * time.Second

	// DefaultAssistTimeout is the hard timeout for one assist exchange
	DefaultAssistTimeout = 120 * time.Second
)

// Build information - set via ldflags during build or programmatically
var (
	// Version is the application version
	Version = "dev"

	// BuildTime is the build timestamp
	BuildTime = "unknown"

	// GitCommit is the git commit hash
	GitCommit = "unknown"
)

// Server runtime information
var (
	startedAt   time.Time
	startedOnce sync.Once
)

// SetStartedAt records the server start time (can only be called once)
func SetStartedAt(t time.Time) {
	startedOnce.Do(func() {
		startedAt = t
	})
}

// GetStartedAt returns the server start time
func GetStartedAt() time.Time {
	return startedAt
}

// GetUptime returns the duration since server started
func GetUptime() time.Duration {
	if startedAt.IsZero() {
		return 0
	}
	return time.Since(startedAt)
}
