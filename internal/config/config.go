// Package config provides configuration management for the application.
// It supports YAML configuration files with environment variable overrides.
package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arvlabs/arv/consts"
	"github.com/arvlabs/arv/pkg/logger"
	"github.com/arvlabs/arv/pkg/telemetry"
)

// Default configuration values
const (
	defaultHost              = "127.0.0.1"
	defaultPort              = 8420
	defaultDataDir           = "./data"
	defaultAgentTimeout      = 1200 // seconds
	defaultRetentionDays     = 30
	defaultOTLPEndpoint      = "localhost:4317"
	defaultPrometheusPort    = 9090
	defaultActivityBuffer    = 50
	defaultAssistTimeoutSecs = 120
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Storage   StorageConfig          `yaml:"storage"`
	Review    ReviewConfig           `yaml:"review"`
	Agents    map[string]AgentDetail `yaml:"agents"`
	Assist    AssistConfig           `yaml:"assist"`
	Janitor   JanitorConfig          `yaml:"janitor"`
	Logging   logger.Config          `yaml:"logging"`
	Telemetry telemetry.Config       `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Debug       bool     `yaml:"debug"`
	CORSOrigins []string `yaml:"cors_origins"` // Allowed CORS origins whitelist
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	// DataDir is the directory holding the SQLite database and session logs
	DataDir string `yaml:"data_dir"`
}

// ReviewConfig holds session lifecycle configuration
type ReviewConfig struct {
	MaxTurns              int     `yaml:"max_turns"`               // Deliberation turn cap per issue
	ConsensusThreshold    float64 `yaml:"consensus_threshold"`     // Weighted agreement required for a decision
	ProximityWindow       int     `yaml:"proximity_window"`        // Line distance treated as the same location in dedup
	MaxVerificationRounds int     `yaml:"max_verification_rounds"` // Fix/verify cycles before forced completion
	AgentResponseGate     bool    `yaml:"agent_response_gate"`     // Pause for a human decision before fixing
}

// AgentDetail holds per-client reviewer configuration
type AgentDetail struct {
	CLIPath    string `yaml:"cli_path" json:"cli_path"`
	Model      string `yaml:"model" json:"model"`           // default model passed to the CLI
	Timeout    int    `yaml:"timeout" json:"timeout"`       // run deadline in seconds
	Strictness string `yaml:"strictness" json:"strictness"` // strict, balanced or lenient
}

// AssistConfig holds structured-extraction helper configuration
type AssistConfig struct {
	ClientKind string `yaml:"client_kind"` // which reviewer CLI performs extraction
	Timeout    int    `yaml:"timeout"`     // seconds
}

// JanitorConfig holds background maintenance configuration
type JanitorConfig struct {
	RetentionDays  int    `yaml:"retention_days"`  // Finished session retention
	ActivityBuffer int    `yaml:"activity_buffer"` // Per-agent in-memory activity event cap
	Schedule       string `yaml:"schedule"`        // Cron expression for the cleanup pass
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:  defaultHost,
			Port:  defaultPort,
			Debug: false,
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://localhost:8420",
			},
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir,
		},
		Review: ReviewConfig{
			MaxTurns:              consts.DefaultMaxTurns,
			ConsensusThreshold:    consts.DefaultConsensusThreshold,
			ProximityWindow:       consts.DefaultProximityWindow,
			MaxVerificationRounds: consts.DefaultMaxVerificationRounds,
			AgentResponseGate:     false,
		},
		Agents: map[string]AgentDetail{
			"claude": {
				CLIPath:    "claude",
				Timeout:    defaultAgentTimeout,
				Strictness: "balanced",
			},
			"codex": {
				CLIPath:    "codex",
				Timeout:    defaultAgentTimeout,
				Strictness: "balanced",
			},
			"gemini": {
				CLIPath:    "gemini",
				Timeout:    defaultAgentTimeout,
				Strictness: "balanced",
			},
			"opencode": {
				CLIPath:    "opencode",
				Timeout:    defaultAgentTimeout,
				Strictness: "balanced",
			},
		},
		Assist: AssistConfig{
			ClientKind: "claude",
			Timeout:    defaultAssistTimeoutSecs,
		},
		Janitor: JanitorConfig{
			RetentionDays:  defaultRetentionDays,
			ActivityBuffer: defaultActivityBuffer,
			Schedule:       "0 */6 * * *",
		},
		Logging: logger.Config{
			Level:      "info",
			Format:     "text", // Default to human-readable text format instead of JSON
			File:       "",
			MaxSize:    100, // Max 100MB per log file
			MaxAge:     7,   // Retain logs for 7 days
			MaxBackups: 5,   // Keep 5 backup files
			Compress:   false,
		},
		Telemetry: telemetry.Config{
			Enabled:     false,
			ServiceName: consts.ServiceName,
			OTLP: telemetry.OTLPConfig{
				Enabled:  false,
				Endpoint: defaultOTLPEndpoint,
				Insecure: true,
			},
			Prometheus: telemetry.PrometheusConfig{
				Enabled: false,
				Port:    defaultPrometheusPort,
			},
		},
	}
}

// Load loads configuration from a YAML file with environment variable expansion.
// A missing file is not an error; defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	// Expand environment variables in the configuration
	expanded := expandEnvVars(string(data))

	// Parse YAML
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies ARV_* environment variable overrides.
// These take precedence over both defaults and file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARV_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ARV_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ARV_DEBUG"); v != "" {
		cfg.Server.Debug = parseBool(v)
	}
	if v := os.Getenv("ARV_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ARV_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ARV_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ARV_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("ARV_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("ARV_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLP.Endpoint = v
	}
	if v := os.Getenv("ARV_PROMETHEUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Telemetry.Prometheus.Port = port
		}
	}
}

// parseBool parses a boolean string value
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
// Only matches ${VAR_NAME} format (not $VAR_NAME) so literal dollar signs in
// values survive expansion.
func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := match[2 : len(match)-1]

		// Support default values: ${VAR_NAME:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]

		if value := os.Getenv(varName); value != "" {
			return value
		}

		// Return default value if provided
		if len(parts) > 1 {
			return parts[1]
		}

		return ""
	})
}

// Write serializes the configuration to a YAML file with a header comment.
// Used by the setup wizard to persist its answers.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(configHeader+string(data)), 0644)
}

// configHeader is the comment header written above generated config files
const configHeader = `# ARV Configuration
#
# Values support ${VAR_NAME} and ${VAR_NAME:-default} environment expansion.
# ARV_* environment variables override file values:
#   ARV_HOST, ARV_PORT, ARV_DEBUG, ARV_DATA_DIR
#   ARV_LOG_LEVEL, ARV_LOG_FORMAT, ARV_LOG_FILE
#   ARV_TELEMETRY_ENABLED, ARV_OTLP_ENDPOINT, ARV_PROMETHEUS_PORT
#

`

// Address returns the server address string
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// GetAgent returns reviewer configuration by client kind
func (c *Config) GetAgent(kind string) *AgentDetail {
	if detail, ok := c.Agents[kind]; ok {
		return &detail
	}
	return nil
}

// RunDeadline returns the configured run deadline for an agent detail,
// falling back to the global default when unset.
func (d *AgentDetail) RunDeadline() time.Duration {
	if d == nil || d.Timeout <= 0 {
		return consts.DefaultReviewerDeadline
	}
	return time.Duration(d.Timeout) * time.Second
}
