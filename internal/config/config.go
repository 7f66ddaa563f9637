// Package config provides the configuration schema and loader for the
// Dealscribe transcript correction service.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps [time.Duration] so YAML values can use Go duration syntax
// such as "60s" or "2m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for the Dealscribe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Dealscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      ProviderEntry  `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Audit    AuditConfig    `yaml:"audit"`
}

// ServerConfig holds network and logging settings for the Dealscribe server.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health listener binds to
	// (e.g., ":8080"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry configures the external completion provider used by the
// refinement stage.
type ProviderEntry struct {
	// Name selects the provider backend (e.g., "gemini", "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Overridable with the DEALSCRIBE_LLM_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gemini-2.0-flash").
	Model string `yaml:"model"`
}

// PipelineConfig tunes the two correction passes.
type PipelineConfig struct {
	// FuzzyThreshold is the minimum similarity score (0-100) for a gazetteer
	// replacement in the deterministic pass. Zero means the default of 80.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// TerminalPeriod appends a period to segments ending in a letter or
	// digit. When nil, the behaviour is enabled.
	TerminalPeriod *bool `yaml:"terminal_period"`

	// ReviewEditsThreshold is the edit count at or above which a segment is
	// routed to human review. Zero means the default of 3.
	// Overridable with the HITL_EDITS_THRESHOLD environment variable.
	ReviewEditsThreshold int `yaml:"review_edits_threshold"`

	// Parallelism bounds concurrent refinement calls. Zero means sequential.
	Parallelism int `yaml:"parallelism"`

	// RefineTimeout bounds each refinement call. Zero means the default of 60s.
	RefineTimeout Duration `yaml:"refine_timeout"`
}

// AuditConfig holds the paths of the two append-only audit CSV files.
type AuditConfig struct {
	// ReviewCSV receives segments flagged for human review.
	// Overridable with the HITL_REVIEW_CSV environment variable.
	ReviewCSV string `yaml:"review_csv"`

	// AcceptedCSV receives auto-accepted segments.
	// Overridable with the HITL_ACCEPTED_CSV environment variable.
	AcceptedCSV string `yaml:"accepted_csv"`
}
