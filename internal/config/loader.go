package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known completion provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deploy environments inject secrets and operator
// knobs without touching the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEALSCRIBE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("HITL_REVIEW_CSV"); v != "" {
		cfg.Audit.ReviewCSV = v
	}
	if v := os.Getenv("HITL_ACCEPTED_CSV"); v != "" {
		cfg.Audit.AcceptedCSV = v
	}
	if v := os.Getenv("HITL_EDITS_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring non-numeric HITL_EDITS_THRESHOLD", "value", v)
		} else {
			cfg.Pipeline.ReviewEditsThreshold = n
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.LLM.Name == "" {
		errs = append(errs, errors.New("llm.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.LLM.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"name", cfg.LLM.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}

	if cfg.Pipeline.FuzzyThreshold < 0 || cfg.Pipeline.FuzzyThreshold > 100 {
		errs = append(errs, fmt.Errorf("pipeline.fuzzy_threshold %.1f is out of range [0, 100]", cfg.Pipeline.FuzzyThreshold))
	}
	if cfg.Pipeline.ReviewEditsThreshold < 0 {
		errs = append(errs, fmt.Errorf("pipeline.review_edits_threshold %d must not be negative", cfg.Pipeline.ReviewEditsThreshold))
	}
	if cfg.Pipeline.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("pipeline.parallelism %d must not be negative", cfg.Pipeline.Parallelism))
	}
	if cfg.Pipeline.RefineTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.refine_timeout %s must not be negative", cfg.Pipeline.RefineTimeout.Std()))
	}

	if cfg.Audit.ReviewCSV == "" {
		errs = append(errs, errors.New("audit.review_csv is required"))
	}
	if cfg.Audit.AcceptedCSV == "" {
		errs = append(errs, errors.New("audit.accepted_csv is required"))
	}
	if cfg.Audit.ReviewCSV != "" && cfg.Audit.ReviewCSV == cfg.Audit.AcceptedCSV {
		errs = append(errs, errors.New("audit.review_csv and audit.accepted_csv must be distinct files"))
	}

	return errors.Join(errs...)
}
