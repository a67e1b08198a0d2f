package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ProjectFileNames are looked up, in order, in the analyzed root.
var ProjectFileNames = []string{".digin.yaml", ".digin.yml", ".digin.toml", ".digin.json"}

// ConfigFile is the on-disk form of Settings. Every field is optional: a nil
// pointer leaves the value from the previous layer untouched.
type ConfigFile struct {
	IgnoreDirs        []string `yaml:"ignore_dirs,omitempty" toml:"ignore_dirs,omitempty" json:"ignore_dirs,omitempty"`
	IgnoreFiles       []string `yaml:"ignore_files,omitempty" toml:"ignore_files,omitempty" json:"ignore_files,omitempty"`
	IncludeExtensions []string `yaml:"include_extensions,omitempty" toml:"include_extensions,omitempty" json:"include_extensions,omitempty"`
	IgnoreHidden      *bool    `yaml:"ignore_hidden,omitempty" toml:"ignore_hidden,omitempty" json:"ignore_hidden,omitempty"`
	HiddenAllowList   []string `yaml:"hidden_allow,omitempty" toml:"hidden_allow,omitempty" json:"hidden_allow,omitempty"`

	// Sizes are human strings like "1MB" or "50KB".
	MaxFileSize    *string `yaml:"max_file_size,omitempty" toml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	MaxPreviewSize *string `yaml:"max_preview_size,omitempty" toml:"max_preview_size,omitempty" json:"max_preview_size,omitempty"`
	PreviewChars   *int    `yaml:"preview_chars,omitempty" toml:"preview_chars,omitempty" json:"preview_chars,omitempty"`

	MaxDepth        *int `yaml:"max_depth,omitempty" toml:"max_depth,omitempty" json:"max_depth,omitempty"`
	ParallelWorkers *int `yaml:"parallel_workers,omitempty" toml:"parallel_workers,omitempty" json:"parallel_workers,omitempty"`

	Provider         *string      `yaml:"api_provider,omitempty" toml:"api_provider,omitempty" json:"api_provider,omitempty"`
	ProviderOptions  *ProviderFile `yaml:"api_options,omitempty" toml:"api_options,omitempty" json:"api_options,omitempty"`
	PromptFile       *string      `yaml:"prompt_file,omitempty" toml:"prompt_file,omitempty" json:"prompt_file,omitempty"`
	NarrativeEnabled *bool        `yaml:"narrative_enabled,omitempty" toml:"narrative_enabled,omitempty" json:"narrative_enabled,omitempty"`
	CacheEnabled     *bool        `yaml:"cache_enabled,omitempty" toml:"cache_enabled,omitempty" json:"cache_enabled,omitempty"`
	Policy           *PolicyFile  `yaml:"policy,omitempty" toml:"policy,omitempty" json:"policy,omitempty"`

	IndexPath *string `yaml:"index_path,omitempty" toml:"index_path,omitempty" json:"index_path,omitempty"`
	LogDir    *string `yaml:"log_dir,omitempty" toml:"log_dir,omitempty" json:"log_dir,omitempty"`
	LogLevel  *string `yaml:"log_level,omitempty" toml:"log_level,omitempty" json:"log_level,omitempty"`
	Verbose   *bool   `yaml:"verbose,omitempty" toml:"verbose,omitempty" json:"verbose,omitempty"`
}

// ProviderFile is the on-disk form of ProviderOptions.
type ProviderFile struct {
	Command            *string  `yaml:"command,omitempty" toml:"command,omitempty" json:"command,omitempty"`
	Model              *string  `yaml:"model,omitempty" toml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt       *string  `yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	MaxTokens          *int     `yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Timeout            *string  `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"` // "120s", "2m"
	MaxRetries         *int     `yaml:"max_retries,omitempty" toml:"max_retries,omitempty" json:"max_retries,omitempty"`
	MaxConcurrentCalls *int     `yaml:"max_concurrent_calls,omitempty" toml:"max_concurrent_calls,omitempty" json:"max_concurrent_calls,omitempty"`
	RateLimit          *float64 `yaml:"rate_limit,omitempty" toml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}

// PolicyFile is the on-disk form of Policy.
type PolicyFile struct {
	MajorityThreshold         *float64 `yaml:"majority_threshold,omitempty" toml:"majority_threshold,omitempty" json:"majority_threshold,omitempty"`
	MaxCapabilities           *int     `yaml:"max_capabilities,omitempty" toml:"max_capabilities,omitempty" json:"max_capabilities,omitempty"`
	MaxInterfacesPerCategory  *int     `yaml:"max_interfaces_per_category,omitempty" toml:"max_interfaces_per_category,omitempty" json:"max_interfaces_per_category,omitempty"`
	MinRisks                  *int     `yaml:"min_risks,omitempty" toml:"min_risks,omitempty" json:"min_risks,omitempty"`
	MaxRisks                  *int     `yaml:"max_risks,omitempty" toml:"max_risks,omitempty" json:"max_risks,omitempty"`
	MaxEvidence               *int     `yaml:"max_evidence,omitempty" toml:"max_evidence,omitempty" json:"max_evidence,omitempty"`
	VariancePenaltyFactor     *float64 `yaml:"variance_penalty_factor,omitempty" toml:"variance_penalty_factor,omitempty" json:"variance_penalty_factor,omitempty"`
	MaxVariancePenalty        *float64 `yaml:"max_variance_penalty,omitempty" toml:"max_variance_penalty,omitempty" json:"max_variance_penalty,omitempty"`
	ChildBonusPerChild        *float64 `yaml:"child_bonus_per_child,omitempty" toml:"child_bonus_per_child,omitempty" json:"child_bonus_per_child,omitempty"`
	MaxChildBonus             *float64 `yaml:"max_child_bonus,omitempty" toml:"max_child_bonus,omitempty" json:"max_child_bonus,omitempty"`
	NarrativeCapabilityWeight *int     `yaml:"narrative_capability_weight,omitempty" toml:"narrative_capability_weight,omitempty" json:"narrative_capability_weight,omitempty"`
}

// LoadConfigFile reads a settings file, choosing the decoder by extension
// (.yaml/.yml, .toml, .json). A missing file returns (nil, nil).
func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cf ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cf); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	}
	return &cf, nil
}

// Apply overlays the fields set in the file onto s.
func (cf *ConfigFile) Apply(s *Settings) error {
	if cf == nil {
		return nil
	}
	if cf.IgnoreDirs != nil {
		s.IgnoreDirs = append([]string(nil), cf.IgnoreDirs...)
	}
	if cf.IgnoreFiles != nil {
		s.IgnoreFiles = append([]string(nil), cf.IgnoreFiles...)
	}
	if cf.IncludeExtensions != nil {
		s.IncludeExtensions = normalizeExtensions(cf.IncludeExtensions)
	}
	if cf.IgnoreHidden != nil {
		s.IgnoreHidden = *cf.IgnoreHidden
	}
	if cf.HiddenAllowList != nil {
		s.HiddenAllowList = append([]string(nil), cf.HiddenAllowList...)
	}
	if cf.MaxFileSize != nil {
		n, err := ParseSize(*cf.MaxFileSize)
		if err != nil {
			return fmt.Errorf("max_file_size: %w", err)
		}
		s.MaxFileSize = n
	}
	if cf.MaxPreviewSize != nil {
		n, err := ParseSize(*cf.MaxPreviewSize)
		if err != nil {
			return fmt.Errorf("max_preview_size: %w", err)
		}
		s.MaxPreviewFileSize = n
	}
	setInt(&s.PreviewChars, cf.PreviewChars)
	setInt(&s.MaxDepth, cf.MaxDepth)
	setInt(&s.ParallelWorkers, cf.ParallelWorkers)
	setString(&s.Provider, cf.Provider)
	setString(&s.PromptFile, cf.PromptFile)
	setBool(&s.NarrativeEnabled, cf.NarrativeEnabled)
	setBool(&s.CacheEnabled, cf.CacheEnabled)
	setString(&s.IndexPath, cf.IndexPath)
	setString(&s.LogDir, cf.LogDir)
	setString(&s.LogLevel, cf.LogLevel)
	setBool(&s.Verbose, cf.Verbose)

	if po := cf.ProviderOptions; po != nil {
		opts := &s.ProviderOptions
		setString(&opts.Command, po.Command)
		setString(&opts.Model, po.Model)
		setString(&opts.SystemPrompt, po.SystemPrompt)
		setInt(&opts.MaxTokens, po.MaxTokens)
		setInt(&opts.MaxRetries, po.MaxRetries)
		setInt(&opts.MaxConcurrentCalls, po.MaxConcurrentCalls)
		if po.RateLimit != nil {
			opts.RateLimit = *po.RateLimit
		}
		if po.Timeout != nil {
			d, err := time.ParseDuration(*po.Timeout)
			if err != nil {
				return fmt.Errorf("api_options.timeout: %w", err)
			}
			opts.Timeout = d
		}
	}

	if pf := cf.Policy; pf != nil {
		p := &s.Policy
		setFloat(&p.MajorityThreshold, pf.MajorityThreshold)
		setInt(&p.MaxCapabilities, pf.MaxCapabilities)
		setInt(&p.MaxInterfacesPerCategory, pf.MaxInterfacesPerCategory)
		setInt(&p.MinRisks, pf.MinRisks)
		setInt(&p.MaxRisks, pf.MaxRisks)
		setInt(&p.MaxEvidence, pf.MaxEvidence)
		setFloat(&p.VariancePenaltyFactor, pf.VariancePenaltyFactor)
		setFloat(&p.MaxVariancePenalty, pf.MaxVariancePenalty)
		setFloat(&p.ChildBonusPerChild, pf.ChildBonusPerChild)
		setFloat(&p.MaxChildBonus, pf.MaxChildBonus)
		setInt(&p.NarrativeCapabilityWeight, pf.NarrativeCapabilityWeight)
	}
	return nil
}

// Load builds settings from defaults, the user config, an explicit file and
// the project-local file in root, in that order. It returns the files that
// were applied.
func Load(root, explicit string) (*Settings, []string, error) {
	s := DefaultSettings()
	var applied []string

	layers := []string{}
	if userFile := UserConfigPath(); userFile != "" {
		layers = append(layers, userFile)
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, nil, fmt.Errorf("config file %s: %w", explicit, err)
		}
		layers = append(layers, explicit)
	}
	if root != "" {
		for _, name := range ProjectFileNames {
			p := filepath.Join(root, name)
			if _, err := os.Stat(p); err == nil {
				layers = append(layers, p)
				break
			}
		}
	}

	for _, path := range layers {
		cf, err := LoadConfigFile(path)
		if err != nil {
			return nil, nil, err
		}
		if cf == nil {
			continue
		}
		if err := cf.Apply(s); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		applied = append(applied, path)
	}

	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	return s, applied, nil
}

// UserConfigPath returns the per-user settings file location, or "" when no
// config directory can be determined.
func UserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "digin", "config.yaml")
}

// ParseSize parses a human size such as "1MB", "50KB" or "2GiB" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("size %q must be positive", s)
	}
	return int64(n), nil
}

// SaveConfigFile writes cf as YAML, creating parent directories.
func SaveConfigFile(path string, cf *ConfigFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cf)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ExampleConfigFile returns an annotated YAML settings file.
func ExampleConfigFile() string {
	return `# digin settings
# Place as .digin.yaml in a project root, or at ~/.config/digin/config.yaml.

# Directories never descended into (glob patterns on the directory name)
ignore_dirs:
  - node_modules
  - .git
  - dist
  - build
  - __pycache__
  - venv

# Files never analyzed (glob patterns on the file name)
ignore_files:
  - "*.pyc"
  - "*.log"
  - "*.tmp"

# Only these extensions are analyzed (empty list = all)
include_extensions: [.go, .py, .js, .ts, .jsx, .tsx, .java]

ignore_hidden: true
hidden_allow: [.github, .vscode]

# Larger files are invisible to analysis and hashing
max_file_size: 1MB
# Text files up to this size get a content preview and are hashed by content
max_preview_size: 50KB

max_depth: 10
parallel_workers: 2

# claude | gemini | anthropic
api_provider: claude
api_options:
  model: ""
  timeout: 120s
  max_retries: 2
  rate_limit: 0

narrative_enabled: false
cache_enabled: true

# Aggregation policy (changing these invalidates every cached digest)
policy:
  majority_threshold: 0.6
  max_capabilities: 8
  max_risks: 6
`
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
