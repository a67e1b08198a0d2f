// Package config holds the read-only settings for a digest run: ignore
// rules, size limits, provider selection and aggregation policy.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/steveyegge/digin/internal/types"
)

// ErrInvalidSettings is wrapped by every validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Supported leaf analyzer providers.
const (
	ProviderClaude    = "claude"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Providers lists every accepted provider name.
var Providers = []string{ProviderClaude, ProviderGemini, ProviderAnthropic}

// ProviderOptions tune the leaf analyzer backend.
type ProviderOptions struct {
	// Command overrides the executable for CLI providers (default: provider name).
	Command string
	// Model selects a model; empty means the provider default.
	Model string
	// SystemPrompt is appended to the provider's system prompt where supported.
	SystemPrompt string
	// MaxTokens bounds API responses.
	MaxTokens int
	// Timeout bounds a single analysis call.
	Timeout time.Duration
	// MaxRetries for transient failures.
	MaxRetries int
	// MaxConcurrentCalls caps in-flight analyzer calls (0 = unlimited).
	MaxConcurrentCalls int
	// RateLimit is the maximum number of calls per second (0 = unlimited).
	RateLimit float64
}

// Policy holds the aggregation constants. They are product choices exposed
// as configuration; every value takes part in the fingerprint salt.
type Policy struct {
	MajorityThreshold         float64
	MaxCapabilities           int
	SummaryCapabilities       int
	SummaryChildren           int
	MaxInterfacesPerCategory  int
	MinRisks                  int
	MaxRisks                  int
	MaxEvidence               int
	VariancePenaltyFactor     float64
	MaxVariancePenalty        float64
	ChildBonusPerChild        float64
	MaxChildBonus             float64
	NarrativeCapabilityWeight int
}

// DefaultPolicy returns the stock aggregation constants.
func DefaultPolicy() Policy {
	return Policy{
		MajorityThreshold:         0.6,
		MaxCapabilities:           8,
		SummaryCapabilities:       3,
		SummaryChildren:           3,
		MaxInterfacesPerCategory:  10,
		MinRisks:                  3,
		MaxRisks:                  6,
		MaxEvidence:               20,
		VariancePenaltyFactor:     0.01,
		MaxVariancePenalty:        15,
		ChildBonusPerChild:        1,
		MaxChildBonus:             5,
		NarrativeCapabilityWeight: 5,
	}
}

// Settings configure one run. They are built once and treated as read-only
// for the lifetime of the run.
type Settings struct {
	// Ignore rules
	IgnoreDirs        []string
	IgnoreFiles       []string
	IncludeExtensions []string
	IgnoreHidden      bool
	HiddenAllowList   []string

	// Size limits in bytes
	MaxFileSize        int64
	MaxPreviewFileSize int64
	PreviewChars       int

	// Traversal
	MaxDepth        int
	ParallelWorkers int

	// Analysis
	Provider         string
	ProviderOptions  ProviderOptions
	PromptFile       string
	NarrativeEnabled bool
	CacheEnabled     bool
	Policy           Policy

	// Ambient
	IndexPath string
	LogDir    string
	LogLevel  string
	Verbose   bool
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() *Settings {
	return &Settings{
		IgnoreDirs: []string{
			"node_modules", ".git", "dist", "build", "__pycache__",
			".pytest_cache", "venv", ".venv", "env", ".env",
		},
		IgnoreFiles:        []string{"*.pyc", "*.log", ".DS_Store", "*.tmp", "*.swp"},
		IncludeExtensions:  []string{".py", ".js", ".ts", ".jsx", ".tsx", ".java", ".go"},
		IgnoreHidden:       true,
		HiddenAllowList:    []string{".github", ".vscode"},
		MaxFileSize:        1 << 20,
		MaxPreviewFileSize: 50 << 10,
		PreviewChars:       1000,
		MaxDepth:           10,
		ParallelWorkers:    1,
		Provider:           ProviderClaude,
		ProviderOptions: ProviderOptions{
			MaxTokens:          4096,
			Timeout:            120 * time.Second,
			MaxRetries:         2,
			MaxConcurrentCalls: 3,
		},
		CacheEnabled: true,
		Policy:       DefaultPolicy(),
		LogLevel:     "warn",
	}
}

// Clone returns a deep copy so callers can derive per-command variants.
func (s *Settings) Clone() *Settings {
	c := *s
	c.IgnoreDirs = append([]string(nil), s.IgnoreDirs...)
	c.IgnoreFiles = append([]string(nil), s.IgnoreFiles...)
	c.IncludeExtensions = append([]string(nil), s.IncludeExtensions...)
	c.HiddenAllowList = append([]string(nil), s.HiddenAllowList...)
	return &c
}

// Validate checks that the settings can drive a run.
func (s *Settings) Validate() error {
	var problems []string

	if !isKnownProvider(s.Provider) {
		problems = append(problems, fmt.Sprintf("unknown provider %q (want one of %s)", s.Provider, strings.Join(Providers, ", ")))
	}
	if s.MaxFileSize <= 0 {
		problems = append(problems, "max_file_size must be positive")
	}
	if s.MaxPreviewFileSize <= 0 {
		problems = append(problems, "max_preview_size must be positive")
	}
	if s.PreviewChars < 0 {
		problems = append(problems, "preview_chars must not be negative")
	}
	if s.ParallelWorkers < 1 {
		problems = append(problems, "parallel_workers must be at least 1")
	}
	if s.MaxDepth < 1 {
		problems = append(problems, "max_depth must be at least 1")
	}
	if s.ProviderOptions.Timeout <= 0 {
		problems = append(problems, "provider timeout must be positive")
	}
	if s.ProviderOptions.RateLimit < 0 {
		problems = append(problems, "rate_limit must not be negative")
	}
	p := s.Policy
	if p.MajorityThreshold <= 0 || p.MajorityThreshold > 1 {
		problems = append(problems, "policy.majority_threshold must be in (0,1]")
	}
	if p.MaxCapabilities < 1 || p.MaxInterfacesPerCategory < 1 || p.MaxEvidence < 1 {
		problems = append(problems, "policy caps must be at least 1")
	}
	if p.MinRisks > p.MaxRisks {
		problems = append(problems, "policy.min_risks must not exceed policy.max_risks")
	}
	if p.MaxVariancePenalty < 0 || p.MaxChildBonus < 0 {
		problems = append(problems, "policy penalty and bonus caps must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}

// FingerprintSalt renders every setting that changes the content of a digest
// as a canonical string. Changing any of them invalidates every cache entry.
func (s *Settings) FingerprintSalt() string {
	p := s.Policy
	parts := []string{
		"version=" + types.Version,
		"provider=" + s.Provider,
		"model=" + s.ProviderOptions.Model,
		fmt.Sprintf("narrative=%t", s.NarrativeEnabled),
		fmt.Sprintf("max_file_size=%d", s.MaxFileSize),
		fmt.Sprintf("max_preview_size=%d", s.MaxPreviewFileSize),
		fmt.Sprintf("preview_chars=%d", s.PreviewChars),
		fmt.Sprintf("max_depth=%d", s.MaxDepth),
		"prompt_file=" + s.PromptFile,
		fmt.Sprintf("policy=%g/%d/%d/%d/%d/%d/%d/%d/%g/%g/%g/%g/%d",
			p.MajorityThreshold, p.MaxCapabilities, p.SummaryCapabilities, p.SummaryChildren,
			p.MaxInterfacesPerCategory, p.MinRisks, p.MaxRisks, p.MaxEvidence,
			p.VariancePenaltyFactor, p.MaxVariancePenalty, p.ChildBonusPerChild, p.MaxChildBonus,
			p.NarrativeCapabilityWeight),
	}
	return strings.Join(parts, "\n")
}

// Describe renders the effective settings for display.
func (s *Settings) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "provider:           %s\n", s.Provider)
	if s.ProviderOptions.Model != "" {
		fmt.Fprintf(&sb, "model:              %s\n", s.ProviderOptions.Model)
	}
	fmt.Fprintf(&sb, "cache:              %t\n", s.CacheEnabled)
	fmt.Fprintf(&sb, "narrative:          %t\n", s.NarrativeEnabled)
	fmt.Fprintf(&sb, "parallel workers:   %d\n", s.ParallelWorkers)
	fmt.Fprintf(&sb, "max depth:          %d\n", s.MaxDepth)
	fmt.Fprintf(&sb, "max file size:      %s\n", humanize.IBytes(uint64(s.MaxFileSize)))
	fmt.Fprintf(&sb, "max preview size:   %s\n", humanize.IBytes(uint64(s.MaxPreviewFileSize)))
	fmt.Fprintf(&sb, "ignore dirs:        %s\n", strings.Join(s.IgnoreDirs, ", "))
	fmt.Fprintf(&sb, "ignore files:       %s\n", strings.Join(s.IgnoreFiles, ", "))
	fmt.Fprintf(&sb, "include extensions: %s\n", strings.Join(s.IncludeExtensions, ", "))
	fmt.Fprintf(&sb, "ignore hidden:      %t (allow: %s)\n", s.IgnoreHidden, strings.Join(s.HiddenAllowList, ", "))
	return sb.String()
}

func isKnownProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

// normalizeExtensions lowercases extensions, adds the leading dot and
// removes duplicates.
func normalizeExtensions(exts []string) []string {
	seen := make(map[string]bool, len(exts))
	var out []string
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}
