// Package analyzer produces digests for leaf directories by asking an
// external model. Providers differ only in how the model is reached (a CLI
// binary or the Anthropic API); prompt building, response parsing and
// normalization are shared.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
	"github.com/steveyegge/digin/internal/types"
)

var (
	// ErrAnalysisUnavailable means the provider cannot be reached at all.
	ErrAnalysisUnavailable = errors.New("leaf analyzer unavailable")

	// ErrAnalysisFailed means one analysis attempt failed: timeout, bad
	// response or a result that does not parse as a digest.
	ErrAnalysisFailed = errors.New("leaf analysis failed")
)

// Request is the input for one leaf analysis.
type Request struct {
	Dir     types.DirectoryNode
	RelPath string
}

// LeafAnalyzer produces a digest for a directory with no digested children.
type LeafAnalyzer interface {
	// Name identifies the provider, e.g. "claude".
	Name() string

	// CheckAvailable verifies the provider can be reached. A non-nil error
	// wraps ErrAnalysisUnavailable.
	CheckAvailable(ctx context.Context) error

	// Analyze returns a normalized digest. A non-nil error wraps
	// ErrAnalysisFailed or ErrAnalysisUnavailable.
	Analyze(ctx context.Context, req Request) (*types.Digest, error)
}

// New builds the analyzer selected by settings.Provider.
func New(settings *config.Settings, logger *slog.Logger) (LeafAnalyzer, error) {
	logger = logging.OrDiscard(logger).With("component", "analyzer")
	prompts, err := newPromptBuilder(settings)
	if err != nil {
		return nil, err
	}
	guard := newCallGuard(settings.ProviderOptions, logger)

	switch settings.Provider {
	case config.ProviderAnthropic:
		return newAPIAnalyzer(settings.ProviderOptions, prompts, guard, logger), nil
	default:
		profile, ok := cliProfiles[settings.Provider]
		if !ok {
			return nil, fmt.Errorf("%w: unknown provider %q", config.ErrInvalidSettings, settings.Provider)
		}
		return newCLIAnalyzer(profile, settings.ProviderOptions, prompts, guard, logger), nil
	}
}

// finish turns raw model output into a digest for req.
func finish(provider, output string, req Request) (*types.Digest, error) {
	raw, err := parseResponse(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %s returned an unusable response for %s: %v", ErrAnalysisFailed, provider, req.RelPath, err)
	}
	return normalize(raw, req), nil
}
