package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
	"github.com/steveyegge/digin/internal/types"
)

const (
	// DefaultModel is used when neither settings nor DIGIN_MODEL choose one.
	DefaultModel = "claude-sonnet-4-5-20250929"

	apiKeyEnv        = "ANTHROPIC_API_KEY"
	modelEnv         = "DIGIN_MODEL"
	baseURLEnv       = "DIGIN_API_BASE_URL"
	defaultMaxTokens = 4096
)

// APIAnalyzer calls the Anthropic Messages API directly.
type APIAnalyzer struct {
	client    anthropic.Client
	hasKey    bool
	model     string
	system    string
	maxTokens int64
	prompts   *promptBuilder
	guard     *callGuard
	logger    *slog.Logger
}

func newAPIAnalyzer(opts config.ProviderOptions, prompts *promptBuilder, guard *callGuard, logger *slog.Logger) *APIAnalyzer {
	apiKey := os.Getenv(apiKeyEnv)
	// The guard owns retries.
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if base := os.Getenv(baseURLEnv); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}

	model := opts.Model
	if model == "" {
		model = os.Getenv(modelEnv)
	}
	if model == "" {
		model = DefaultModel
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &APIAnalyzer{
		client:    anthropic.NewClient(reqOpts...),
		hasKey:    apiKey != "",
		model:     model,
		system:    opts.SystemPrompt,
		maxTokens: maxTokens,
		prompts:   prompts,
		guard:     guard,
		logger:    logging.OrDiscard(logger).With("provider", config.ProviderAnthropic, "model", model),
	}
}

// Name returns the provider name.
func (a *APIAnalyzer) Name() string { return config.ProviderAnthropic }

// CheckAvailable requires an API key and a closed circuit. It does not
// spend a request.
func (a *APIAnalyzer) CheckAvailable(ctx context.Context) error {
	if !a.hasKey {
		return fmt.Errorf("%w: %s is not set", ErrAnalysisUnavailable, apiKeyEnv)
	}
	if a.guard.open() {
		return fmt.Errorf("%w: %v", ErrAnalysisUnavailable, ErrCircuitOpen)
	}
	return ctx.Err()
}

// Analyze sends one leaf prompt and parses the reply.
func (a *APIAnalyzer) Analyze(ctx context.Context, req Request) (*types.Digest, error) {
	if !a.hasKey {
		return nil, fmt.Errorf("%w: %s is not set", ErrAnalysisUnavailable, apiKeyEnv)
	}
	prompt, err := a.prompts.Build(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	var response *anthropic.Message
	err = a.guard.do(ctx, "analyze "+req.RelPath, func(attemptCtx context.Context) error {
		resp, apiErr := a.client.Messages.New(attemptCtx, params)
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAnalysisFailed, req.RelPath, err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	a.logger.Debug("provider call finished",
		"path", req.RelPath,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens)

	return finish(config.ProviderAnthropic, text.String(), req)
}
