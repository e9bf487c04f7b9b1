package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openRouterName = "openrouter"

	// DefaultBaseURL is the OpenRouter OpenAI-compatible endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// ClientConfig holds configuration for the OpenRouter extraction client.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client // Optional (tests)
	Logger     *slog.Logger
}

// OpenRouterClient implements Client against OpenRouter's chat
// completions API.
type OpenRouterClient struct {
	api        openai.Client
	maxRetries uint
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewOpenRouterClient creates a new OpenRouter extraction client.
func NewOpenRouterClient(cfg ClientConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 500 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	api := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(httpClient),
		// Retries are driven below so attempts can be logged and
		// cancellation wins between them.
		option.WithMaxRetries(0),
	)

	return &OpenRouterClient{
		api:        api,
		maxRetries: uint(cfg.MaxRetries),
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return openRouterName
}

// Extract sends one page image to the model and returns normalized rows.
func (c *OpenRouterClient) Extract(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s",
		req.MimeType, base64.StdEncoding.EncodeToString(req.Image))

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(buildPrompt(req)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   rowsSchemaName,
					Schema: responseFormatSchema(),
					Strict: openai.Bool(true),
				},
			},
		},
	}

	start := time.Now()
	completion, err := retry.DoWithData(
		func() (*openai.ChatCompletion, error) {
			return c.api.Chat.Completions.New(ctx, params)
		},
		retry.Context(ctx),
		retry.Attempts(c.maxRetries),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("extraction call retrying",
				"model", req.Model,
				"mode", string(req.Mode),
				"attempt", n+1,
				"error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response (model=%s)", req.Model)
	}

	content := completion.Choices[0].Message.Content
	rows, dropped, raw, err := parseRows(content)
	if err != nil {
		return nil, err
	}

	modelUsed := completion.Model
	if modelUsed == "" {
		modelUsed = req.Model
	}

	c.logger.Debug("extraction call complete",
		"model", modelUsed,
		"mode", string(req.Mode),
		"rows", len(rows),
		"dropped", dropped,
		"tokens", completion.Usage.TotalTokens,
		"elapsed", time.Since(start))

	return &Result{
		Rows:             rows,
		Dropped:          dropped,
		Model:            modelUsed,
		RawJSON:          raw,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
	}, nil
}

// isRetryable reports whether an attempt failure is worth another try.
// Rate limits, server errors, and transport failures are; cancellation
// and client-side mistakes are not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return apiErr.StatusCode >= 500
	}
	return true
}
