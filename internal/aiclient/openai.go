package aiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"intelhub/internal/hubtypes"
	"intelhub/internal/obs"
)

// classifyHTTPError implements the central retry contract (spec §4.3):
// 400 is terminal and sensitive, 401/403 terminal auth, 429/5xx/transport
// transient.
func classifyHTTPError(err error) *ChatError {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusBadRequest:
			return &ChatError{Verdict: VerdictTerminalSensitive, Err: fmt.Errorf("%w: %v", hubtypes.ErrSensitiveProvider, err)}
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return &ChatError{Verdict: VerdictTerminalAuth, Err: fmt.Errorf("%w: %v", hubtypes.ErrTerminalProvider, err)}
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return &ChatError{Verdict: VerdictTransient, Err: fmt.Errorf("%w: %v", hubtypes.ErrTransientProvider, err)}
		}
	}
	// Anything else (transport errors, context deadline, DNS failures)
	// is treated as transient.
	return &ChatError{Verdict: VerdictTransient, Err: fmt.Errorf("%w: %v", hubtypes.ErrTransientProvider, err)}
}

func buildSDKClient(baseURL, apiKey string, httpClient *http.Client) sdk.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return sdk.NewClient(opts...)
}

func doChat(ctx context.Context, client sdk.Client, model string, messages []Message, temperature float64, maxTokens int, log obs.Logger) (Response, error) {
	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(model),
		Temperature: param.NewOpt(temperature),
		MaxTokens:   param.NewOpt(int64(maxTokens)),
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, sdk.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, sdk.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, sdk.UserMessage(m.Content))
		}
	}

	start := time.Now()
	comp, err := client.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		ce := classifyHTTPError(err)
		log.Error("ai_chat_error", map[string]any{"model": model, "duration_ms": dur.Milliseconds(), "error": err.Error(), "terminal": !ce.Retryable()})
		return Response{}, ce
	}
	if len(comp.Choices) == 0 {
		return Response{}, &ChatError{Verdict: VerdictTransient, Err: fmt.Errorf("%w: empty choices", hubtypes.ErrNoValue)}
	}
	log.Debug("ai_chat_ok", map[string]any{"model": model, "duration_ms": dur.Milliseconds(), "prompt_tokens": comp.Usage.PromptTokens, "completion_tokens": comp.Usage.CompletionTokens})
	return Response{
		Content:          comp.Choices[0].Message.Content,
		PromptTokens:     int(comp.Usage.PromptTokens),
		CompletionTokens: int(comp.Usage.CompletionTokens),
	}, nil
}

// StandardClient is a fixed model/token OpenAI-compatible client.
type StandardClient struct {
	baseClient
	baseURL string
	apiKey  string
	sdk     sdk.Client
	model   string
	log     obs.Logger
}

// NewStandardClient constructs a Client bound to one model, one token,
// one base URL.
func NewStandardClient(name string, priority Priority, groupID, baseURL, apiKey, model string, httpClient *http.Client, log obs.Logger) *StandardClient {
	if log == nil {
		log = obs.NewNoopLogger()
	}
	return &StandardClient{
		baseClient: newBaseClient(name, priority, groupID),
		baseURL:    baseURL,
		apiKey:     apiKey,
		sdk:        buildSDKClient(baseURL, apiKey, httpClient),
		model:      model,
		log:        log,
	}
}

func (c *StandardClient) CurrentModel() string   { return c.model }
func (c *StandardClient) CurrentBaseURL() string { return c.baseURL }
func (c *StandardClient) CurrentToken() string   { return c.apiKey }

func (c *StandardClient) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (Response, error) {
	return doChat(ctx, c.sdk, c.model, messages, temperature, maxTokens, c.log)
}

// SelfRotatingClient cycles through a configured model list after every
// N requests and a token list after every M requests.
type SelfRotatingClient struct {
	baseClient
	baseURL    string
	httpClient *http.Client
	log        obs.Logger

	models       []string
	tokens       []string
	everyNModels int
	everyMTokens int

	mu          sync.Mutex
	requestNum  int64
	modelIdx    int
	tokenIdx    int
}

// NewSelfRotatingClient rotates to the next model every everyNModels
// requests and the next token every everyMTokens requests.
func NewSelfRotatingClient(name string, priority Priority, groupID, baseURL string, tokens, models []string, everyNModels, everyMTokens int, httpClient *http.Client, log obs.Logger) *SelfRotatingClient {
	if log == nil {
		log = obs.NewNoopLogger()
	}
	if everyNModels <= 0 {
		everyNModels = 1
	}
	if everyMTokens <= 0 {
		everyMTokens = 1
	}
	return &SelfRotatingClient{
		baseClient:   newBaseClient(name, priority, groupID),
		baseURL:      baseURL,
		httpClient:   httpClient,
		log:          log,
		models:       models,
		tokens:       tokens,
		everyNModels: everyNModels,
		everyMTokens: everyMTokens,
	}
}

func (c *SelfRotatingClient) current() (model, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := atomic.AddInt64(&c.requestNum, 1) - 1
	if len(c.models) > 0 {
		c.modelIdx = int(n/int64(c.everyNModels)) % len(c.models)
		model = c.models[c.modelIdx]
	}
	if len(c.tokens) > 0 {
		c.tokenIdx = int(n/int64(c.everyMTokens)) % len(c.tokens)
		token = c.tokens[c.tokenIdx]
	}
	return model, token
}

func (c *SelfRotatingClient) CurrentModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.models) == 0 {
		return ""
	}
	return c.models[c.modelIdx]
}

func (c *SelfRotatingClient) CurrentBaseURL() string { return c.baseURL }

// CurrentToken returns the token the most recent (or, before any Chat
// call, the first) rotation selected, without advancing the rotation —
// unlike current(), which Chat uses to both select and advance.
func (c *SelfRotatingClient) CurrentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tokens) == 0 {
		return ""
	}
	return c.tokens[c.tokenIdx]
}

func (c *SelfRotatingClient) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (Response, error) {
	model, token := c.current()
	client := buildSDKClient(c.baseURL, token, c.httpClient)
	return doChat(ctx, client, model, messages, temperature, maxTokens, c.log)
}

// OuterTokenRotatingClient presents the same surface as StandardClient
// but reads its active token from an external Rotator on every call,
// so a background balance probe can swap the key without the caller
// noticing (spec §4.3 "Outer-token-rotating").
type OuterTokenRotatingClient struct {
	baseClient
	baseURL    string
	model      string
	httpClient *http.Client
	rotator    *Rotator
	log        obs.Logger
}

// NewOuterTokenRotatingClient binds to a Rotator for its active key.
func NewOuterTokenRotatingClient(name string, priority Priority, groupID, baseURL, model string, rotator *Rotator, httpClient *http.Client, log obs.Logger) *OuterTokenRotatingClient {
	if log == nil {
		log = obs.NewNoopLogger()
	}
	return &OuterTokenRotatingClient{
		baseClient: newBaseClient(name, priority, groupID),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		rotator:    rotator,
		log:        log,
	}
}

func (c *OuterTokenRotatingClient) CurrentModel() string   { return c.model }
func (c *OuterTokenRotatingClient) CurrentBaseURL() string { return c.baseURL }
func (c *OuterTokenRotatingClient) CurrentToken() string   { return c.rotator.ActiveKey() }

func (c *OuterTokenRotatingClient) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (Response, error) {
	token := c.rotator.ActiveKey()
	client := buildSDKClient(c.baseURL, token, c.httpClient)
	return doChat(ctx, client, c.model, messages, temperature, maxTokens, c.log)
}
