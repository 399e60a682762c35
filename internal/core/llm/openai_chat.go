package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/logger"
)

// EndpointConfig addresses an OpenAI-compatible HTTP endpoint.
type EndpointConfig struct {
	BaseURL string
	APIPath string
	Model   string
	APIKey  string
	Timeout time.Duration
}

func (c EndpointConfig) url() string {
	return strings.TrimRight(c.BaseURL, "/") + c.APIPath
}

// keyless is handed to the SDK when the endpoint needs no key; the
// transport drops the header again.
const keyless = "unused"

// ChatClient calls an OpenAI-compatible chat completions endpoint through
// langchaingo. The configured APIPath wins over the SDK's own suffix so
// self-hosted servers mounted under a custom path keep working.
type ChatClient struct {
	llm   *openai.LLM
	guard *Guard
	log   *slog.Logger
	err   error
}

func NewChatClient(cfg EndpointConfig, guard *Guard, log *slog.Logger) *ChatClient {
	if cfg.APIPath == "" {
		cfg.APIPath = "/v1/chat/completions"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	token := cfg.APIKey
	if token == "" {
		token = keyless
	}
	c := &ChatClient{guard: guard, log: logger.Or(log)}
	c.llm, c.err = openai.New(
		openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(&chatTransport{
			http:   &http.Client{Timeout: cfg.Timeout},
			url:    cfg.url(),
			keyed:  cfg.APIKey != "",
			logger: c.log,
		}),
	)
	return c
}

func (c *ChatClient) Generate(ctx context.Context, systemPrompt, userPrompt string, opts core.GenerateOptions) (string, error) {
	if c.err != nil {
		return "", &ClientError{Kind: ErrLLM, Op: "chat client", Err: c.err}
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = core.DefaultGenerateOptions.MaxTokens
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	var content string
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		content, err = c.complete(ctx, messages, opts)
		return err
	})
	return content, err
}

func (c *ChatClient) complete(ctx context.Context, messages []llms.MessageContent, opts core.GenerateOptions) (string, error) {
	rec := &exchange{}
	resp, err := c.llm.GenerateContent(withExchange(ctx, rec), messages,
		llms.WithTemperature(opts.Temperature),
		llms.WithMaxTokens(opts.MaxTokens),
	)
	switch {
	case err != nil && rec.status != 0 && rec.status != http.StatusOK:
		return "", &ClientError{Kind: ErrLLM, Op: "chat", StatusCode: rec.status, Body: rec.body}
	case err != nil && rec.status == http.StatusOK:
		return "", &ClientError{Kind: ErrLLM, Op: "chat decode", Err: fmt.Errorf("%w: %v", errDecode, err)}
	case err != nil:
		return "", &ClientError{Kind: ErrLLM, Op: "chat request", Err: err}
	case resp == nil || len(resp.Choices) == 0:
		return "", &ClientError{Kind: ErrLLM, Op: "chat decode", Err: fmt.Errorf("%w: no choices", errDecode)}
	}
	return resp.Choices[0].Content, nil
}

// exchange records what the transport saw for one completion call.
type exchange struct {
	status int
	body   string
}

type exchangeKey struct{}

func withExchange(ctx context.Context, rec *exchange) context.Context {
	return context.WithValue(ctx, exchangeKey{}, rec)
}

// chatTransport pins every SDK request to the configured endpoint and keeps
// the status and error body for ClientError.
type chatTransport struct {
	http   *http.Client
	url    string
	keyed  bool
	logger *slog.Logger
}

func (t *chatTransport) Do(req *http.Request) (*http.Response, error) {
	target, err := url.Parse(t.url)
	if err != nil {
		return nil, err
	}
	req.URL = target
	req.Host = target.Host
	if !t.keyed {
		req.Header.Del("Authorization")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	rec, _ := req.Context().Value(exchangeKey{}).(*exchange)
	if rec == nil {
		return resp, nil
	}
	rec.status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		rec.body = string(payload)
		t.logger.Error("llm returned non-200", "status", resp.StatusCode, "body", preview(rec.body, 500))
		resp.Body = io.NopCloser(bytes.NewReader(payload))
	}
	return resp, nil
}

func setJSONHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

var _ core.LLMProvider = (*ChatClient)(nil)
