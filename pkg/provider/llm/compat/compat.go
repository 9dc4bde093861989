// Package compat provides an LLM provider for any OpenAI-compatible
// chat-completions endpoint, speaking the wire format directly over net/http.
//
// It is the default provider: it sends exactly the request shape that
// third-party relays (one-api, new-api, LiteLLM, vLLM) accept, and it parses
// server-sent events leniently, skipping chunks it cannot decode.
package compat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jerryz/poems/pkg/provider/llm"
)

// DefaultTemperature is sent when a request leaves Temperature at zero.
const DefaultTemperature = 0.3

// maxErrorBody bounds how much of a non-2xx body is kept on an APIError.
const maxErrorBody = 4 << 10

// Client implements llm.Provider against POST {baseURL}/chat/completions.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

// config holds optional configuration for the client.
type config struct {
	httpClient *http.Client
	timeout    time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithHTTPClient replaces the HTTP client. Its Timeout should be zero;
// streams are bounded by context, not by a client-wide deadline.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each blocking Complete call. Streams are unaffected.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Client. baseURL is the API root including any version
// segment, for example "https://api.example.com/v1".
func New(baseURL, apiKey, model string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("compat: baseURL must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("compat: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: hc,
		timeout:    cfg.timeout,
	}, nil
}

// chatRequest is the request body. stream and temperature are always sent.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, "read response", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("compat: %w: %v", llm.ErrMalformedResponse, err)
	}

	out := &llm.CompletionResponse{}
	if len(parsed.Choices) > 0 {
		out.Content = parsed.Choices[0].Message.Content
	}
	if parsed.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

// StreamCompletion implements llm.Provider. The consuming goroutine checks
// ctx before every line read, so cancellation is observed promptly and ends
// the stream without an error chunk.
func (c *Client) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		err := ReadEvents(ctx, resp.Body, func(token string) bool {
			select {
			case ch <- llm.Chunk{Text: token}:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case ch <- llm.Chunk{FinishReason: llm.FinishError, Err: c.transportError(ctx, "read stream", err)}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// do builds and sends the request, turning non-2xx answers into APIError.
func (c *Client) do(ctx context.Context, req llm.CompletionRequest, stream bool) (*http.Response, error) {
	temp := req.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    llm.WithSystemPrompt(req),
		Stream:      stream,
		Temperature: temp,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("compat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("compat: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, "send request", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &llm.APIError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	return resp, nil
}

// transportError classifies a failed round trip. A cancelled context is
// returned as-is so callers can tell it apart from a network failure.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("compat: %s: %w", op, ctxErr)
	}
	return fmt.Errorf("compat: %s: %w: %w", op, llm.ErrNetwork, err)
}

// ReadEvents reads server-sent event lines from r and calls emit for every
// non-empty token until the [DONE] sentinel, EOF, or a read error. emit
// returning false stops reading. ctx is checked before each line read.
func ReadEvents(ctx context.Context, r io.Reader, emit func(token string) bool) error {
	br := bufio.NewReader(r)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := br.ReadString('\n')
		if line != "" {
			token, done, ok := ParseLine(line)
			if done {
				return nil
			}
			if ok && token != "" && !emit(token) {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// ensure Client implements llm.Provider.
var _ llm.Provider = (*Client)(nil)
