// Package llm defines the Provider interface for chat-completion backends.
//
// A provider wraps a remote model API (an OpenAI-compatible endpoint, the
// OpenAI SDK, or any backend reachable through any-llm-go) and exposes a
// uniform interface for the dictation generator and the chat reconciler to
// request blocking or streamed completions without coupling to a specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting information returned by the backend, when the
// backend reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation, system messages included.
	Messages []Message

	// Temperature controls output randomness. Zero selects the provider
	// default; the OpenAI-compatible client uses 0.3.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// SystemPrompt is an optional instruction prepended as a "system" message.
	// Callers that already put their system message in Messages leave it empty.
	SystemPrompt string
}

// Chunk is a single token or fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental content of this chunk. May be empty.
	Text string

	// FinishReason is set on the final chunk. "error" marks a chunk that
	// carries Err instead of content.
	FinishReason string

	// Err is the failure that terminated the stream. Only set when
	// FinishReason is "error".
	Err error
}

// FinishError is the FinishReason value of a chunk that carries a stream error.
const FinishError = "error"

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the first choice's message content. Empty when the backend
	// returned no choices.
	Content string

	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that emits
	// Chunk values as they arrive. The channel is closed by the implementation
	// when generation finishes or when ctx is cancelled.
	//
	// Errors that occur after the channel is opened are surfaced as a Chunk
	// with FinishReason "error" and Err set. Cancellation of ctx closes the
	// channel without an error chunk. The initial error return is non-nil only
	// for failures that prevent the stream from starting (non-2xx status,
	// unreachable host).
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
