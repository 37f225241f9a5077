// Package reason provides the language-model backend used by the
// supervisor for planning and reflection, with a scripted implementation
// for tests and offline operation.
package reason

import "context"

// Request is a single reasoning exchange.
type Request struct {
	// System is the system prompt framing the exchange.
	System string
	// Prompt is the user-side content.
	Prompt string
	// MaxTokens bounds the response length. Zero uses the backend default.
	MaxTokens int
}

// Result is the backend's response.
type Result struct {
	// Text is the response content.
	Text string
	// InputTokens and OutputTokens report usage when the backend tracks it.
	InputTokens  int64
	OutputTokens int64
}

// Reasoner produces a response for a reasoning request. Implementations
// must be safe for concurrent use.
type Reasoner interface {
	Respond(ctx context.Context, req Request) (Result, error)
}
