// Package llm streams chat completions from the language model over one of
// two transports: a persistent duplex websocket with run-lifecycle events,
// or HTTP server-sent events. The duplex transport is preferred when its
// endpoint is configured.
package llm

import (
	"context"

	"github.com/longregen/clara/internal/config"
)

// Message roles in the chat format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the assembled prompt. Images carries data URLs for
// multimodal user turns; transports that cannot forward them fall back to
// the textual content alone.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// StreamChunk is one event on a completion stream. Content always carries
// incremental text; transports that report cumulative text convert before
// emitting.
type StreamChunk struct {
	Content string
	Error   error
	Done    bool
}

// Streamer opens a streaming completion. The returned channel is closed when
// the stream ends; cancellation of ctx aborts the call upstream.
type Streamer interface {
	Stream(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
}

// New selects the transport for the configured endpoints.
func New(cfg config.LLMConfig) Streamer {
	if cfg.DuplexURL != "" {
		return NewDuplexClient(cfg)
	}
	return NewHTTPClient(cfg)
}
