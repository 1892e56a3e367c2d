package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/internal/metrics"
	"github.com/longregen/clara/pkg/otel"
	"github.com/longregen/clara/shared/backoff"
	"github.com/longregen/clara/shared/id"
)

const writeTimeout = 10 * time.Second

// duplexEvent is one frame of the duplex model protocol. The server tags
// every frame with the run it belongs to; delta text may be cumulative.
type duplexEvent struct {
	Type    string `json:"type"` // run_started, delta, run_done, run_error
	RunID   string `json:"runId"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

type duplexRequest struct {
	Type        string    `json:"type"` // run, cancel
	RunID       string    `json:"runId"`
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type activeRun struct {
	chunks chan StreamChunk
	delta  deltaTracker

	// done is closed when the consumer abandons the run, so the read loop
	// never blocks on a channel nobody drains.
	done     chan struct{}
	doneOnce sync.Once
}

func (r *activeRun) finish() {
	r.doneOnce.Do(func() { close(r.done) })
}

// DuplexClient multiplexes completion runs over one persistent websocket.
// The connection is dialed lazily and redialed with backoff after a drop;
// runs in flight at drop time fail and the caller decides whether to retry.
type DuplexClient struct {
	cfg config.LLMConfig

	mu   sync.Mutex
	conn *websocket.Conn
	runs map[string]*activeRun

	writeMu sync.Mutex
}

func NewDuplexClient(cfg config.LLMConfig) *DuplexClient {
	return &DuplexClient{
		cfg:  cfg,
		runs: make(map[string]*activeRun),
	}
}

func (c *DuplexClient) Stream(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	ctx, span := otel.Tracer("clara").Start(ctx, "llm.stream",
		trace.WithAttributes(
			attribute.String("llm.transport", "duplex"),
			attribute.String("llm.model", c.cfg.Model),
			attribute.Int("llm.messages", len(messages)),
		))

	if err := c.ensureConnected(ctx); err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("duplex", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		span.End()
		return nil, err
	}

	runID := id.NewRun()
	run := &activeRun{chunks: make(chan StreamChunk, 16), done: make(chan struct{})}

	c.mu.Lock()
	c.runs[runID] = run
	c.mu.Unlock()

	req := duplexRequest{
		Type:        "run",
		RunID:       runID,
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if err := c.write(req); err != nil {
		c.dropRun(runID)
		metrics.LLMRequestsTotal.WithLabelValues("duplex", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send run failed")
		span.End()
		return nil, fmt.Errorf("send run request: %w", err)
	}
	span.SetAttributes(attribute.String("llm.run_id", runID))

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		defer span.End()
		defer c.dropRun(runID)

		for {
			select {
			case <-ctx.Done():
				c.write(duplexRequest{Type: "cancel", RunID: runID})
				metrics.LLMRequestsTotal.WithLabelValues("duplex", "cancelled").Inc()
				select {
				case out <- StreamChunk{Error: ctx.Err()}:
				default:
				}
				return
			case chunk, ok := <-run.chunks:
				if !ok {
					select {
					case out <- StreamChunk{Error: fmt.Errorf("duplex connection lost")}:
					case <-ctx.Done():
					}
					return
				}
				// The caller may have stopped draining; never park here past
				// a cancellation or the read loop starves behind us.
				select {
				case out <- chunk:
				case <-ctx.Done():
					c.write(duplexRequest{Type: "cancel", RunID: runID})
					metrics.LLMRequestsTotal.WithLabelValues("duplex", "cancelled").Inc()
					return
				}
				if chunk.Done {
					metrics.LLMRequestsTotal.WithLabelValues("duplex", "ok").Inc()
					span.SetStatus(codes.Ok, "stream complete")
					return
				}
				if chunk.Error != nil {
					metrics.LLMRequestsTotal.WithLabelValues("duplex", "error").Inc()
					span.RecordError(chunk.Error)
					span.SetStatus(codes.Error, "run failed")
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *DuplexClient) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	var conn *websocket.Conn
	err := backoff.Retry(ctx, backoff.Quick, func(ctx context.Context, attempt int) error {
		var err error
		conn, _, err = dialer.DialContext(ctx, c.cfg.DuplexURL, header)
		if err != nil {
			slog.Warn("llm: duplex dial failed", "url", c.cfg.DuplexURL, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("dial duplex endpoint: %w", err)
	}

	c.conn = conn
	go c.readLoop(conn)
	slog.Info("llm: duplex connection established", "url", c.cfg.DuplexURL)
	return nil
}

// readLoop owns the connection's read side and fans events out to runs.
// When the read fails, every active run's channel is closed so callers see
// the drop, and the connection is cleared for a fresh dial.
func (c *DuplexClient) readLoop(conn *websocket.Conn) {
	for {
		var ev duplexEvent
		if err := conn.ReadJSON(&ev); err != nil {
			slog.Warn("llm: duplex connection lost", "error", err)
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			for runID, run := range c.runs {
				close(run.chunks)
				delete(c.runs, runID)
			}
			c.mu.Unlock()
			conn.Close()
			return
		}

		c.mu.Lock()
		run, ok := c.runs[ev.RunID]
		c.mu.Unlock()
		if !ok {
			continue
		}

		switch ev.Type {
		case "run_started":
			// lifecycle marker, nothing to surface
		case "delta":
			if inc := run.delta.Next(ev.Text); inc != "" {
				c.deliver(run, StreamChunk{Content: inc})
			}
		case "run_done":
			c.deliver(run, StreamChunk{Done: true})
		case "run_error":
			c.deliver(run, StreamChunk{Error: fmt.Errorf("model error: %s", ev.Message)})
		default:
			slog.Debug("llm: unknown duplex event", "type", ev.Type)
		}
	}
}

// deliver hands one chunk to a run's consumer. A run whose consumer has left
// (cancelled, or its buffer was abandoned full) discards the chunk instead of
// blocking the shared read loop.
func (c *DuplexClient) deliver(run *activeRun, chunk StreamChunk) {
	select {
	case run.chunks <- chunk:
	case <-run.done:
	}
}

func (c *DuplexClient) dropRun(runID string) {
	c.mu.Lock()
	run := c.runs[runID]
	delete(c.runs, runID)
	c.mu.Unlock()
	if run != nil {
		run.finish()
	}
}

func (c *DuplexClient) write(req duplexRequest) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

// Close shuts the persistent connection down.
func (c *DuplexClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
