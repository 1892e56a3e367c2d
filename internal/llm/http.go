package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/internal/metrics"
	"github.com/longregen/clara/pkg/otel"
)

// HTTPClient streams completions over the OpenAI-compatible SSE endpoint.
type HTTPClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewHTTPClient(cfg config.LLMConfig) *HTTPClient {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = strings.TrimSuffix(cfg.URL, "/")

	return &HTTPClient{
		client:      openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
	}
}

func (c *HTTPClient) Stream(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	ctx, span := otel.Tracer("clara").Start(ctx, "llm.stream",
		trace.WithAttributes(
			attribute.String("llm.transport", "http"),
			attribute.String("llm.model", c.model),
			attribute.Int("llm.messages", len(messages)),
		))

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      true,
	}
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: m.Role}
		if len(m.Images) > 0 {
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: img},
				})
			}
			msg.MultiContent = parts
		} else {
			msg.Content = m.Content
		}
		req.Messages = append(req.Messages, msg)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("http", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "open stream failed")
		span.End()
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	chunks := make(chan StreamChunk, 16)
	go func() {
		defer close(chunks)
		defer span.End()
		defer stream.Close()

		var total int
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				metrics.LLMRequestsTotal.WithLabelValues("http", "ok").Inc()
				span.SetAttributes(attribute.Int("llm.response_chars", total))
				span.SetStatus(codes.Ok, "stream complete")
				chunks <- StreamChunk{Done: true}
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					metrics.LLMRequestsTotal.WithLabelValues("http", "cancelled").Inc()
					chunks <- StreamChunk{Error: ctx.Err()}
					return
				}
				slog.Error("llm: stream receive failed", "error", err)
				metrics.LLMRequestsTotal.WithLabelValues("http", "error").Inc()
				span.RecordError(err)
				span.SetStatus(codes.Error, "stream receive failed")
				chunks <- StreamChunk{Error: err}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				total += len(choice.Delta.Content)
				chunks <- StreamChunk{Content: choice.Delta.Content}
			}
			if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
				metrics.LLMRequestsTotal.WithLabelValues("http", "ok").Inc()
				span.SetAttributes(attribute.Int("llm.response_chars", total))
				span.SetStatus(codes.Ok, "stream complete")
				chunks <- StreamChunk{Done: true}
				return
			}
		}
	}()

	return chunks, nil
}
