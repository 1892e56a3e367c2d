// Package tts synthesizes speech through one of three engines: an
// OpenAI-compatible cloud endpoint, a local GPU service tuned for latency,
// and a local GPU service that clones a reference voice. Non-cloud failures
// fall back to the cloud engine for the same request.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/internal/metrics"
	"github.com/longregen/clara/pkg/otel"
	"github.com/longregen/clara/pkg/protocol"
	"github.com/longregen/clara/shared/httpclient"
)

// requestTimeout bounds a single engine call. The fallback attempt gets its
// own budget.
const requestTimeout = 30 * time.Second

type Client struct {
	cfg    config.TTSConfig
	client *http.Client
}

func NewClient(cfg config.TTSConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: httpclient.NewLong(),
	}
}

// Synthesize renders text with the requested engine. An empty engine selects
// the configured default. The result is opaque audio bytes in the engine's
// native container.
func (c *Client) Synthesize(ctx context.Context, text, engine string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	if engine == "" {
		engine = c.cfg.Engine
	}
	if !protocol.ValidTTSEngine(engine) {
		return nil, fmt.Errorf("unknown TTS engine %q", engine)
	}

	ctx, span := otel.Tracer("clara").Start(ctx, "tts.synthesize",
		trace.WithAttributes(
			attribute.Int("text.length", len(text)),
			attribute.String("tts.engine", engine),
		))
	defer span.End()

	startTime := time.Now()
	audio, err := c.dispatch(ctx, text, engine)
	if err != nil && engine != protocol.TTSEngineCloud {
		slog.Warn("tts: engine failed, falling back to cloud", "engine", engine, "error", err)
		span.AddEvent("cloud fallback")
		audio, err = c.dispatch(ctx, text, protocol.TTSEngineCloud)
	}
	if err != nil {
		slog.Error("tts: synthesis failed", "engine", engine, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, err
	}

	elapsed := time.Since(startTime)
	metrics.TTSRequestDuration.WithLabelValues(engine).Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("audio.bytes", len(audio)),
		attribute.Int64("tts.latency_ms", elapsed.Milliseconds()),
	)
	span.SetStatus(codes.Ok, "synthesis successful")
	slog.Info("tts: synthesis complete", "engine", engine, "audio_bytes", len(audio), "latency", elapsed)
	return audio, nil
}

func (c *Client) dispatch(ctx context.Context, text, engine string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch engine {
	case protocol.TTSEngineCloud:
		return c.synthesizeCloud(ctx, text)
	case protocol.TTSEngineGPUFast:
		return c.synthesizeGPU(ctx, c.cfg.GPUFastURL, text, "")
	case protocol.TTSEngineGPUClone:
		return c.synthesizeGPU(ctx, c.cfg.GPUCloneURL, text, c.cfg.CloneVoice)
	}
	return nil, fmt.Errorf("unknown TTS engine %q", engine)
}

type cloudRequest struct {
	Model          string `json:"model,omitempty"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

func (c *Client) synthesizeCloud(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(cloudRequest{
		Model:          "kokoro",
		Input:          text,
		Voice:          c.cfg.CloudVoice,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.CloudURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.CloudAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.CloudAPIKey)
	}
	return c.do(req)
}

type gpuRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

func (c *Client) synthesizeGPU(ctx context.Context, url, text, voice string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("engine endpoint not configured")
	}

	body, err := json.Marshal(gpuRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("TTS error (status %d): %s", resp.StatusCode, string(errBody))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return audio, nil
}
