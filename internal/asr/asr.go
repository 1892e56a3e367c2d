// Package asr submits audio to a speech-recognition service and filters out
// transcripts that are noise rather than speech.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/internal/metrics"
	"github.com/longregen/clara/pkg/otel"
	"github.com/longregen/clara/pkg/wav"
	"github.com/longregen/clara/shared/httpclient"
)

// Dialect is the upstream API shape the adapter speaks. The first successful
// call pins it for the process; until then every request tries the
// OpenAI-compatible path first and falls back to the legacy path on 4xx.
type dialect int32

const (
	dialectUnknown dialect = iota
	dialectOpenAI
	dialectLegacy
)

// Segment is one chunk of the verbose transcription response.
type Segment struct {
	Text         string  `json:"text"`
	AvgLogProb   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Result is a transcription with the confidence signals the ambient filters need.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// AvgLogProb averages the per-segment log probabilities. Zero segments yields
// 0, which the filters treat as "no signal".
func (r *Result) AvgLogProb() float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range r.Segments {
		sum += s.AvgLogProb
	}
	return sum / float64(len(r.Segments))
}

// MaxNoSpeechProb returns the highest no-speech probability across segments.
func (r *Result) MaxNoSpeechProb() float64 {
	var max float64
	for _, s := range r.Segments {
		if s.NoSpeechProb > max {
			max = s.NoSpeechProb
		}
	}
	return max
}

type Client struct {
	cfg     config.ASRConfig
	client  *http.Client
	dialect atomic.Int32
}

func NewClient(cfg config.ASRConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: httpclient.NewShort(),
	}
}

// Transcribe sends audio for transcription. Raw PCM is wrapped in a WAV
// container first; blobs that already carry a RIFF header pass through.
func (c *Client) Transcribe(ctx context.Context, audio []byte, language, prompt string) (*Result, error) {
	if len(audio) == 0 {
		slog.Info("asr: empty audio, skipping transcription")
		return &Result{}, nil
	}
	if language == "" {
		language = c.cfg.Language
	}

	ctx, span := otel.Tracer("clara").Start(ctx, "asr.transcribe",
		trace.WithAttributes(
			attribute.Int("audio.bytes", len(audio)),
			attribute.String("asr.model", c.cfg.Model),
			attribute.String("asr.language", language),
		))
	defer span.End()

	container := audio
	if !wav.IsWAV(audio) {
		container = wav.EncodeMic(audio)
	}
	span.SetAttributes(attribute.Int("audio.wav_bytes", len(container)))

	startTime := time.Now()

	var (
		res *Result
		err error
	)
	switch dialect(c.dialect.Load()) {
	case dialectOpenAI:
		res, err = c.transcribeOpenAI(ctx, container, language, prompt)
	case dialectLegacy:
		res, err = c.transcribeLegacy(ctx, container, language)
	default:
		res, err = c.transcribeOpenAI(ctx, container, language, prompt)
		if err == nil {
			c.dialect.CompareAndSwap(int32(dialectUnknown), int32(dialectOpenAI))
			break
		}
		var se *statusError
		if !errors.As(err, &se) || se.Code < 400 || se.Code >= 500 {
			break
		}
		slog.Warn("asr: openai-compatible path rejected, trying legacy", "status", se.Code)
		res, err = c.transcribeLegacy(ctx, container, language)
		if err == nil {
			c.dialect.CompareAndSwap(int32(dialectUnknown), int32(dialectLegacy))
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return nil, err
	}

	elapsed := time.Since(startTime)
	metrics.ASRRequestDuration.Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int64("asr.latency_ms", elapsed.Milliseconds()),
		attribute.Int("transcript.length", len(res.Text)),
		attribute.String("transcript.language", res.Language),
	)
	span.SetStatus(codes.Ok, "transcription successful")
	slog.Info("asr: transcription received", "latency", elapsed, "chars", len(res.Text), "language", res.Language)
	return res, nil
}

// transcribeOpenAI posts to the /audio/transcriptions path with
// verbose_json, which carries language and per-segment confidences.
func (c *Client) transcribeOpenAI(ctx context.Context, container []byte, language, prompt string) (*Result, error) {
	fields := map[string]string{
		"model":           c.cfg.Model,
		"response_format": "verbose_json",
	}
	if language != "" {
		fields["language"] = language
	}
	if prompt != "" {
		fields["prompt"] = prompt
	}

	body, err := c.post(ctx, c.cfg.URL+"/audio/transcriptions", container, fields)
	if err != nil {
		return nil, err
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &res, nil
}

// transcribeLegacy posts to the bare /transcribe path, which returns only text.
func (c *Client) transcribeLegacy(ctx context.Context, container []byte, language string) (*Result, error) {
	fields := map[string]string{"response_format": "json"}
	if language != "" {
		fields["language"] = language
	}

	body, err := c.post(ctx, c.cfg.URL+"/transcribe", container, fields)
	if err != nil {
		return nil, err
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &res, nil
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ASR error (status %d): %s", e.Code, e.Body)
}

func (c *Client) post(ctx context.Context, url string, container []byte, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(container); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("write %s field: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("asr: request failed", "error", err)
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("asr: error response", "status", resp.StatusCode, "body", string(body))
		return nil, &statusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
