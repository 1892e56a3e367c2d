// Package speakerid is a thin client for the sibling voiceprint service.
// Every call carries a short deadline and callers treat any failure as
// "speaker unknown" so the pipeline never stalls on it.
package speakerid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/pkg/otel"
	"github.com/longregen/clara/pkg/protocol"
	"github.com/longregen/clara/shared/httpclient"
)

// Identification is the service's verdict on one audio blob.
type Identification struct {
	SpeakerLabel  string `json:"speakerLabel"`
	Known         bool   `json:"known"`
	HasProfiles   bool   `json:"hasProfiles"`
	AutoEnrolling bool   `json:"autoEnrolling"`
}

type Client struct {
	cfg    config.SpeakerIDConfig
	client *http.Client
}

func NewClient(cfg config.SpeakerIDConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: httpclient.NewBrief(),
	}
}

// Identify uploads audio and returns the speaker verdict.
func (c *Client) Identify(ctx context.Context, audio []byte) (*Identification, error) {
	ctx, span := otel.Tracer("clara").Start(ctx, "speakerid.identify",
		trace.WithAttributes(attribute.Int("audio.bytes", len(audio))))
	defer span.End()

	body, err := c.postAudio(ctx, "/identify", audio, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identify failed")
		return nil, err
	}

	var ident Identification
	if err := json.Unmarshal(body, &ident); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("parse response: %w", err)
	}
	span.SetAttributes(
		attribute.String("speaker.label", ident.SpeakerLabel),
		attribute.Bool("speaker.known", ident.Known),
	)
	return &ident, nil
}

// Enroll registers a voice sample under name. With append set, the sample
// extends an existing profile instead of starting a new one.
func (c *Client) Enroll(ctx context.Context, audio []byte, name string, append bool) error {
	ctx, span := otel.Tracer("clara").Start(ctx, "speakerid.enroll",
		trace.WithAttributes(
			attribute.String("speaker.name", name),
			attribute.Bool("enroll.append", append),
		))
	defer span.End()

	path := "/enroll"
	if append {
		path = "/enroll_append"
	}
	if _, err := c.postAudio(ctx, path, audio, map[string]string{"name": name}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enroll failed")
		return err
	}
	return nil
}

// Rename relabels a profile, typically promoting an anonymous label to a
// self-introduced name.
func (c *Client) Rename(ctx context.Context, oldName, newName string) error {
	ctx, span := otel.Tracer("clara").Start(ctx, "speakerid.rename")
	defer span.End()

	err := c.postJSON(ctx, "/rename", map[string]string{"old": oldName, "new": newName}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rename failed")
	}
	return err
}

// Reset drops all profiles. Issued on fresh sessions so prior sessions do
// not contaminate identification.
func (c *Client) Reset(ctx context.Context) error {
	ctx, span := otel.Tracer("clara").Start(ctx, "speakerid.reset")
	defer span.End()

	err := c.postJSON(ctx, "/reset", struct{}{}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reset failed")
	}
	return err
}

// Profiles lists enrolled speakers.
func (c *Client) Profiles(ctx context.Context) ([]protocol.SpeakerProfile, error) {
	ctx, span := otel.Tracer("clara").Start(ctx, "speakerid.profiles")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.URL+"/profiles", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profiles failed")
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speaker-ID error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Profiles []protocol.SpeakerProfile `json:"profiles"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	span.SetAttributes(attribute.Int("profiles.count", len(result.Profiles)))
	return result.Profiles, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func (c *Client) postAudio(ctx context.Context, path string, audio []byte, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
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

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.URL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("speakerid: request failed", "path", path, "error", err)
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Warn("speakerid: error response", "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("speaker-ID error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.URL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("speakerid: request failed", "path", path, "error", err)
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Warn("speakerid: error response", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("speaker-ID error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
