package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/pkg/protocol"
)

func TestSynthesizeCloud(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key123" {
			t.Errorf("authorization: got %q", got)
		}
		w.Write([]byte("cloud-audio"))
	}))
	defer srv.Close()

	c := NewClient(config.TTSConfig{
		Engine:      protocol.TTSEngineCloud,
		CloudURL:    srv.URL,
		CloudAPIKey: "key123",
		CloudVoice:  "af_sarah",
	})

	audio, err := c.Synthesize(context.Background(), "Hola.", "")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != "cloud-audio" {
		t.Errorf("unexpected audio %q", audio)
	}
}

func TestSynthesizeGPUFallsBackToCloud(t *testing.T) {
	var cloudCalls atomic.Int32
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cloudCalls.Add(1)
		w.Write([]byte("fallback-audio"))
	}))
	defer cloud.Close()

	gpu := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer gpu.Close()

	c := NewClient(config.TTSConfig{
		Engine:     protocol.TTSEngineGPUFast,
		CloudURL:   cloud.URL,
		GPUFastURL: gpu.URL,
	})

	audio, err := c.Synthesize(context.Background(), "Hola.", "")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != "fallback-audio" {
		t.Errorf("unexpected audio %q", audio)
	}
	if cloudCalls.Load() != 1 {
		t.Errorf("expected 1 cloud call, got %d", cloudCalls.Load())
	}
}

func TestSynthesizeCloudFailureDoesNotRecurse(t *testing.T) {
	var calls atomic.Int32
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer cloud.Close()

	c := NewClient(config.TTSConfig{Engine: protocol.TTSEngineCloud, CloudURL: cloud.URL})
	if _, err := c.Synthesize(context.Background(), "Hola.", ""); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("cloud engine must not fall back to itself, got %d calls", calls.Load())
	}
}

func TestSynthesizeRejectsUnknownEngine(t *testing.T) {
	c := NewClient(config.TTSConfig{Engine: protocol.TTSEngineCloud, CloudURL: "http://localhost:1"})
	if _, err := c.Synthesize(context.Background(), "Hola.", "vinyl"); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	c := NewClient(config.TTSConfig{Engine: protocol.TTSEngineCloud, CloudURL: "http://localhost:1"})
	audio, err := c.Synthesize(context.Background(), "", "")
	if err != nil {
		t.Fatalf("empty text must not error: %v", err)
	}
	if audio != nil {
		t.Errorf("expected nil audio, got %d bytes", len(audio))
	}
}
