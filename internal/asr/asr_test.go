package asr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/pkg/wav"
)

func TestTranscribePinsOpenAIDialect(t *testing.T) {
	var openaiCalls, legacyCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio/transcriptions":
			openaiCalls.Add(1)
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("bad multipart: %v", err)
			}
			if r.FormValue("response_format") != "verbose_json" {
				t.Errorf("response_format: got %q", r.FormValue("response_format"))
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"text":"hola mundo","language":"es","segments":[{"text":"hola mundo","avg_logprob":-0.2,"no_speech_prob":0.1}]}`))
		case "/transcribe":
			legacyCalls.Add(1)
			w.Write([]byte(`{"text":"hola"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(config.ASRConfig{URL: srv.URL, Model: "whisper-large-v3"})

	for i := 0; i < 2; i++ {
		res, err := c.Transcribe(context.Background(), []byte{1, 2, 3, 4}, "", "")
		if err != nil {
			t.Fatalf("Transcribe failed: %v", err)
		}
		if res.Text != "hola mundo" || res.Language != "es" {
			t.Errorf("unexpected result: %+v", res)
		}
	}
	if openaiCalls.Load() != 2 || legacyCalls.Load() != 0 {
		t.Errorf("dialect not pinned to openai: openai=%d legacy=%d", openaiCalls.Load(), legacyCalls.Load())
	}
}

func TestTranscribeFallsBackToLegacyOn4xx(t *testing.T) {
	var legacyCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio/transcriptions":
			http.Error(w, "unknown route", http.StatusNotFound)
		case "/transcribe":
			legacyCalls.Add(1)
			w.Write([]byte(`{"text":"legacy text"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(config.ASRConfig{URL: srv.URL, Model: "whisper-large-v3"})

	res, err := c.Transcribe(context.Background(), []byte{1, 2, 3, 4}, "", "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "legacy text" {
		t.Errorf("unexpected text %q", res.Text)
	}

	// second call must go straight to the legacy path
	if _, err := c.Transcribe(context.Background(), []byte{1, 2, 3, 4}, "", ""); err != nil {
		t.Fatalf("second Transcribe failed: %v", err)
	}
	if legacyCalls.Load() != 2 {
		t.Errorf("expected 2 legacy calls, got %d", legacyCalls.Load())
	}
}

func TestTranscribeDoesNotDoubleWrapWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("bad multipart: %v", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()
		head := make([]byte, wav.HeaderSize)
		if _, err := file.Read(head); err != nil {
			t.Fatalf("read file part: %v", err)
		}
		hdr, err := wav.DecodeHeader(head)
		if err != nil {
			t.Fatalf("uploaded blob is not canonical WAV: %v", err)
		}
		if hdr.SampleRate != wav.MicSampleRate {
			t.Errorf("sample rate: got %d", hdr.SampleRate)
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(config.ASRConfig{URL: srv.URL, Model: "whisper-large-v3"})
	already := wav.EncodeMic([]byte{9, 9, 9, 9})
	if _, err := c.Transcribe(context.Background(), already, "", ""); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	c := NewClient(config.ASRConfig{URL: "http://localhost:1", Model: "m"})
	res, err := c.Transcribe(context.Background(), nil, "", "")
	if err != nil {
		t.Fatalf("empty audio must not error: %v", err)
	}
	if res.Text != "" {
		t.Errorf("expected empty transcript, got %q", res.Text)
	}
}

func TestResultConfidence(t *testing.T) {
	r := &Result{Segments: []Segment{
		{AvgLogProb: -0.2, NoSpeechProb: 0.1},
		{AvgLogProb: -0.8, NoSpeechProb: 0.6},
	}}
	if got := r.AvgLogProb(); got != -0.5 {
		t.Errorf("AvgLogProb: got %v", got)
	}
	if got := r.MaxNoSpeechProb(); got != 0.6 {
		t.Errorf("MaxNoSpeechProb: got %v", got)
	}
}

func TestGarbage(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "   ", true},
		{"hallucinated credit en", "Thanks for watching!", true},
		{"hallucinated subtitle credit", "Subtitles by the Amara.org community", true},
		{"hallucinated credit es", "Gracias por ver el video", true},
		{"repeated word", "ya ya ya ya ya ya", true},
		{"repeated pair", "thank you thank you thank you thank you", true},
		{"foreign script", "これはテストです完全に別の言語", true},
		{"high duplication", "no no no no no sí no no no no no no", true},
		{"normal spanish", "¿Puedes recordarme la reunión de mañana a las diez?", false},
		{"normal english", "Please add milk and eggs to the shopping list", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Garbage(tc.text); got != tc.want {
				t.Errorf("Garbage(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
