package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/longregen/clara/internal/asr"
	"github.com/longregen/clara/internal/llm"
	"github.com/longregen/clara/internal/search"
	"github.com/longregen/clara/internal/session"
	"github.com/longregen/clara/pkg/protocol"
)

type scriptedStreamer struct {
	mu      sync.Mutex
	scripts [][]llm.StreamChunk
	calls   [][]llm.Message
	stall   bool // hold the stream open after the script until the run is cancelled
}

func (f *scriptedStreamer) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	var script []llm.StreamChunk
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	stall := f.stall
	f.mu.Unlock()

	out := make(chan llm.StreamChunk, len(script)+1)
	go func() {
		defer close(out)
		for _, chunk := range script {
			select {
			case out <- chunk:
			case <-ctx.Done():
				out <- llm.StreamChunk{Error: ctx.Err()}
				return
			}
		}
		if stall {
			<-ctx.Done()
			out <- llm.StreamChunk{Error: ctx.Err()}
		}
	}()
	return out, nil
}

type fakeTranscriber struct {
	result *asr.Result
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, language, prompt string) (*asr.Result, error) {
	return f.result, f.err
}

type fakeSynthesizer struct{}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, engine string) ([]byte, error) {
	return []byte("audio:" + text), nil
}

type fakeSearcher struct {
	queries []string
	results []search.Result
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, nil
}

type recordingSink struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (r *recordingSink) Deliver(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	r.mu.Lock()
	r.frames = append(r.frames, m)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f["type"].(string)
	}
	return out
}

func (r *recordingSink) ofType(typ string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, f := range r.frames {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

func newTestSession() (*session.Session, *recordingSink) {
	s := session.New("Clara", "Ana", protocol.TTSEngineCloud)
	sink := &recordingSink{}
	s.Attach(sink)
	return s, sink
}

func chunksOf(text string) []llm.StreamChunk {
	return []llm.StreamChunk{{Content: text}, {Done: true}}
}

func TestTextRunEmitsOrderedEnvelopes(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{
		chunksOf("[[emotion:happy]] ¡Hola! [[emotion:neutral]] Son las tres."),
	}}
	p := New(streamer, nil, &fakeSynthesizer{}, nil)
	s, sink := newTestSession()

	p.HandleText(context.Background(), s, "qué hora es", "")

	types := sink.types()
	// status(thinking), status(speaking), emotion, chunks..., stream_done, status(idle)
	if types[0] != "status" || types[len(types)-2] != "stream_done" || types[len(types)-1] != "status" {
		t.Errorf("unexpected envelope order: %v", types)
	}

	replies := sink.ofType("reply_chunk")
	if len(replies) != 2 {
		t.Fatalf("expected 2 reply chunks, got %d", len(replies))
	}
	if replies[0]["text"] != "¡Hola!" || replies[0]["emotion"] != protocol.EmotionHappy {
		t.Errorf("first chunk: %+v", replies[0])
	}
	if replies[1]["index"] != float64(1) || replies[1]["emotion"] != protocol.EmotionNeutral {
		t.Errorf("second chunk: %+v", replies[1])
	}

	audio := sink.ofType("audio_chunk")
	if len(audio) != 2 {
		t.Fatalf("expected 2 audio chunks, got %d", len(audio))
	}

	// reply_chunk k always precedes audio_chunk k
	seen := map[float64]bool{}
	for _, f := range sink.frames {
		switch f["type"] {
		case "reply_chunk":
			seen[f["index"].(float64)] = true
		case "audio_chunk":
			if !seen[f["index"].(float64)] {
				t.Errorf("audio_chunk %v before its reply_chunk", f["index"])
			}
		}
	}

	if emotions := sink.ofType("emotion"); len(emotions) != 1 || emotions[0]["emotion"] != protocol.EmotionHappy {
		t.Errorf("run-level emotion: %+v", emotions)
	}

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(history))
	}
	if history[0].Role != llm.RoleUser || history[0].Content != "qué hora es" {
		t.Errorf("user turn: %+v", history[0])
	}
	if strings.Contains(history[1].Content, "[[emotion") {
		t.Errorf("assistant turn not stripped: %q", history[1].Content)
	}
}

func TestSystemPromptAndHistoryAssembly(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{chunksOf("[[emotion:neutral]] Vale.")}}
	p := New(streamer, nil, &fakeSynthesizer{}, nil)
	s, _ := newTestSession()
	s.AppendTurn(llm.RoleUser, "hola")
	s.AppendTurn(llm.RoleAssistant, "buenas")

	p.HandleText(context.Background(), s, "sigue", "")

	if len(streamer.calls) != 1 {
		t.Fatalf("expected 1 LLM call, got %d", len(streamer.calls))
	}
	messages := streamer.calls[0]
	if messages[0].Role != llm.RoleSystem || !strings.Contains(messages[0].Content, "Clara") {
		t.Errorf("system prompt missing: %+v", messages[0])
	}
	if len(messages) != 4 || messages[1].Content != "hola" || messages[3].Content != "sigue" {
		t.Errorf("unexpected assembly: %+v", messages)
	}
}

func TestSearchInjection(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{chunksOf("[[emotion:neutral]] Hace sol.")}}
	searcher := &fakeSearcher{results: []search.Result{{Title: "AEMET", URL: "https://aemet.es", Snippet: "Soleado"}}}
	p := New(streamer, nil, &fakeSynthesizer{}, searcher)
	s, _ := newTestSession()

	p.HandleText(context.Background(), s, "what is the weather in Bilbao", "")

	if len(searcher.queries) != 1 {
		t.Fatalf("expected 1 search, got %d", len(searcher.queries))
	}
	userMsg := streamer.calls[0][len(streamer.calls[0])-1]
	if !strings.Contains(userMsg.Content, "AEMET") {
		t.Errorf("search results not injected: %q", userMsg.Content)
	}
}

func TestAmbientWrapperSkipsSearch(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{chunksOf("[[emotion:neutral]] Claro.")}}
	searcher := &fakeSearcher{}
	p := New(streamer, nil, &fakeSynthesizer{}, searcher)
	s, _ := newTestSession()

	wrapped := ambientMarker + " ...]\n[Speaker just said: what is the weather]"
	p.HandleText(context.Background(), s, wrapped, "")

	if len(searcher.queries) != 0 {
		t.Errorf("ambient wrapper must skip search injection, ran %v", searcher.queries)
	}
}

func TestEmptyResponseRetriesOnceWithPrefixStripped(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{
		{{Done: true}}, // empty first attempt
		chunksOf("[[emotion:neutral]] Ahora sí."),
	}}
	p := New(streamer, nil, &fakeSynthesizer{}, nil)
	s, sink := newTestSession()

	p.HandleText(context.Background(), s, "dime algo", "[Speaker Marta]:")

	if len(streamer.calls) != 2 {
		t.Fatalf("expected 2 LLM calls, got %d", len(streamer.calls))
	}
	first := streamer.calls[0][len(streamer.calls[0])-1].Content
	second := streamer.calls[1][len(streamer.calls[1])-1].Content
	if !strings.HasPrefix(first, "[Speaker Marta]:") {
		t.Errorf("first attempt lost prefix: %q", first)
	}
	if second != "dime algo" {
		t.Errorf("retry should strip prefix: %q", second)
	}
	if len(sink.ofType("stream_done")) != 1 {
		t.Error("run must still complete")
	}
}

func TestHistoryMatchesEmittedChunks(t *testing.T) {
	// Sloppy whitespace around the tags must not leak into history; the
	// committed turn is exactly what the client assembled from the chunks.
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{
		chunksOf("[[emotion:happy]]   ¡Hola!  [[emotion:neutral]]  Son las tres. "),
	}}
	p := New(streamer, nil, &fakeSynthesizer{}, nil)
	s, sink := newTestSession()

	p.HandleText(context.Background(), s, "qué hora es", "")

	var chunkTexts []string
	for _, f := range sink.ofType("reply_chunk") {
		chunkTexts = append(chunkTexts, f["text"].(string))
	}
	if len(chunkTexts) == 0 {
		t.Fatal("no reply chunks emitted")
	}

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(history))
	}
	want := strings.Join(chunkTexts, " ")
	if history[1].Content != want {
		t.Errorf("assistant turn %q, want chunk concatenation %q", history[1].Content, want)
	}
}

func TestEmptyAfterRetryLeavesHistoryUntouched(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{
		{{Done: true}},
		{{Done: true}},
	}}
	p := New(streamer, nil, &fakeSynthesizer{}, nil)
	s, sink := newTestSession()

	p.HandleText(context.Background(), s, "dime algo", "")

	if len(streamer.calls) != 2 {
		t.Fatalf("expected retry, got %d calls", len(streamer.calls))
	}
	if len(s.History()) != 0 {
		t.Errorf("empty run must not leave a dangling user turn: %+v", s.History())
	}
	if len(sink.ofType("stream_done")) != 1 {
		t.Error("run must still complete")
	}
	statuses := sink.ofType("status")
	if statuses[len(statuses)-1]["state"] != protocol.StatusIdle {
		t.Error("final state must be idle")
	}
}

func TestBargeInAbortsWithoutStreamDone(t *testing.T) {
	streamer := &scriptedStreamer{
		scripts: [][]llm.StreamChunk{{{Content: "[[emotion:neutral]] Primera frase. Y ahora"}}},
		stall:   true,
	}
	p := New(streamer, nil, &fakeSynthesizer{}, nil)
	s, sink := newTestSession()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.HandleText(context.Background(), s, "cuéntame algo largo", "")
	}()

	// wait until the first sentence is out
	deadline := time.After(5 * time.Second)
	for {
		if len(sink.ofType("reply_chunk")) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first sentence never arrived")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Cancel(s, true)
	<-done

	if len(sink.ofType("stream_done")) != 0 {
		t.Error("barge-in must not emit stream_done")
	}
	if len(sink.ofType("stop_playback")) != 1 {
		t.Error("barge-in must emit stop_playback")
	}
	statuses := sink.ofType("status")
	if statuses[len(statuses)-1]["state"] != protocol.StatusIdle {
		t.Error("final state must be idle")
	}

	history := s.History()
	if len(history) != 2 || !strings.Contains(history[1].Content, "[interrupted]") {
		t.Errorf("partial not committed with marker: %+v", history)
	}
}

func TestStreamErrorFlushesAndCompletes(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{{
		{Content: "[[emotion:neutral]] Esto llegó bien. Y esto se"},
		{Error: fmt.Errorf("upstream hiccup")},
	}}}
	p := New(streamer, nil, &fakeSynthesizer{}, nil)
	s, sink := newTestSession()

	p.HandleText(context.Background(), s, "hola", "")

	if len(sink.ofType("reply_chunk")) < 1 {
		t.Error("accumulated sentences must flush")
	}
	if len(sink.ofType("error")) != 1 {
		t.Error("expected one error envelope")
	}
	if len(sink.ofType("stream_done")) != 1 {
		t.Error("run must still signal completion")
	}
	history := s.History()
	if len(history) != 2 || !strings.Contains(history[1].Content, "Esto llegó bien") {
		t.Errorf("surviving prefix not committed: %+v", history)
	}
}

func TestAudioFlavour(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{chunksOf("[[emotion:neutral]] Son las tres.")}}
	transcriber := &fakeTranscriber{result: &asr.Result{Text: "qué hora es", Language: "es"}}
	p := New(streamer, transcriber, &fakeSynthesizer{}, nil)
	s, sink := newTestSession()

	p.HandleAudio(context.Background(), s, []byte{1, 2, 3}, "")

	transcripts := sink.ofType("transcript")
	if len(transcripts) != 1 || transcripts[0]["text"] != "qué hora es" {
		t.Errorf("transcript echo: %+v", transcripts)
	}
	statuses := sink.ofType("status")
	if statuses[0]["state"] != protocol.StatusTranscribing {
		t.Errorf("first state: %+v", statuses[0])
	}
	if len(sink.ofType("stream_done")) != 1 {
		t.Error("run did not complete")
	}
}

func TestGarbageAudioGetsFriendlyError(t *testing.T) {
	transcriber := &fakeTranscriber{result: &asr.Result{Text: "Subtitles by the Amara.org community"}}
	p := New(&scriptedStreamer{}, transcriber, &fakeSynthesizer{}, nil)
	s, sink := newTestSession()

	p.HandleAudio(context.Background(), s, []byte{1}, "")

	if len(sink.ofType("error")) != 1 {
		t.Error("expected friendly error")
	}
	if len(sink.ofType("reply_chunk")) != 0 {
		t.Error("no run should start")
	}
}

func TestArtifactAndButtonsExtraction(t *testing.T) {
	long := strings.Repeat("print(x)\n", 30)
	reply := "[[emotion:neutral]] Aquí está el código. ```python\n" + long + "``` [[buttons:Repetir|Guardar]]"
	streamer := &scriptedStreamer{scripts: [][]llm.StreamChunk{chunksOf(reply)}}
	p := New(streamer, nil, &fakeSynthesizer{}, nil)
	s, sink := newTestSession()

	p.HandleText(context.Background(), s, "dame código", "")

	artifacts := sink.ofType("artifact")
	if len(artifacts) != 1 || artifacts[0]["language"] != "python" {
		t.Errorf("artifact: %+v", artifacts)
	}
	buttons := sink.ofType("buttons")
	if len(buttons) != 1 {
		t.Fatalf("buttons: %+v", buttons)
	}
}
