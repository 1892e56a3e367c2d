// Package pipeline is the streaming orchestration core: it fulfils one user
// turn by fusing search injection, history assembly, a streaming LLM call,
// sentence splitting, emotion tagging, and concurrent per-sentence TTS into
// an ordered envelope stream on the session.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/longregen/clara/internal/asr"
	"github.com/longregen/clara/internal/llm"
	"github.com/longregen/clara/internal/metrics"
	"github.com/longregen/clara/internal/search"
	"github.com/longregen/clara/internal/session"
	"github.com/longregen/clara/pkg/otel"
	"github.com/longregen/clara/pkg/protocol"
)

// Transcriber, Synthesizer and Searcher are the upstream surfaces the
// orchestrator needs; the HTTP adapters satisfy them and tests substitute
// fakes.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language, prompt string) (*asr.Result, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, engine string) ([]byte, error)
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// Pipeline coordinates runs across sessions. One run is active per session;
// starting a new one cancels and drains the prior run first.
type Pipeline struct {
	llm    llm.Streamer
	asr    Transcriber
	tts    Synthesizer
	search Searcher

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cancel  context.CancelFunc
	done    chan struct{}
	bargeIn bool

	mu      sync.Mutex
	partial strings.Builder
	clean   []string
	userSum string
}

func New(streamer llm.Streamer, transcriber Transcriber, synthesizer Synthesizer, searcher Searcher) *Pipeline {
	return &Pipeline{
		llm:    streamer,
		asr:    transcriber,
		tts:    synthesizer,
		search: searcher,
		runs:   make(map[string]*run),
	}
}

// HandleAudio transcribes a push-to-talk utterance and re-enters the text
// flavour. Garbage transcripts get a friendly in-band error.
func (p *Pipeline) HandleAudio(ctx context.Context, s *session.Session, audio []byte, prefix string) {
	s.SetState(protocol.StatusTranscribing)

	res, err := p.asr.Transcribe(ctx, audio, "", "")
	if err != nil {
		slog.Error("pipeline: transcription failed", "session", s.ID, "error", err)
		metrics.PipelineRunsTotal.WithLabelValues("audio", "asr_error").Inc()
		s.Send(protocol.NewError("I couldn't process that audio, please try again."))
		s.SetState(protocol.StatusIdle)
		return
	}

	text := strings.TrimSpace(res.Text)
	if text == "" || asr.Garbage(text) {
		metrics.PipelineRunsTotal.WithLabelValues("audio", "garbage").Inc()
		s.Send(protocol.NewError("I didn't catch that, could you repeat it?"))
		s.SetState(protocol.StatusIdle)
		return
	}

	s.Send(protocol.NewTranscript(text))
	p.HandleText(ctx, s, text, prefix)
}

// HandleText runs the canonical flavour. The prefix, when present, is
// prepended for the first attempt and stripped for the empty-response retry.
func (p *Pipeline) HandleText(ctx context.Context, s *session.Session, text, prefix string) {
	full := text
	if prefix != "" {
		full = prefix + " " + text
	}
	p.start(ctx, s, "text", llm.Message{Role: llm.RoleUser, Content: full}, full, text)
}

// HandleImage synthesises a multimodal user turn from a picture and an
// optional caption.
func (p *Pipeline) HandleImage(ctx context.Context, s *session.Session, data []byte, mime, caption string) {
	if mime == "" {
		mime = "image/jpeg"
	}
	content := caption
	if content == "" {
		content = "The user sent this image. Describe or react to it briefly."
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)

	summary := "[sent an image]"
	if caption != "" {
		summary = fmt.Sprintf("[sent an image: %s]", caption)
	}
	p.start(ctx, s, "image", llm.Message{Role: llm.RoleUser, Content: content, Images: []string{dataURL}}, summary, "")
}

// HandleFile inlines an uploaded text document into the prompt.
func (p *Pipeline) HandleFile(ctx context.Context, s *session.Session, data []byte, name string) {
	content := fmt.Sprintf("The user attached the file %q:\n\n%s\n\nAnswer their implied question or summarise it briefly.", name, shrinkAttachment(data))
	summary := fmt.Sprintf("[sent the file %s]", name)
	p.start(ctx, s, "file", llm.Message{Role: llm.RoleUser, Content: content}, summary, "")
}

// maxAttachmentChars bounds inlined file contents so a large upload cannot
// blow the model's context window.
const maxAttachmentChars = 12000

func shrinkAttachment(data []byte) string {
	text := string(data)
	if len(text) <= maxAttachmentChars {
		return text
	}
	half := maxAttachmentChars / 2
	return text[:half] + "\n[... middle of file omitted ...]\n" + text[len(text)-half:]
}

// Cancel aborts the in-flight run, if any. With bargeIn set, a
// stop_playback envelope precedes the idle status.
func (p *Pipeline) Cancel(s *session.Session, bargeIn bool) {
	p.mu.Lock()
	r := p.runs[s.ID]
	if r != nil {
		r.bargeIn = bargeIn
	}
	p.mu.Unlock()

	if r == nil {
		if bargeIn {
			s.Send(protocol.NewStopPlayback())
		}
		s.SetState(protocol.StatusIdle)
		return
	}
	r.cancel()
	<-r.done
}

// Busy reports whether a run is in flight for the session.
func (p *Pipeline) Busy(s *session.Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs[s.ID] != nil
}

// start cancels any prior run, registers a new one, and executes it. The
// cancelled run finishes its history fixup before the new one begins.
func (p *Pipeline) start(ctx context.Context, s *session.Session, flavour string, userMsg llm.Message, userSummary, retryText string) {
	p.mu.Lock()
	if prior := p.runs[s.ID]; prior != nil {
		p.mu.Unlock()
		prior.cancel()
		<-prior.done
		p.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, done: make(chan struct{}), userSum: userSummary}
	p.runs[s.ID] = r
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.runs[s.ID] == r {
			delete(p.runs, s.ID)
		}
		p.mu.Unlock()
		close(r.done)
		cancel()
	}()

	p.execute(runCtx, s, r, flavour, userMsg, retryText)
}

func (p *Pipeline) execute(ctx context.Context, s *session.Session, r *run, flavour string, userMsg llm.Message, retryText string) {
	ctx, span := otel.Tracer("clara").Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.flavour", flavour),
			attribute.String("session.id", s.ID),
		))
	defer span.End()
	started := time.Now()

	isAmbient := strings.HasPrefix(userMsg.Content, ambientMarker)

	// Heuristic search injection on the raw utterance, without any speaker
	// attribution prefix in the way.
	raw := retryText
	if raw == "" {
		raw = userMsg.Content
	}
	if !isAmbient && p.search != nil && len(userMsg.Images) == 0 {
		if query, ok := detectSearchIntent(raw); ok {
			if results, err := p.search.Search(ctx, query); err != nil {
				slog.Warn("pipeline: search failed, continuing without context", "session", s.ID, "error", err)
			} else if len(results) > 0 {
				userMsg.Content += searchBlock(query, results)
				span.SetAttributes(attribute.String("search.query", query), attribute.Int("search.results", len(results)))
			}
		}
	}

	s.SetState(protocol.StatusThinking)

	messages := p.assemble(s, userMsg)
	outcome := p.stream(ctx, s, r, messages)

	// Empty response on a direct text turn: retry once, prefix stripped.
	if outcome == outcomeEmpty && flavour == "text" && !isAmbient && retryText != "" {
		slog.Info("pipeline: empty response, retrying once", "session", s.ID)
		retry := p.assemble(s, llm.Message{Role: llm.RoleUser, Content: retryText})
		outcome = p.stream(ctx, s, r, retry)
	}

	switch outcome {
	case outcomeDone, outcomeError:
		p.commitHistory(s, r, false)
		s.Send(protocol.NewStreamDone())
		s.SetState(protocol.StatusIdle)
		metrics.PipelineRunsTotal.WithLabelValues(flavour, string(outcome)).Inc()
		span.SetStatus(codes.Ok, "run complete")
	case outcomeEmpty:
		// Nothing was said; leave history untouched so the dangling user
		// turn cannot skew the next prompt.
		s.Send(protocol.NewStreamDone())
		s.SetState(protocol.StatusIdle)
		metrics.PipelineRunsTotal.WithLabelValues(flavour, string(outcome)).Inc()
		span.SetStatus(codes.Ok, "run complete")
	case outcomeCancelled:
		p.commitHistory(s, r, true)
		if r.bargeIn {
			s.Send(protocol.NewStopPlayback())
		}
		s.SetState(protocol.StatusIdle)
		metrics.PipelineRunsTotal.WithLabelValues(flavour, "cancelled").Inc()
		span.SetStatus(codes.Ok, "run cancelled")
	}
	span.SetAttributes(attribute.Int64("run.duration_ms", time.Since(started).Milliseconds()))
}

// assemble builds the message list: system prompt, bounded history, then
// the current user content.
func (p *Pipeline) assemble(s *session.Session, userMsg llm.Message) []llm.Message {
	history := s.History()
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(s.WakeName(), s.OwnerName())})
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	return append(messages, userMsg)
}

type runOutcome string

const (
	outcomeDone      runOutcome = "ok"
	outcomeEmpty     runOutcome = "empty"
	outcomeError     runOutcome = "error"
	outcomeCancelled runOutcome = "cancelled"
)

// stream drives one LLM call: sentence splitting, per-sentence emission with
// concurrent TTS, post-stream extraction. The partial accumulator on r feeds
// the cancellation history fixup.
func (p *Pipeline) stream(ctx context.Context, s *session.Session, r *run, messages []llm.Message) runOutcome {
	r.mu.Lock()
	r.partial.Reset()
	r.clean = nil
	r.mu.Unlock()

	chunks, err := p.llm.Stream(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled
		}
		slog.Error("pipeline: LLM call failed", "session", s.ID, "error", err)
		s.Send(protocol.NewError("The model is unavailable right now."))
		return outcomeError
	}

	var (
		buffer     strings.Builder
		fullText   strings.Builder
		index      int
		runEmotion string
		streamErr  error
		started    = time.Now()
	)
	ttsGroup, ttsCtx := errgroup.WithContext(ctx)

	emit := func(raw string) {
		emotion, cleaned, tagged := parseEmotion(raw)
		cleaned = strings.TrimSpace(cleaned)
		if cleaned == "" {
			return
		}
		if !tagged {
			emotion = deriveEmotion(cleaned)
		}
		if index == 0 {
			runEmotion = emotion
			s.SetState(protocol.StatusSpeaking)
			s.Send(protocol.NewEmotion(runEmotion))
		}

		idx := index
		index++
		metrics.SentenceLatency.Observe(time.Since(started).Seconds())
		s.Send(protocol.NewReplyChunk(cleaned, idx, emotion))
		fullText.WriteString(cleaned)
		fullText.WriteString(" ")
		r.mu.Lock()
		r.clean = append(r.clean, cleaned)
		r.mu.Unlock()

		ttsGroup.Go(func() error {
			audio, err := p.tts.Synthesize(ttsCtx, cleaned, s.TTSEngine())
			if err != nil {
				// degrade this sentence silently
				slog.Warn("pipeline: sentence synthesis failed", "session", s.ID, "index", idx, "error", err)
				return nil
			}
			if len(audio) > 0 {
				s.Send(protocol.NewAudioChunk(base64.StdEncoding.EncodeToString(audio), idx, emotion, cleaned))
			}
			return nil
		})
	}

loop:
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			if ctx.Err() != nil {
				ttsGroup.Wait()
				return outcomeCancelled
			}
			streamErr = chunk.Error
			break loop
		case chunk.Done:
			break loop
		default:
			r.mu.Lock()
			r.partial.WriteString(chunk.Content)
			r.mu.Unlock()
			buffer.WriteString(chunk.Content)

			text := buffer.String()
			for {
				sentence, remaining := nextSentence(text)
				if sentence == "" {
					break
				}
				emit(sentence)
				text = remaining
			}
			buffer.Reset()
			buffer.WriteString(text)
		}
	}

	// flush the tail
	if tail := strings.TrimSpace(buffer.String()); tail != "" {
		emit(tail)
	}

	if streamErr != nil {
		slog.Error("pipeline: stream failed mid-run", "session", s.ID, "error", streamErr)
		s.Send(protocol.NewError("The reply was cut short."))
	}

	ttsGroup.Wait()

	if index == 0 && streamErr == nil {
		return outcomeEmpty
	}

	// Post-stream extraction over the concatenated cleaned text.
	full := strings.TrimSpace(fullText.String())
	remainder, buttons := extractButtons(full)
	for _, a := range extractArtifacts(remainder) {
		s.Send(protocol.NewArtifact("code", a.Content, a.Language, a.Title))
	}
	if len(buttons) > 0 {
		s.Send(protocol.NewButtons(buttons))
	}

	if streamErr != nil {
		return outcomeError
	}
	return outcomeDone
}

// commitHistory appends the user turn and the assistant turn. The assistant
// text is the concatenation of the cleaned chunks the client actually saw; a
// run cut off before any chunk falls back to the stripped raw accumulation.
// A cancelled run with no accumulated text commits nothing; with text, the
// assistant turn carries an interruption marker.
func (p *Pipeline) commitHistory(s *session.Session, r *run, interrupted bool) {
	r.mu.Lock()
	partial := strings.Join(r.clean, " ")
	if partial == "" {
		partial = strings.TrimSpace(stripEmotionTags(r.partial.String()))
	}
	r.mu.Unlock()

	if partial == "" {
		if !interrupted {
			s.AppendTurn(llm.RoleUser, r.userSum)
		}
		return
	}
	if interrupted {
		partial += "… [interrupted]"
	}
	s.AppendTurn(llm.RoleUser, r.userSum)
	s.AppendTurn(llm.RoleAssistant, partial)
}
