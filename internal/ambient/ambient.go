// Package ambient decides whether always-on speech segments deserve a reply.
// Segments are transcribed and speaker-identified in parallel, filtered by
// confidence and a rolling noise baseline, appended to the session's ambient
// context, and only then checked against the wake-name and question triggers.
package ambient

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/clara/internal/asr"
	"github.com/longregen/clara/internal/metrics"
	"github.com/longregen/clara/internal/session"
	"github.com/longregen/clara/internal/speakerid"
	"github.com/longregen/clara/pkg/otel"
	"github.com/longregen/clara/pkg/protocol"
	"github.com/longregen/clara/pkg/wav"
)

const (
	allowedLogProb    = -0.6
	allowedNoSpeech   = 0.5
	contextWindowSize = 5
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language, prompt string) (*asr.Result, error)
}

type SpeakerIdentifier interface {
	Identify(ctx context.Context, audio []byte) (*speakerid.Identification, error)
	Rename(ctx context.Context, oldName, newName string) error
}

// Runner is the slice of the pipeline the listener invokes.
type Runner interface {
	HandleText(ctx context.Context, s *session.Session, text, prefix string)
}

type Listener struct {
	asr      Transcriber
	speakers SpeakerIdentifier
	runner   Runner
	noise    noiseTracker
}

func New(transcriber Transcriber, speakers SpeakerIdentifier, runner Runner) *Listener {
	return &Listener{asr: transcriber, speakers: speakers, runner: runner}
}

// Process handles one smart-listen segment end to end. Segments arriving
// while another is in flight are dropped, not queued.
func (l *Listener) Process(ctx context.Context, s *session.Session, audio []byte) {
	if !s.TryClaimAmbient() {
		metrics.AmbientSegmentsTotal.WithLabelValues("dropped_busy").Inc()
		return
	}
	defer s.ReleaseAmbient()

	ctx, span := otel.Tracer("clara").Start(ctx, "ambient.segment",
		trace.WithAttributes(attribute.Int("audio.bytes", len(audio))))
	defer span.End()

	s.Send(protocol.NewSmartStatus(protocol.SmartTranscribing))
	defer s.Send(protocol.NewSmartStatus(protocol.SmartListening))

	l.noise.observe(pcmPayload(audio))

	res, ident := l.analyse(ctx, audio)
	text, disposition := l.filter(res)
	if disposition != "" {
		metrics.AmbientSegmentsTotal.WithLabelValues(disposition).Inc()
		span.SetAttributes(attribute.String("ambient.disposition", disposition))
		return
	}
	metrics.AmbientSegmentsTotal.WithLabelValues("accepted").Inc()

	label, isOwner, isKnown := l.resolveSpeaker(ctx, s, ident, text)

	s.AppendAmbient(session.AmbientEntry{
		Text:      text,
		Speaker:   label,
		IsOwner:   isOwner,
		Timestamp: time.Now(),
	})
	s.Send(protocol.NewAmbientTranscript(text, label, isOwner, isKnown))

	reason, respond := decide(text, s.WakeName())
	span.SetAttributes(attribute.Bool("ambient.respond", respond))
	if !respond {
		return
	}
	slog.Info("ambient: responding", "session", s.ID, "reason", reason, "speaker", label)
	span.SetAttributes(attribute.String("ambient.reason", reason))

	if reason == reasonName {
		cleaned := stripWakeName(text, s.WakeName())
		if cleaned == "" {
			cleaned = text
		}
		l.runner.HandleText(ctx, s, cleaned, "[Speaker "+label+"]:")
		return
	}
	l.runner.HandleText(ctx, s, contextWrapper(s.AmbientContext(), label, text), "")
}

// analyse runs transcription and speaker identification concurrently.
// Speaker-ID failure degrades to an unknown speaker, never an error.
func (l *Listener) analyse(ctx context.Context, audio []byte) (*asr.Result, *speakerid.Identification) {
	identCh := make(chan *speakerid.Identification, 1)
	go func() {
		if l.speakers == nil {
			identCh <- nil
			return
		}
		ident, err := l.speakers.Identify(ctx, audio)
		if err != nil {
			slog.Debug("ambient: speaker identification failed", "error", err)
			identCh <- nil
			return
		}
		identCh <- ident
	}()

	res, err := l.asr.Transcribe(ctx, audio, "", "")
	if err != nil {
		slog.Debug("ambient: transcription failed", "error", err)
		res = nil
	}
	return res, <-identCh
}

// filter applies the acceptance gauntlet. A non-empty disposition names the
// metric label for the drop.
func (l *Listener) filter(res *asr.Result) (string, string) {
	if res == nil {
		return "", "dropped_asr_error"
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", "dropped_empty"
	}
	if lang := strings.ToLower(res.Language); lang != "" && lang != "es" && lang != "en" {
		return "", "dropped_language"
	}
	if res.AvgLogProb() < allowedLogProb || res.MaxNoSpeechProb() > allowedNoSpeech {
		return "", "dropped_confidence"
	}
	if len(strings.Fields(text)) < l.noise.minWords() {
		return "", "dropped_short"
	}
	if asr.Garbage(text) {
		return "", "dropped_garbage"
	}
	return text, ""
}

// resolveSpeaker joins the identification result with the self-introduction
// rename pass.
func (l *Listener) resolveSpeaker(ctx context.Context, s *session.Session, ident *speakerid.Identification, text string) (label string, isOwner, isKnown bool) {
	label = "unknown"
	if ident != nil {
		if ident.SpeakerLabel != "" {
			label = ident.SpeakerLabel
		}
		isKnown = ident.Known
		// With no profiles enrolled yet, the first voice heard is the owner.
		isOwner = ident.AutoEnrolling || !ident.HasProfiles ||
			strings.EqualFold(label, s.OwnerName())
	}

	if l.speakers != nil && anonymousLabel(label) {
		if name, ok := selfIntroducedName(text); ok {
			if err := l.speakers.Rename(ctx, label, name); err != nil {
				slog.Warn("ambient: speaker rename failed", "session", s.ID, "from", label, "to", name, "error", err)
			} else {
				slog.Info("ambient: speaker self-introduced", "session", s.ID, "name", name)
				label = name
				isKnown = true
			}
		}
	}
	return label, isOwner, isKnown
}

// contextWrapper frames an indirect trigger with recent room conversation,
// excluding the utterance being answered.
func contextWrapper(entries []session.AmbientEntry, speaker, text string) string {
	if len(entries) > 0 {
		entries = entries[:len(entries)-1]
	}
	if len(entries) > contextWindowSize {
		entries = entries[len(entries)-contextWindowSize:]
	}

	var b strings.Builder
	b.WriteString("[Ambient conversation context:")
	for _, e := range entries {
		b.WriteString("\n")
		b.WriteString(e.Speaker)
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	b.WriteString("]\n[Speaker ")
	b.WriteString(speaker)
	b.WriteString(" just said: ")
	b.WriteString(text)
	b.WriteString("]")
	return b.String()
}

func pcmPayload(audio []byte) []byte {
	if wav.IsWAV(audio) && len(audio) > wav.HeaderSize {
		return audio[wav.HeaderSize:]
	}
	return audio
}
