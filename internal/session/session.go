// Package session holds per-client conversational state: bounded history,
// ambient context, the outbound sequence and replay buffer, and the
// UI-visible state machine. Sessions survive transport drops and expire
// after five minutes without an attached connection.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/longregen/clara/internal/metrics"
	"github.com/longregen/clara/pkg/protocol"
	"github.com/longregen/clara/shared/id"
)

const (
	// HistoryExchanges bounds the conversation window to the last N
	// user/assistant exchanges, so at most 2N messages.
	HistoryExchanges = 10
	maxHistory       = 2 * HistoryExchanges

	// Ambient context bounds.
	maxAmbientEntries = 20
	ambientWindow     = 5 * time.Minute

	// replayBufferSize bounds the reconnect buffer.
	replayBufferSize = 40

	// Expiry is how long a detached session survives.
	Expiry = 5 * time.Minute
)

// Turn is one committed conversation message.
type Turn struct {
	Role    string
	Content string
}

// AmbientEntry is one accepted ambient utterance.
type AmbientEntry struct {
	Text      string
	Speaker   string
	IsOwner   bool
	Timestamp time.Time
}

// Sink receives marshaled outbound envelopes. The attached connection
// implements it; delivery failure detaches the connection but keeps the
// session alive.
type Sink interface {
	Deliver(data []byte) error
}

// Session is the unit of conversational state. All fields are guarded by mu;
// the inbound dispatcher and the pipeline task both mutate it.
type Session struct {
	ID string

	mu sync.Mutex

	history      []Turn
	ambient      []AmbientEntry
	serverSeq    int64
	replayBuffer []protocol.Outbound
	lastCseq     int64

	wakeName  string
	ownerName string
	ttsEngine string
	state     string

	capabilities *protocol.DeviceCapabilities

	sink         Sink
	lastDetached time.Time

	// AmbientBusy guards against re-entrant ambient ASR calls. The
	// listener claims it with CompareAndSwap semantics via TryClaimAmbient.
	ambientBusy bool
}

// New creates a session with server-wide defaults.
func New(wakeName, ownerName, ttsEngine string) *Session {
	return &Session{
		ID:           id.NewSession(),
		wakeName:     wakeName,
		ownerName:    ownerName,
		ttsEngine:    ttsEngine,
		state:        protocol.StatusIdle,
		lastDetached: time.Now(),
	}
}

// Attach binds a connection. The previous sink, if any, is replaced;
// connections attach in sequence, never concurrently.
func (s *Session) Attach(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.lastDetached = time.Time{}
}

// Detach unbinds the connection and starts the expiry clock.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
	s.lastDetached = time.Now()
}

// DetachSink unbinds only when sink is still the bound connection, so a
// stale connection closing late cannot detach its successor.
func (s *Session) DetachSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == sink {
		s.sink = nil
		s.lastDetached = time.Now()
	}
}

// Attached reports whether a connection is bound.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

// Expired reports whether the session has been detached longer than the
// expiry window.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink == nil && !s.lastDetached.IsZero() && now.Sub(s.lastDetached) > Expiry
}

// Send stamps the envelope with the next sequence number, buffers it unless
// ephemeral, and delivers it to the attached connection. A detached session
// still buffers, so the envelope reaches the client on replay.
func (s *Session) Send(msg protocol.Outbound) {
	s.mu.Lock()
	s.serverSeq++
	msg.SetSeq(s.serverSeq)

	if !protocol.Ephemeral(msg.Kind()) {
		s.replayBuffer = append(s.replayBuffer, msg)
		if len(s.replayBuffer) > replayBufferSize {
			s.replayBuffer = s.replayBuffer[len(s.replayBuffer)-replayBufferSize:]
		}
	}
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		return
	}
	data, err := protocol.Marshal(msg)
	if err != nil {
		slog.Error("session: marshal outbound failed", "session", s.ID, "type", msg.Kind(), "error", err)
		return
	}
	if err := sink.Deliver(data); err != nil {
		slog.Warn("session: deliver failed, detaching", "session", s.ID, "error", err)
		s.Detach()
	}
}

// ServerSeq returns the current outbound sequence position.
func (s *Session) ServerSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSeq
}

// Replay re-emits every buffered envelope with sequence above afterSeq, in
// original order and with original sequence numbers, marked as replays.
func (s *Session) Replay(afterSeq int64) {
	s.mu.Lock()
	var pending []protocol.Outbound
	for _, msg := range s.replayBuffer {
		if msg.GetSeq() > afterSeq {
			msg.MarkReplay()
			pending = append(pending, msg)
		}
	}
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		return
	}
	for _, msg := range pending {
		data, err := protocol.Marshal(msg)
		if err != nil {
			slog.Error("session: marshal replay failed", "session", s.ID, "error", err)
			continue
		}
		if err := sink.Deliver(data); err != nil {
			slog.Warn("session: replay deliver failed", "session", s.ID, "error", err)
			s.Detach()
			return
		}
		metrics.ReplayedEnvelopesTotal.Inc()
	}
	if len(pending) > 0 {
		slog.Info("session: replayed buffered envelopes", "session", s.ID, "count", len(pending), "after_seq", afterSeq)
	}
}

// AcceptCseq reports whether an inbound sequence number is new. Duplicates
// from reconnect races are dropped by the caller.
func (s *Session) AcceptCseq(cseq int64) bool {
	if cseq == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cseq <= s.lastCseq {
		return false
	}
	s.lastCseq = cseq
	return true
}

// AppendTurn commits a conversation turn, evicting the oldest exchange when
// the window overflows.
func (s *Session) AppendTurn(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: role, Content: content})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// History returns a copy of the committed turns.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// ClearHistory drops all committed turns.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// AppendAmbient records an accepted ambient utterance and prunes the buffer
// to the size and age bounds.
func (s *Session) AppendAmbient(entry AmbientEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ambient = append(s.ambient, entry)
	s.pruneAmbientLocked(time.Now())
}

// AmbientContext returns the pruned ambient entries, oldest first.
func (s *Session) AmbientContext() []AmbientEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneAmbientLocked(time.Now())
	out := make([]AmbientEntry, len(s.ambient))
	copy(out, s.ambient)
	return out
}

func (s *Session) pruneAmbientLocked(now time.Time) {
	cutoff := now.Add(-ambientWindow)
	start := 0
	for start < len(s.ambient) && s.ambient[start].Timestamp.Before(cutoff) {
		start++
	}
	s.ambient = s.ambient[start:]
	if len(s.ambient) > maxAmbientEntries {
		s.ambient = s.ambient[len(s.ambient)-maxAmbientEntries:]
	}
}

// TryClaimAmbient attempts to take the single ambient processing slot.
func (s *Session) TryClaimAmbient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ambientBusy {
		return false
	}
	s.ambientBusy = true
	return true
}

// ReleaseAmbient frees the ambient processing slot.
func (s *Session) ReleaseAmbient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ambientBusy = false
}

// SetState transitions the UI-visible state machine and emits the status
// envelope when the state actually changes.
func (s *Session) SetState(state string) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.Send(protocol.NewStatus(state))
	}
}

// State returns the current UI-visible state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WakeName returns the session's wake-name.
func (s *Session) WakeName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeName
}

// SetWakeName overrides the server-wide default for this session.
func (s *Session) SetWakeName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakeName = name
}

// OwnerName returns the configured owner display name.
func (s *Session) OwnerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerName
}

// TTSEngine returns the session's synthesis engine.
func (s *Session) TTSEngine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttsEngine
}

// SetTTSEngine switches the session's synthesis engine.
func (s *Session) SetTTSEngine(engine string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttsEngine = engine
}

// SetCapabilities records the device capability descriptor.
func (s *Session) SetCapabilities(caps *protocol.DeviceCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities = caps
}

// Capabilities returns the declared device capabilities, or nil.
func (s *Session) Capabilities() *protocol.DeviceCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}
