package session

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/longregen/clara/pkg/protocol"
)

type captureSink struct {
	frames [][]byte
	fail   bool
}

func (c *captureSink) Deliver(data []byte) error {
	if c.fail {
		return fmt.Errorf("sink closed")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *captureSink) decoded(t *testing.T) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(c.frames))
	for _, frame := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Fatalf("bad frame %s: %v", frame, err)
		}
		out = append(out, m)
	}
	return out
}

func TestSendStampsMonotonicSeq(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)
	sink := &captureSink{}
	s.Attach(sink)

	for i := 0; i < 5; i++ {
		s.Send(protocol.NewTranscript(fmt.Sprintf("turn %d", i)))
	}

	frames := sink.decoded(t)
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(frames))
	}
	for i, frame := range frames {
		if got := int64(frame["sseq"].(float64)); got != int64(i+1) {
			t.Errorf("frame %d: sseq %d", i, got)
		}
	}
}

func TestReplayAfterSeq(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)
	sink := &captureSink{}
	s.Attach(sink)

	s.Send(protocol.NewTranscript("uno"))
	s.Send(protocol.NewReplyChunk("dos", 0, protocol.EmotionNeutral))
	s.Send(protocol.NewStreamDone())
	s.Detach()

	// reconnect knowing only seq 1
	sink2 := &captureSink{}
	s.Attach(sink2)
	s.Replay(1)

	frames := sink2.decoded(t)
	if len(frames) != 2 {
		t.Fatalf("expected 2 replayed frames, got %d", len(frames))
	}
	wantSeqs := []int64{2, 3}
	for i, frame := range frames {
		if got := int64(frame["sseq"].(float64)); got != wantSeqs[i] {
			t.Errorf("frame %d: sseq %d, want %d", i, got, wantSeqs[i])
		}
		if replay, _ := frame["replay"].(bool); !replay {
			t.Errorf("frame %d: replay flag not set", i)
		}
	}
}

func TestEphemeralEnvelopesNotBuffered(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)
	sink := &captureSink{}
	s.Attach(sink)

	s.Send(protocol.NewAuthAck(s.ID, 0))
	s.Send(protocol.NewPong())
	s.Send(protocol.NewSmartStatus(protocol.SmartListening))
	s.Send(protocol.NewTranscript("buffered"))
	s.Detach()

	sink2 := &captureSink{}
	s.Attach(sink2)
	s.Replay(0)

	frames := sink2.decoded(t)
	if len(frames) != 1 {
		t.Fatalf("expected only the transcript to replay, got %d frames", len(frames))
	}
	if frames[0]["type"] != "transcript" {
		t.Errorf("unexpected replayed type %v", frames[0]["type"])
	}
	// ephemeral envelopes still consumed sequence numbers
	if got := int64(frames[0]["sseq"].(float64)); got != 4 {
		t.Errorf("transcript sseq: got %d, want 4", got)
	}
}

func TestReplayBufferEviction(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)
	for i := 0; i < replayBufferSize+10; i++ {
		s.Send(protocol.NewTranscript(fmt.Sprintf("m%d", i)))
	}

	sink := &captureSink{}
	s.Attach(sink)
	s.Replay(0)

	frames := sink.decoded(t)
	if len(frames) != replayBufferSize {
		t.Fatalf("expected %d frames, got %d", replayBufferSize, len(frames))
	}
	// contiguous suffix of emitted history
	first := int64(frames[0]["sseq"].(float64))
	if first != 11 {
		t.Errorf("oldest surviving seq: got %d, want 11", first)
	}
}

func TestHistoryBound(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)
	for i := 0; i < HistoryExchanges+5; i++ {
		s.AppendTurn("user", fmt.Sprintf("q%d", i))
		s.AppendTurn("assistant", fmt.Sprintf("a%d", i))
	}

	history := s.History()
	if len(history) != maxHistory {
		t.Fatalf("history length %d, want %d", len(history), maxHistory)
	}
	if history[0].Content != "q5" {
		t.Errorf("oldest surviving turn: got %q, want q5", history[0].Content)
	}

	s.ClearHistory()
	if len(s.History()) != 0 {
		t.Error("history not cleared")
	}
}

func TestAmbientPruning(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)
	now := time.Now()

	s.AppendAmbient(AmbientEntry{Text: "old", Timestamp: now.Add(-6 * time.Minute)})
	for i := 0; i < maxAmbientEntries+5; i++ {
		s.AppendAmbient(AmbientEntry{Text: fmt.Sprintf("e%d", i), Timestamp: now})
	}

	entries := s.AmbientContext()
	if len(entries) != maxAmbientEntries {
		t.Fatalf("ambient length %d, want %d", len(entries), maxAmbientEntries)
	}
	for _, e := range entries {
		if e.Text == "old" {
			t.Error("stale entry survived pruning")
		}
	}
}

func TestCseqDedup(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)

	if !s.AcceptCseq(1) {
		t.Error("first cseq rejected")
	}
	if !s.AcceptCseq(2) {
		t.Error("next cseq rejected")
	}
	if s.AcceptCseq(2) {
		t.Error("duplicate cseq accepted")
	}
	if s.AcceptCseq(1) {
		t.Error("stale cseq accepted")
	}
	if !s.AcceptCseq(0) {
		t.Error("unnumbered envelope rejected")
	}
}

func TestAmbientBusySlot(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)

	if !s.TryClaimAmbient() {
		t.Fatal("first claim failed")
	}
	if s.TryClaimAmbient() {
		t.Error("second claim succeeded while busy")
	}
	s.ReleaseAmbient()
	if !s.TryClaimAmbient() {
		t.Error("claim after release failed")
	}
}

func TestSetStateEmitsOnChange(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)
	sink := &captureSink{}
	s.Attach(sink)

	s.SetState(protocol.StatusThinking)
	s.SetState(protocol.StatusThinking) // no-op
	s.SetState(protocol.StatusIdle)

	frames := sink.decoded(t)
	if len(frames) != 2 {
		t.Fatalf("expected 2 status envelopes, got %d", len(frames))
	}
	if frames[0]["state"] != protocol.StatusThinking || frames[1]["state"] != protocol.StatusIdle {
		t.Errorf("unexpected states: %v", frames)
	}
}

func TestManagerExpiry(t *testing.T) {
	m := NewManager("Clara", "", protocol.TTSEngineCloud)
	s := m.Create()
	attached := m.Create()
	attached.Attach(&captureSink{})

	if _, ok := m.Get(s.ID); !ok {
		t.Fatal("created session not found")
	}

	m.reapExpired(time.Now().Add(Expiry + time.Minute))

	if _, ok := m.Get(s.ID); ok {
		t.Error("detached session survived expiry")
	}
	if _, ok := m.Get(attached.ID); !ok {
		t.Error("attached session was reaped")
	}
}

func TestDeliveryFailureDetaches(t *testing.T) {
	s := New("Clara", "", protocol.TTSEngineCloud)
	s.Attach(&captureSink{fail: true})

	s.Send(protocol.NewTranscript("hola"))
	if s.Attached() {
		t.Error("session still attached after delivery failure")
	}

	// the envelope must still be in the replay buffer
	sink := &captureSink{}
	s.Attach(sink)
	s.Replay(0)
	if len(sink.frames) != 1 {
		t.Errorf("expected buffered envelope to replay, got %d", len(sink.frames))
	}
}
