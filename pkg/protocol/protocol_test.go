package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseInbound(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		check func(t *testing.T, in *Inbound)
	}{
		{
			name:  "auth with reattach",
			frame: `{"type":"auth","token":"tok","sessionId":"sess-abc","lastServerSeq":41}`,
			check: func(t *testing.T, in *Inbound) {
				if in.Auth == nil {
					t.Fatal("auth payload not bound")
				}
				if in.Auth.Token != "tok" || in.Auth.SessionID != "sess-abc" || in.Auth.LastServerSeq != 41 {
					t.Errorf("unexpected auth payload: %+v", in.Auth)
				}
			},
		},
		{
			name:  "text with cseq",
			frame: `{"type":"text","cseq":7,"text":"hola"}`,
			check: func(t *testing.T, in *Inbound) {
				if in.Cseq != 7 {
					t.Errorf("cseq: expected 7, got %d", in.Cseq)
				}
				if in.Text == nil || in.Text.Text != "hola" {
					t.Errorf("unexpected text payload: %+v", in.Text)
				}
			},
		},
		{
			name:  "bare control frame",
			frame: `{"type":"barge_in"}`,
			check: func(t *testing.T, in *Inbound) {
				if in.Type != TypeBargeIn {
					t.Errorf("type: expected barge_in, got %s", in.Type)
				}
			},
		},
		{
			name:  "enroll with append",
			frame: `{"type":"enroll_audio","data":"QUJD","name":"Marta","append":true}`,
			check: func(t *testing.T, in *Inbound) {
				if in.EnrollAudio == nil || in.EnrollAudio.Name != "Marta" || !in.EnrollAudio.Append {
					t.Errorf("unexpected enroll payload: %+v", in.EnrollAudio)
				}
			},
		},
		{
			name:  "device response",
			frame: `{"type":"device_response","id":"dev-1","status":"ok","result":{"text":"copied"}}`,
			check: func(t *testing.T, in *Inbound) {
				if in.DeviceResponse == nil || in.DeviceResponse.ID != "dev-1" {
					t.Fatalf("unexpected device response: %+v", in.DeviceResponse)
				}
				if len(in.DeviceResponse.Result) == 0 {
					t.Error("result payload dropped")
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := ParseInbound([]byte(tc.frame))
			if err != nil {
				t.Fatalf("ParseInbound failed: %v", err)
			}
			tc.check(t, in)
		})
	}
}

func TestParseInboundUnknownType(t *testing.T) {
	_, err := ParseInbound([]byte(`{"type":"telepathy"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestParseInboundMalformed(t *testing.T) {
	if _, err := ParseInbound([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestOutboundWireShape(t *testing.T) {
	msg := NewReplyChunk("Claro que sí.", 2, EmotionHappy)
	msg.SetSeq(13)

	raw, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded["type"] != "reply_chunk" {
		t.Errorf("type: got %v", decoded["type"])
	}
	if decoded["sseq"] != float64(13) {
		t.Errorf("sseq: got %v", decoded["sseq"])
	}
	if _, present := decoded["replay"]; present {
		t.Error("replay flag must be omitted when unset")
	}
	if decoded["emotion"] != EmotionHappy {
		t.Errorf("emotion: got %v", decoded["emotion"])
	}
}

func TestReplayFlagSurvivesMarshal(t *testing.T) {
	msg := NewStreamDone()
	msg.SetSeq(5)
	msg.MarkReplay()

	raw, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded struct {
		Type   Type  `json:"type"`
		Seq    int64 `json:"sseq"`
		Replay bool  `json:"replay"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.Replay || decoded.Seq != 5 || decoded.Type != TypeStreamDone {
		t.Errorf("unexpected replayed frame: %+v", decoded)
	}
}

func TestEphemeral(t *testing.T) {
	for _, typ := range []Type{TypePong, TypeSmartStatus, TypeAuth} {
		if !Ephemeral(typ) {
			t.Errorf("%s must be ephemeral", typ)
		}
	}
	for _, typ := range []Type{TypeReplyChunk, TypeAudioChunk, TypeStreamDone, TypeStatus} {
		if Ephemeral(typ) {
			t.Errorf("%s must be buffered for replay", typ)
		}
	}
}

func TestValidEmotion(t *testing.T) {
	for _, e := range Emotions {
		if !ValidEmotion(e) {
			t.Errorf("%s rejected", e)
		}
	}
	if ValidEmotion("ecstatic") {
		t.Error("out-of-set label accepted")
	}
}
