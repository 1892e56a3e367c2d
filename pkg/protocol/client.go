package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType marks an inbound envelope whose type tag is outside the
// closed set. Callers log and drop these instead of failing the connection.
var ErrUnknownType = errors.New("protocol: unknown envelope type")

// Inbound is a decoded client-to-server envelope. Type selects which payload
// pointer is non-nil; Cseq is zero when the client did not number the frame.
type Inbound struct {
	Type Type
	Cseq int64

	Auth           *Auth
	Audio          *Audio
	AmbientAudio   *AmbientAudio
	Text           *Text
	Image          *Image
	File           *File
	Replay         *Replay
	SetBotName     *SetBotName
	EnrollAudio    *EnrollAudio
	RenameSpeaker  *RenameSpeaker
	SetTTSEngine   *SetTTSEngine
	Capabilities   *DeviceCapabilities
	DeviceResponse *DeviceResponse
}

// Auth opens or re-attaches a session.
type Auth struct {
	Token         string `json:"token"`
	SessionID     string `json:"sessionId,omitempty"`
	LastServerSeq int64  `json:"lastServerSeq,omitempty"`
}

// Audio is a complete push-to-talk utterance, base64 PCM or WAV.
type Audio struct {
	Data   string `json:"data"`
	Prefix string `json:"prefix,omitempty"`
}

// AmbientAudio is a chunk captured by the always-on listener.
type AmbientAudio struct {
	Data string `json:"data"`
}

// Text is a typed message, bypassing transcription.
type Text struct {
	Text   string `json:"text"`
	Prefix string `json:"prefix,omitempty"`
}

// Image is a captured or uploaded picture for the vision path.
type Image struct {
	Data    string `json:"data"`
	Mime    string `json:"mime,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// File is a document upload whose text is inlined into the prompt.
type File struct {
	Data string `json:"data"`
	Name string `json:"name"`
}

// Replay requests re-emission of buffered envelopes after a seq.
type Replay struct {
	AfterSeq int64 `json:"afterSeq"`
}

// SetBotName changes the session's wake name.
type SetBotName struct {
	Name string `json:"name"`
}

// EnrollAudio uploads a voice sample for speaker enrollment.
type EnrollAudio struct {
	Data   string `json:"data"`
	Name   string `json:"name"`
	Append bool   `json:"append,omitempty"`
}

// RenameSpeaker renames an enrolled profile.
type RenameSpeaker struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// SetTTSEngine switches the synthesis engine for the session.
type SetTTSEngine struct {
	Engine string `json:"engine"`
}

// DeviceResponse answers an earlier device_command, correlated by ID.
type DeviceResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type inboundHeader struct {
	Type Type  `json:"type"`
	Cseq int64 `json:"cseq,omitempty"`
}

// ParseInbound decodes one client frame. The type tag is read first so the
// payload can be bound to its concrete struct; frames outside the closed set
// return ErrUnknownType with the offending tag attached.
func ParseInbound(data []byte) (*Inbound, error) {
	var hdr inboundHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("decode envelope header: %w", err)
	}

	in := &Inbound{Type: hdr.Type, Cseq: hdr.Cseq}

	var payload any
	switch hdr.Type {
	case TypeAuth:
		in.Auth = &Auth{}
		payload = in.Auth
	case TypeAudio:
		in.Audio = &Audio{}
		payload = in.Audio
	case TypeAmbientAudio:
		in.AmbientAudio = &AmbientAudio{}
		payload = in.AmbientAudio
	case TypeText:
		in.Text = &Text{}
		payload = in.Text
	case TypeImage:
		in.Image = &Image{}
		payload = in.Image
	case TypeFile:
		in.File = &File{}
		payload = in.File
	case TypeReplay:
		in.Replay = &Replay{}
		payload = in.Replay
	case TypeSetBotName:
		in.SetBotName = &SetBotName{}
		payload = in.SetBotName
	case TypeEnrollAudio:
		in.EnrollAudio = &EnrollAudio{}
		payload = in.EnrollAudio
	case TypeRenameSpeaker:
		in.RenameSpeaker = &RenameSpeaker{}
		payload = in.RenameSpeaker
	case TypeSetTTSEngine:
		in.SetTTSEngine = &SetTTSEngine{}
		payload = in.SetTTSEngine
	case TypeCapabilities:
		in.Capabilities = &DeviceCapabilities{}
		payload = in.Capabilities
	case TypeDeviceResponse:
		in.DeviceResponse = &DeviceResponse{}
		payload = in.DeviceResponse
	case TypeCancel, TypeBargeIn, TypeClearHistory, TypeGetProfiles,
		TypeResetSpeakers, TypeGetSettings, TypePing:
		return in, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, hdr.Type)
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", hdr.Type, err)
	}
	return in, nil
}
