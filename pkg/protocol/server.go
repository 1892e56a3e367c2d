package protocol

import "encoding/json"

// Header carries the fields common to every server-to-client envelope. The
// session layer stamps Seq just before the envelope leaves; Replay is set
// only on re-emission after a reconnect.
type Header struct {
	Type   Type  `json:"type"`
	Seq    int64 `json:"sseq"`
	Replay bool  `json:"replay,omitempty"`
}

func (h *Header) Kind() Type        { return h.Type }
func (h *Header) SetSeq(seq int64)  { h.Seq = seq }
func (h *Header) GetSeq() int64     { return h.Seq }
func (h *Header) MarkReplay()       { h.Replay = true }

// Outbound is implemented by every server-to-client envelope.
type Outbound interface {
	Kind() Type
	SetSeq(int64)
	GetSeq() int64
	MarkReplay()
}

// Ephemeral envelopes are never buffered for replay: they carry no
// user-visible state a reconnecting client could miss.
func Ephemeral(t Type) bool {
	switch t {
	case TypePong, TypeSmartStatus, TypeAuth:
		return true
	}
	return false
}

// Marshal encodes an outbound envelope for the wire.
func Marshal(msg Outbound) ([]byte, error) {
	return json.Marshal(msg)
}

// AuthAck acknowledges an auth envelope. ServerSeq tells the client where the
// outbound sequence stands so it can detect gaps.
type AuthAck struct {
	Header
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	ServerSeq int64  `json:"serverSeq"`
	Error     string `json:"error,omitempty"`
}

func NewAuthAck(sessionID string, serverSeq int64) *AuthAck {
	return &AuthAck{Header: Header{Type: TypeAuth}, Status: "ok", SessionID: sessionID, ServerSeq: serverSeq}
}

func NewAuthError(reason string) *AuthAck {
	return &AuthAck{Header: Header{Type: TypeAuth}, Status: "error", Error: reason}
}

// Status reports the session state machine position.
type Status struct {
	Header
	State string `json:"state"`
}

func NewStatus(state string) *Status {
	return &Status{Header: Header{Type: TypeStatus}, State: state}
}

// Transcript echoes a push-to-talk transcription back to the client.
type Transcript struct {
	Header
	Text string `json:"text"`
}

func NewTranscript(text string) *Transcript {
	return &Transcript{Header: Header{Type: TypeTranscript}, Text: text}
}

// ReplyChunk is one sentence of the streamed reply.
type ReplyChunk struct {
	Header
	Text    string `json:"text"`
	Index   int    `json:"index"`
	Emotion string `json:"emotion"`
}

func NewReplyChunk(text string, index int, emotion string) *ReplyChunk {
	return &ReplyChunk{Header: Header{Type: TypeReplyChunk}, Text: text, Index: index, Emotion: emotion}
}

// AudioChunk carries the synthesized audio for one sentence. Audio for
// indices k and k+1 may arrive in either order; clients reorder by Index.
type AudioChunk struct {
	Header
	Data    string `json:"data"`
	Index   int    `json:"index"`
	Emotion string `json:"emotion"`
	Text    string `json:"text"`
}

func NewAudioChunk(data string, index int, emotion, text string) *AudioChunk {
	return &AudioChunk{Header: Header{Type: TypeAudioChunk}, Data: data, Index: index, Emotion: emotion, Text: text}
}

// StreamDone signals that a run completed and all audio chunks have settled.
type StreamDone struct {
	Header
}

func NewStreamDone() *StreamDone {
	return &StreamDone{Header: Header{Type: TypeStreamDone}}
}

// StopPlayback tells the client to empty its audio queue immediately.
type StopPlayback struct {
	Header
}

func NewStopPlayback() *StopPlayback {
	return &StopPlayback{Header: Header{Type: TypeStopPlayback}}
}

// HistoryCleared confirms a clear_history request.
type HistoryCleared struct {
	Header
}

func NewHistoryCleared() *HistoryCleared {
	return &HistoryCleared{Header: Header{Type: TypeHistoryCleared}}
}

// Emotion announces the run-level emotion before the first sentence.
type Emotion struct {
	Header
	Emotion string `json:"emotion"`
}

func NewEmotion(emotion string) *Emotion {
	return &Emotion{Header: Header{Type: TypeEmotion}, Emotion: emotion}
}

// AmbientTranscript echoes an accepted ambient utterance.
type AmbientTranscript struct {
	Header
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
	IsOwner bool   `json:"isOwner"`
	IsKnown bool   `json:"isKnown"`
}

func NewAmbientTranscript(text, speaker string, isOwner, isKnown bool) *AmbientTranscript {
	return &AmbientTranscript{Header: Header{Type: TypeAmbientTranscript}, Text: text, Speaker: speaker, IsOwner: isOwner, IsKnown: isKnown}
}

// SmartStatus reports smart-listen progress. Ephemeral.
type SmartStatus struct {
	Header
	State string `json:"state"`
}

func NewSmartStatus(state string) *SmartStatus {
	return &SmartStatus{Header: Header{Type: TypeSmartStatus}, State: state}
}

// Artifact is a long code block extracted from the reply for out-of-band display.
type Artifact struct {
	Header
	ArtifactType string `json:"artifactType"`
	Content      string `json:"content"`
	Language     string `json:"language,omitempty"`
	Title        string `json:"title,omitempty"`
}

func NewArtifact(artifactType, content, language, title string) *Artifact {
	return &Artifact{Header: Header{Type: TypeArtifact}, ArtifactType: artifactType, Content: content, Language: language, Title: title}
}

// Buttons carries quick-reply options parsed from the reply tail.
type Buttons struct {
	Header
	Options []ButtonOption `json:"options"`
}

func NewButtons(options []ButtonOption) *Buttons {
	return &Buttons{Header: Header{Type: TypeButtons}, Options: options}
}

// Settings reports the session's effective configuration.
type Settings struct {
	Header
	WakeName  string `json:"wakeName"`
	OwnerName string `json:"ownerName,omitempty"`
	TTSEngine string `json:"ttsEngine"`
	Language  string `json:"language,omitempty"`
}

func NewSettings(wakeName, ownerName, ttsEngine, language string) *Settings {
	return &Settings{Header: Header{Type: TypeSettings}, WakeName: wakeName, OwnerName: ownerName, TTSEngine: ttsEngine, Language: language}
}

// TTSEngineAck confirms an engine switch.
type TTSEngineAck struct {
	Header
	Engine string `json:"engine"`
	Status string `json:"status"`
}

func NewTTSEngineAck(engine, status string) *TTSEngineAck {
	return &TTSEngineAck{Header: Header{Type: TypeTTSEngine}, Engine: engine, Status: status}
}

// ProfileList reports the speaker profiles known to the speaker-ID service.
type ProfileList struct {
	Header
	Profiles []SpeakerProfile `json:"profiles"`
}

func NewProfileList(profiles []SpeakerProfile) *ProfileList {
	return &ProfileList{Header: Header{Type: TypeProfiles}, Profiles: profiles}
}

// EnrollResult reports the outcome of an enrollment upload.
type EnrollResult struct {
	Header
	Success bool   `json:"success"`
	Name    string `json:"name,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewEnrollResult(success bool, name, errMsg string) *EnrollResult {
	return &EnrollResult{Header: Header{Type: TypeEnrollResult}, Success: success, Name: name, Error: errMsg}
}

// RenameResult reports the outcome of a speaker rename.
type RenameResult struct {
	Header
	Success bool   `json:"success"`
	Old     string `json:"old,omitempty"`
	New     string `json:"new,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewRenameResult(success bool, oldName, newName, errMsg string) *RenameResult {
	return &RenameResult{Header: Header{Type: TypeRenameResult}, Success: success, Old: oldName, New: newName, Error: errMsg}
}

// ResetResult reports the outcome of a profile reset.
type ResetResult struct {
	Header
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func NewResetResult(success bool, errMsg string) *ResetResult {
	return &ResetResult{Header: Header{Type: TypeResetResult}, Success: success, Error: errMsg}
}

// ErrorMessage conveys an in-band, non-fatal error.
type ErrorMessage struct {
	Header
	Message string `json:"message"`
}

func NewError(message string) *ErrorMessage {
	return &ErrorMessage{Header: Header{Type: TypeError}, Message: message}
}

// Pong answers a ping. Ephemeral.
type Pong struct {
	Header
}

func NewPong() *Pong {
	return &Pong{Header: Header{Type: TypePong}}
}

// DeviceCommand asks the client device to perform an action; the client
// answers with a device_response correlated by ID.
type DeviceCommand struct {
	Header
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

func NewDeviceCommand(id, command string, params map[string]any) *DeviceCommand {
	return &DeviceCommand{Header: Header{Type: TypeDeviceCommand}, ID: id, Command: command, Params: params}
}
