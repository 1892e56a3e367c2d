// Package protocol defines the JSON envelopes exchanged over the duplex
// client channel. Server-to-client envelopes carry a monotonic sseq and an
// optional replay flag; client-to-server envelopes may carry a cseq used for
// deduplication across reconnects.
package protocol

// Type tags every envelope in both directions.
type Type string

// Client → server.
const (
	TypeAuth           Type = "auth"
	TypeAudio          Type = "audio"
	TypeAmbientAudio   Type = "ambient_audio"
	TypeText           Type = "text"
	TypeImage          Type = "image"
	TypeFile           Type = "file"
	TypeCancel         Type = "cancel"
	TypeBargeIn        Type = "barge_in"
	TypeClearHistory   Type = "clear_history"
	TypeReplay         Type = "replay"
	TypeSetBotName     Type = "set_bot_name"
	TypeEnrollAudio    Type = "enroll_audio"
	TypeGetProfiles    Type = "get_profiles"
	TypeRenameSpeaker  Type = "rename_speaker"
	TypeResetSpeakers  Type = "reset_speakers"
	TypeSetTTSEngine   Type = "set_tts_engine"
	TypeGetSettings    Type = "get_settings"
	TypePing           Type = "ping"
	TypeCapabilities   Type = "capabilities"
	TypeDeviceResponse Type = "device_response"
)

// Server → client. TypeAuth is shared: the auth ack reuses the tag.
const (
	TypeStatus            Type = "status"
	TypeTranscript        Type = "transcript"
	TypeReplyChunk        Type = "reply_chunk"
	TypeAudioChunk        Type = "audio_chunk"
	TypeStreamDone        Type = "stream_done"
	TypeStopPlayback      Type = "stop_playback"
	TypeHistoryCleared    Type = "history_cleared"
	TypeEmotion           Type = "emotion"
	TypeAmbientTranscript Type = "ambient_transcript"
	TypeSmartStatus       Type = "smart_status"
	TypeArtifact          Type = "artifact"
	TypeButtons           Type = "buttons"
	TypeSettings          Type = "settings"
	TypeTTSEngine         Type = "tts_engine"
	TypeProfiles          Type = "profiles"
	TypeEnrollResult      Type = "enroll_result"
	TypeRenameResult      Type = "rename_result"
	TypeResetResult       Type = "reset_result"
	TypeError             Type = "error"
	TypePong              Type = "pong"
	TypeDeviceCommand     Type = "device_command"
)

// Status states visible to the UI.
const (
	StatusIdle         = "idle"
	StatusTranscribing = "transcribing"
	StatusThinking     = "thinking"
	StatusSpeaking     = "speaking"
)

// Smart-listen states.
const (
	SmartListening    = "listening"
	SmartTranscribing = "transcribing"
)

// Emotion labels form a closed set; the LLM is instructed to tag every
// sentence with one of these.
const (
	EmotionHappy     = "happy"
	EmotionSad       = "sad"
	EmotionSurprised = "surprised"
	EmotionThinking  = "thinking"
	EmotionConfused  = "confused"
	EmotionLaughing  = "laughing"
	EmotionNeutral   = "neutral"
	EmotionAngry     = "angry"
	EmotionLove      = "love"
)

// Emotions lists every valid label.
var Emotions = []string{
	EmotionHappy, EmotionSad, EmotionSurprised, EmotionThinking,
	EmotionConfused, EmotionLaughing, EmotionNeutral, EmotionAngry, EmotionLove,
}

var emotionSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Emotions))
	for _, e := range Emotions {
		m[e] = struct{}{}
	}
	return m
}()

// ValidEmotion reports whether label belongs to the closed emotion set.
func ValidEmotion(label string) bool {
	_, ok := emotionSet[label]
	return ok
}

// TTS engine identifiers.
const (
	TTSEngineCloud    = "cloud"
	TTSEngineGPUFast  = "gpu_fast"
	TTSEngineGPUClone = "gpu_clone"
)

// ValidTTSEngine reports whether id names a configured engine kind.
func ValidTTSEngine(id string) bool {
	switch id {
	case TTSEngineCloud, TTSEngineGPUFast, TTSEngineGPUClone:
		return true
	}
	return false
}

// DeviceCapabilities is the descriptor mobile clients advertise on connect.
type DeviceCapabilities struct {
	Platform     string   `json:"platform,omitempty"`
	AppVersion   string   `json:"appVersion,omitempty"`
	Camera       bool     `json:"camera,omitempty"`
	Clipboard    bool     `json:"clipboard,omitempty"`
	Flashlight   bool     `json:"flashlight,omitempty"`
	Commands     []string `json:"commands,omitempty"`
	AudioFormats []string `json:"audioFormats,omitempty"`
}

// SpeakerProfile is the core's view of an enrolled speaker: a name and
// whether the voiceprint behind it is complete. Voiceprints themselves are
// owned by the speaker-ID service.
type SpeakerProfile struct {
	Name     string `json:"name"`
	Enrolled bool   `json:"enrolled"`
}

// ButtonOption is one entry of a trailing [[buttons:...]] block.
type ButtonOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}
