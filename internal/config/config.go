// Package config loads clara's configuration from an optional JSON file and
// environment variables. Environment values win over file values.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/longregen/clara/pkg/protocol"
)

// Config holds all configuration for the clara bridge.
type Config struct {
	Server    ServerConfig    `json:"server"`
	ASR       ASRConfig       `json:"asr"`
	LLM       LLMConfig       `json:"llm"`
	TTS       TTSConfig       `json:"tts"`
	SpeakerID SpeakerIDConfig `json:"speaker_id"`
	Assistant AssistantConfig `json:"assistant"`
	Worker    WorkerConfig    `json:"worker"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// ServerConfig holds the listener and auth settings.
type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TLSCert   string `json:"tls_cert"`
	TLSKey    string `json:"tls_key"`
	AuthToken string `json:"auth_token"`
}

// ASRConfig holds speech-recognition settings.
type ASRConfig struct {
	URL      string `json:"url"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Language string `json:"language"` // hint, empty means autodetect
}

// LLMConfig holds the language-model endpoints. DuplexURL, when set, selects
// the websocket transport; HTTP SSE is the fallback.
type LLMConfig struct {
	URL         string  `json:"url"`
	DuplexURL   string  `json:"duplex_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// TTSConfig holds the synthesis engines. Engine selects the default; each
// engine has its own endpoint.
type TTSConfig struct {
	Engine      string `json:"engine"`
	CloudURL    string `json:"cloud_url"`
	CloudAPIKey string `json:"cloud_api_key"`
	CloudVoice  string `json:"cloud_voice"`
	GPUFastURL  string `json:"gpu_fast_url"`
	GPUCloneURL string `json:"gpu_clone_url"`
	CloneVoice  string `json:"clone_voice"`
}

// SpeakerIDConfig holds the voiceprint service endpoint. The web-search path
// is colocated on the same service.
type SpeakerIDConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// AssistantConfig holds persona defaults shared by all sessions.
type AssistantConfig struct {
	WakeName  string `json:"wake_name"`
	OwnerName string `json:"owner_name"`
	Language  string `json:"language"`
}

// WorkerConfig holds the meeting-worker orchestrator settings.
type WorkerConfig struct {
	Image        string        `json:"image"`
	SummaryImage string        `json:"summary_image"`
	SocketPath   string        `json:"socket_path"`
	MaxWorkers   int           `json:"max_workers"`
	CallbackURL  string        `json:"callback_url"`
	ProbePeriod  time.Duration `json:"probe_period"`
	LocalCommand string        `json:"local_command"` // run workers as processes instead of containers
}

// TelemetryConfig toggles tracing and metrics.
type TelemetryConfig struct {
	Environment    string `json:"environment"`
	TraceStdout    bool   `json:"trace_stdout"`
	MetricsEnabled bool   `json:"metrics_enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		ASR: ASRConfig{
			URL:   "http://localhost:8001/v1",
			Model: "whisper-large-v3",
		},
		LLM: LLMConfig{
			URL:         "http://localhost:8000/v1",
			Model:       "Qwen/Qwen3-8B-AWQ",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		TTS: TTSConfig{
			Engine:     protocol.TTSEngineCloud,
			CloudURL:   "http://localhost:8001/v1",
			CloudVoice: "af_sarah",
		},
		SpeakerID: SpeakerIDConfig{
			URL: "http://localhost:8002",
		},
		Assistant: AssistantConfig{
			WakeName: "Clara",
			Language: "es",
		},
		Worker: WorkerConfig{
			Image:       "clara/meet-worker:latest",
			SocketPath:  "/var/run/docker.sock",
			MaxWorkers:  3,
			ProbePeriod: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			MetricsEnabled: true,
		},
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// envDuration loads a duration environment variable into the target pointer if set and valid
func envDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func getConfigPath() string {
	if p := os.Getenv("CLARA_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".clara", "config.json")
}

// Load loads configuration from the config file and environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	envString("CLARA_HOST", &cfg.Server.Host)
	envInt("CLARA_PORT", &cfg.Server.Port)
	envString("CLARA_TLS_CERT", &cfg.Server.TLSCert)
	envString("CLARA_TLS_KEY", &cfg.Server.TLSKey)
	envString("CLARA_AUTH_TOKEN", &cfg.Server.AuthToken)

	envString("CLARA_ASR_URL", &cfg.ASR.URL)
	envString("CLARA_ASR_API_KEY", &cfg.ASR.APIKey)
	envString("CLARA_ASR_MODEL", &cfg.ASR.Model)
	envString("CLARA_ASR_LANGUAGE", &cfg.ASR.Language)

	envString("CLARA_LLM_URL", &cfg.LLM.URL)
	envString("CLARA_LLM_DUPLEX_URL", &cfg.LLM.DuplexURL)
	envString("CLARA_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("CLARA_LLM_MODEL", &cfg.LLM.Model)
	envInt("CLARA_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("CLARA_LLM_TEMPERATURE", &cfg.LLM.Temperature)

	envString("CLARA_TTS_ENGINE", &cfg.TTS.Engine)
	envString("CLARA_TTS_CLOUD_URL", &cfg.TTS.CloudURL)
	envString("CLARA_TTS_CLOUD_API_KEY", &cfg.TTS.CloudAPIKey)
	envString("CLARA_TTS_CLOUD_VOICE", &cfg.TTS.CloudVoice)
	envString("CLARA_TTS_GPU_FAST_URL", &cfg.TTS.GPUFastURL)
	envString("CLARA_TTS_GPU_CLONE_URL", &cfg.TTS.GPUCloneURL)
	envString("CLARA_TTS_CLONE_VOICE", &cfg.TTS.CloneVoice)

	envString("CLARA_SPEAKER_ID_URL", &cfg.SpeakerID.URL)
	envString("CLARA_SPEAKER_ID_API_KEY", &cfg.SpeakerID.APIKey)

	envString("CLARA_WAKE_NAME", &cfg.Assistant.WakeName)
	envString("CLARA_OWNER_NAME", &cfg.Assistant.OwnerName)
	envString("CLARA_LANGUAGE", &cfg.Assistant.Language)

	envString("CLARA_WORKER_IMAGE", &cfg.Worker.Image)
	envString("CLARA_WORKER_SUMMARY_IMAGE", &cfg.Worker.SummaryImage)
	envString("CLARA_WORKER_SOCKET", &cfg.Worker.SocketPath)
	envInt("CLARA_WORKER_MAX", &cfg.Worker.MaxWorkers)
	envString("CLARA_WORKER_CALLBACK_URL", &cfg.Worker.CallbackURL)
	envDuration("CLARA_WORKER_PROBE_PERIOD", &cfg.Worker.ProbePeriod)
	envString("CLARA_WORKER_LOCAL_COMMAND", &cfg.Worker.LocalCommand)

	envString("CLARA_ENVIRONMENT", &cfg.Telemetry.Environment)
	envBool("CLARA_TRACE_STDOUT", &cfg.Telemetry.TraceStdout)
	envBool("CLARA_METRICS_ENABLED", &cfg.Telemetry.MetricsEnabled)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsSpeakerIDConfigured returns true if the voiceprint service is configured
func (c *Config) IsSpeakerIDConfigured() bool {
	return c.SpeakerID.URL != ""
}

// IsWorkerConfigured returns true if meeting workers can be launched
func (c *Config) IsWorkerConfigured() bool {
	return c.Worker.Image != "" || c.Worker.LocalCommand != ""
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, "TLS cert and key must be set together")
	}

	if c.LLM.URL == "" {
		errs = append(errs, "LLM URL is required")
	} else if !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}
	if c.LLM.DuplexURL != "" && !isValidURL(c.LLM.DuplexURL) {
		errs = append(errs, "LLM duplex URL must be a valid URL")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "LLM temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM max_tokens must be positive")
	}

	if c.ASR.URL != "" && !isValidURL(c.ASR.URL) {
		errs = append(errs, "ASR URL must be a valid URL")
	}

	if !protocol.ValidTTSEngine(c.TTS.Engine) {
		errs = append(errs, fmt.Sprintf("unknown TTS engine %q", c.TTS.Engine))
	}
	if c.TTS.CloudURL == "" {
		errs = append(errs, "cloud TTS URL is required (it is the fallback engine)")
	} else if !isValidURL(c.TTS.CloudURL) {
		errs = append(errs, "cloud TTS URL must be a valid URL")
	}

	if c.SpeakerID.URL != "" && !isValidURL(c.SpeakerID.URL) {
		errs = append(errs, "speaker-ID URL must be a valid URL")
	}

	if c.Assistant.WakeName == "" {
		errs = append(errs, "wake name must not be empty")
	}

	if c.Worker.MaxWorkers < 1 {
		errs = append(errs, "worker max must be at least 1")
	}
	if c.Worker.ProbePeriod < time.Second {
		errs = append(errs, "worker probe period must be at least 1s")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
