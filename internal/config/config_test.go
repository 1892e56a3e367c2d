package config

import (
	"strings"
	"testing"
	"time"

	"github.com/longregen/clara/pkg/protocol"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Error("Server Port should be valid")
	}
	if cfg.Server.Host == "" {
		t.Error("Server Host should not be empty")
	}

	if cfg.LLM.URL == "" {
		t.Error("LLM URL should not be empty")
	}
	if cfg.LLM.MaxTokens <= 0 {
		t.Error("LLM MaxTokens should be positive")
	}

	if !protocol.ValidTTSEngine(cfg.TTS.Engine) {
		t.Errorf("default TTS engine %q is not valid", cfg.TTS.Engine)
	}
	if cfg.TTS.CloudURL == "" {
		t.Error("cloud TTS URL should not be empty")
	}

	if cfg.Assistant.WakeName == "" {
		t.Error("wake name should not be empty")
	}
	if cfg.Worker.MaxWorkers <= 0 {
		t.Error("worker cap should be positive")
	}
	if cfg.Worker.ProbePeriod < time.Second {
		t.Error("probe period should be at least a second")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Run("envString sets value when env var exists", func(t *testing.T) {
		target := "original"
		t.Setenv("TEST_VAR", "new_value")
		envString("TEST_VAR", &target)
		if target != "new_value" {
			t.Errorf("expected 'new_value', got '%s'", target)
		}
	})

	t.Run("envString keeps value when env var is empty", func(t *testing.T) {
		target := "original"
		t.Setenv("TEST_VAR", "")
		envString("TEST_VAR", &target)
		if target != "original" {
			t.Errorf("expected 'original', got '%s'", target)
		}
	})

	t.Run("envInt ignores invalid values", func(t *testing.T) {
		target := 42
		t.Setenv("TEST_INT", "not-a-number")
		envInt("TEST_INT", &target)
		if target != 42 {
			t.Errorf("expected 42, got %d", target)
		}
	})

	t.Run("envBool parses true", func(t *testing.T) {
		target := false
		t.Setenv("TEST_BOOL", "true")
		envBool("TEST_BOOL", &target)
		if !target {
			t.Error("expected true")
		}
	})

	t.Run("envDuration parses durations", func(t *testing.T) {
		target := time.Second
		t.Setenv("TEST_DUR", "45s")
		envDuration("TEST_DUR", &target)
		if target != 45*time.Second {
			t.Errorf("expected 45s, got %s", target)
		}
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CLARA_CONFIG", "/nonexistent/config.json")
	t.Setenv("CLARA_PORT", "9191")
	t.Setenv("CLARA_AUTH_TOKEN", "secret")
	t.Setenv("CLARA_TTS_ENGINE", protocol.TTSEngineGPUFast)
	t.Setenv("CLARA_TTS_GPU_FAST_URL", "http://gpu:5001")
	t.Setenv("CLARA_WAKE_NAME", "Nova")
	t.Setenv("CLARA_WORKER_MAX", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port: expected 9191, got %d", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("auth token not loaded")
	}
	if cfg.TTS.Engine != protocol.TTSEngineGPUFast {
		t.Errorf("engine: expected gpu_fast, got %s", cfg.TTS.Engine)
	}
	if cfg.Assistant.WakeName != "Nova" {
		t.Errorf("wake name: expected Nova, got %s", cfg.Assistant.WakeName)
	}
	if cfg.Worker.MaxWorkers != 5 {
		t.Errorf("worker cap: expected 5, got %d", cfg.Worker.MaxWorkers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"tls key without cert", func(c *Config) { c.Server.TLSKey = "/k.pem" }, "TLS"},
		{"missing llm url", func(c *Config) { c.LLM.URL = "" }, "LLM URL"},
		{"bad temperature", func(c *Config) { c.LLM.Temperature = 3 }, "temperature"},
		{"unknown tts engine", func(c *Config) { c.TTS.Engine = "mystery" }, "TTS engine"},
		{"missing cloud tts", func(c *Config) { c.TTS.CloudURL = "" }, "cloud TTS"},
		{"empty wake name", func(c *Config) { c.Assistant.WakeName = "" }, "wake name"},
		{"zero worker cap", func(c *Config) { c.Worker.MaxWorkers = 0 }, "worker max"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
