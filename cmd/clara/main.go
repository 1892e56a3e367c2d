package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/longregen/clara/internal/config"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "clara",
		Short: "Clara - real-time voice assistant bridge",
		Long: `Clara bridges duplex websocket clients to streaming speech services:
speech recognition, a streaming language model, synthesis, speaker
identification, ambient listening, and meeting workers.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			godotenv.Load()

			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("Server:")
			fmt.Printf("  Listen:     %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Printf("  TLS:        %s\n", boolStatus(cfg.Server.TLSCert != ""))
			fmt.Printf("  Auth Token: %s\n", maskSecret(cfg.Server.AuthToken))
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Duplex URL:  %s\n", cfg.LLM.DuplexURL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("ASR (Speech Recognition):")
			fmt.Printf("  URL:      %s\n", cfg.ASR.URL)
			fmt.Printf("  Model:    %s\n", cfg.ASR.Model)
			fmt.Printf("  Language: %s\n", cfg.ASR.Language)
			fmt.Printf("  API Key:  %s\n", maskSecret(cfg.ASR.APIKey))
			fmt.Println()

			fmt.Println("TTS (Text-to-Speech):")
			fmt.Printf("  Engine:      %s\n", cfg.TTS.Engine)
			fmt.Printf("  Cloud URL:   %s\n", cfg.TTS.CloudURL)
			fmt.Printf("  Cloud Voice: %s\n", cfg.TTS.CloudVoice)
			fmt.Printf("  GPU Fast:    %s\n", cfg.TTS.GPUFastURL)
			fmt.Printf("  GPU Clone:   %s\n", cfg.TTS.GPUCloneURL)
			fmt.Println()

			fmt.Println("Speaker ID:")
			fmt.Printf("  URL:     %s\n", cfg.SpeakerID.URL)
			fmt.Printf("  API Key: %s\n", maskSecret(cfg.SpeakerID.APIKey))
			fmt.Printf("  Status:  %s\n", boolStatus(cfg.IsSpeakerIDConfigured()))
			fmt.Println()

			fmt.Println("Assistant:")
			fmt.Printf("  Wake Name:  %s\n", cfg.Assistant.WakeName)
			fmt.Printf("  Owner Name: %s\n", cfg.Assistant.OwnerName)
			fmt.Printf("  Language:   %s\n", cfg.Assistant.Language)
			fmt.Println()

			fmt.Println("Meeting Workers:")
			fmt.Printf("  Image:         %s\n", cfg.Worker.Image)
			fmt.Printf("  Summary Image: %s\n", cfg.Worker.SummaryImage)
			fmt.Printf("  Max Workers:   %d\n", cfg.Worker.MaxWorkers)
			fmt.Printf("  Probe Period:  %s\n", cfg.Worker.ProbePeriod)
			fmt.Printf("  Status:        %s\n", boolStatus(cfg.IsWorkerConfigured()))
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  CLARA_HOST, CLARA_PORT, CLARA_AUTH_TOKEN, CLARA_TLS_CERT, CLARA_TLS_KEY")
			fmt.Println("  CLARA_LLM_URL, CLARA_LLM_DUPLEX_URL, CLARA_LLM_API_KEY, CLARA_LLM_MODEL")
			fmt.Println("  CLARA_ASR_URL, CLARA_ASR_API_KEY, CLARA_ASR_MODEL, CLARA_ASR_LANGUAGE")
			fmt.Println("  CLARA_TTS_ENGINE, CLARA_TTS_CLOUD_URL, CLARA_TTS_GPU_FAST_URL, CLARA_TTS_GPU_CLONE_URL")
			fmt.Println("  CLARA_SPEAKER_ID_URL, CLARA_SPEAKER_ID_API_KEY")
			fmt.Println("  CLARA_WAKE_NAME, CLARA_OWNER_NAME, CLARA_LANGUAGE")
			fmt.Println("  CLARA_WORKER_IMAGE, CLARA_WORKER_MAX, CLARA_WORKER_CALLBACK_URL")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Clara %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func boolStatus(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
