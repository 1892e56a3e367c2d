package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/clara/internal/ambient"
	"github.com/longregen/clara/internal/asr"
	"github.com/longregen/clara/internal/llm"
	"github.com/longregen/clara/internal/pipeline"
	"github.com/longregen/clara/internal/search"
	"github.com/longregen/clara/internal/server"
	"github.com/longregen/clara/internal/session"
	"github.com/longregen/clara/internal/speakerid"
	"github.com/longregen/clara/internal/tts"
	"github.com/longregen/clara/internal/worker"
	"github.com/longregen/clara/pkg/otel"
)

// serveCmd starts the websocket bridge server
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the voice bridge server",
		Long: `Start the Clara bridge server.

The server exposes a duplex websocket for voice sessions plus the
meeting-worker orchestration API when a worker image is configured.

Required configuration:
  - LLM endpoint (CLARA_LLM_URL)
  - Cloud TTS endpoint (CLARA_TTS_CLOUD_URL)

Optional:
  - Speaker ID and web search (CLARA_SPEAKER_ID_URL)
  - Meeting workers (CLARA_WORKER_IMAGE or CLARA_WORKER_LOCAL_COMMAND)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer wires the services together and runs the bridge until a signal
// arrives.
func runServer(ctx context.Context) error {
	log.Println("Starting Clara bridge...")
	log.Printf("  WS:       ws://%s:%d/ws", cfg.Server.Host, cfg.Server.Port)
	log.Printf("  LLM:      %s", cfg.LLM.URL)
	if cfg.LLM.DuplexURL != "" {
		log.Printf("  Duplex:   %s", cfg.LLM.DuplexURL)
	}
	log.Printf("  ASR:      %s", cfg.ASR.URL)
	log.Printf("  TTS:      %s (%s)", cfg.TTS.CloudURL, cfg.TTS.Engine)
	if cfg.IsSpeakerIDConfigured() {
		log.Printf("  Speakers: %s", cfg.SpeakerID.URL)
	}
	if cfg.IsWorkerConfigured() {
		log.Printf("  Workers:  %s (max %d)", cfg.Worker.Image, cfg.Worker.MaxWorkers)
	}
	log.Println()

	var traceWriter io.Writer
	if cfg.Telemetry.TraceStdout {
		traceWriter = os.Stdout
	}
	otelShutdown, err := otel.Init(otel.Config{
		ServiceName: "clara",
		Environment: cfg.Telemetry.Environment,
		Writer:      traceWriter,
	})
	if err != nil {
		log.Printf("Warning: failed to initialize tracing: %v", err)
	} else {
		defer func() {
			if err := otelShutdown(context.Background()); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	sessions := session.NewManager(cfg.Assistant.WakeName, cfg.Assistant.OwnerName, cfg.TTS.Engine)
	sessions.Start(serverCtx)
	defer sessions.Stop()

	streamer := llm.New(cfg.LLM)
	if closer, ok := streamer.(io.Closer); ok {
		defer closer.Close()
	}
	asrClient := asr.NewClient(cfg.ASR)
	ttsClient := tts.NewClient(cfg.TTS)

	var (
		searcher   pipeline.Searcher
		identifier ambient.SpeakerIdentifier
		speakerSvc server.SpeakerService
	)
	if cfg.IsSpeakerIDConfigured() {
		speakers := speakerid.NewClient(cfg.SpeakerID)
		identifier = speakers
		speakerSvc = speakers
		searcher = search.NewClient(cfg.SpeakerID)
		log.Println("Speaker ID client initialized")
	} else {
		log.Println("Speaker ID not configured - voiceprints and search unavailable")
	}

	pipe := pipeline.New(streamer, asrClient, ttsClient, searcher)
	listener := ambient.New(asrClient, identifier, pipe)

	srv := server.New(cfg, sessions, pipe, listener, speakerSvc)
	router := srv.Router()

	if cfg.IsWorkerConfigured() {
		var rt worker.Runtime
		if cfg.Worker.LocalCommand != "" {
			rt = worker.NewLocalRuntime(cfg.Worker.LocalCommand)
			log.Println("Worker runtime: local processes")
		} else {
			rt = worker.NewDockerRuntime(cfg.Worker.SocketPath)
			log.Printf("Worker runtime: docker (%s)", cfg.Worker.SocketPath)
		}
		workers := worker.NewManager(cfg.Worker, rt, sessions)
		workers.Start(serverCtx)
		defer workers.Stop()
		workers.Register(router)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("Bridge listening on %s", httpServer.Addr)
		if cfg.Server.TLSCert != "" {
			serverErrors <- httpServer.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			serverErrors <- httpServer.ListenAndServe()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		log.Println("Shutting down gracefully...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Println("Server stopped")
		return nil
	}
}
