// Package server exposes the duplex client channel and the HTTP surface
// around it. Each websocket connection authenticates within a grace window,
// binds to a session (fresh or re-attached), and dispatches inbound envelopes
// sequentially while pipeline work runs on its own task.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/internal/session"
	"github.com/longregen/clara/pkg/protocol"
)

// Pipeline is the slice of the orchestrator the connection layer drives.
type Pipeline interface {
	HandleAudio(ctx context.Context, s *session.Session, audio []byte, prefix string)
	HandleText(ctx context.Context, s *session.Session, text, prefix string)
	HandleImage(ctx context.Context, s *session.Session, data []byte, mime, caption string)
	HandleFile(ctx context.Context, s *session.Session, data []byte, name string)
	Cancel(s *session.Session, bargeIn bool)
}

// AmbientListener consumes smart-listen segments.
type AmbientListener interface {
	Process(ctx context.Context, s *session.Session, audio []byte)
}

// SpeakerService is the slice of the speaker-ID client the handlers use.
type SpeakerService interface {
	Enroll(ctx context.Context, audio []byte, name string, append bool) error
	Rename(ctx context.Context, oldName, newName string) error
	Reset(ctx context.Context) error
	Profiles(ctx context.Context) ([]protocol.SpeakerProfile, error)
}

type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	pipeline Pipeline
	ambient  AmbientListener
	speakers SpeakerService
	upgrader websocket.Upgrader
}

func New(cfg *config.Config, sessions *session.Manager, pipeline Pipeline, ambient AmbientListener, speakers SpeakerService) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		pipeline: pipeline,
		ambient:  ambient,
		speakers: speakers,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Clients are native apps and trusted dashboards, not browsers.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Router builds the HTTP surface: the websocket endpoint, health, and
// optionally metrics.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	if s.cfg.Telemetry.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
