package worker

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Register attaches the orchestration API to a router: join/leave verbs,
// fleet listings, the worker status callback, and a small HTML dashboard.
func (m *Manager) Register(r chi.Router) {
	r.Post("/join", m.handleJoin)
	r.Post("/leave", m.handleLeave)
	r.Post("/callback", m.handleCallback)
	r.Get("/status", m.handleStatus)
	r.Get("/meetings", m.handleMeetings)
	r.Get("/dashboard", m.handleDashboard)
}

// Routes builds a standalone router for the orchestration API.
func (m *Manager) Routes() chi.Router {
	r := chi.NewRouter()
	m.Register(r)
	return r
}

type joinRequest struct {
	MeetLink string `json:"meetLink"`
	BotName  string `json:"botName,omitempty"`
}

type joinResponse struct {
	MeetingID string `json:"meetingId"`
}

func (m *Manager) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid join request")
		return
	}

	meetingID, err := m.Join(r.Context(), req.MeetLink, req.BotName)
	if err != nil {
		slog.Warn("worker: join rejected", "link", req.MeetLink, "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, joinResponse{MeetingID: meetingID})
}

type leaveRequest struct {
	MeetingID string `json:"meetingId"`
}

func (m *Manager) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid leave request")
		return
	}
	if err := m.Leave(r.Context(), req.MeetingID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "leaving"})
}

type callbackRequest struct {
	MeetingID       string `json:"meetingId"`
	Status          string `json:"status"`
	TranscriptCount int    `json:"transcriptCount"`
}

func (m *Manager) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid callback")
		return
	}
	if !m.UpdateStatus(req.MeetingID, req.Status, req.TranscriptCount) {
		writeError(w, http.StatusNotFound, "unknown meeting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Manager) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"activeMeetings": m.Count(),
		"maxWorkers":     m.cfg.MaxWorkers,
	})
}

func (m *Manager) handleMeetings(w http.ResponseWriter, r *http.Request) {
	meetings := m.List()
	if meetings == nil {
		meetings = []Meeting{}
	}
	writeJSON(w, http.StatusOK, meetings)
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head><title>clara meet workers</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.4rem 0.8rem; text-align: left; }
</style>
</head>
<body>
<h1>Meet workers ({{len .Meetings}}/{{.Max}})</h1>
<table>
<tr><th>Meeting</th><th>Bot</th><th>Status</th><th>Started</th><th>Transcripts</th></tr>
{{range .Meetings}}
<tr><td>{{.ID}}</td><td>{{.BotName}}</td><td>{{.Status}}</td><td>{{.StartedAt.Format "15:04:05"}}</td><td>{{.TranscriptCount}}</td></tr>
{{else}}
<tr><td colspan="5">no active meetings</td></tr>
{{end}}
</table>
<p>{{.Now.Format "2006-01-02 15:04:05"}}</p>
</body>
</html>`))

func (m *Manager) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := dashboardTmpl.Execute(w, map[string]any{
		"Meetings": m.List(),
		"Max":      m.cfg.MaxWorkers,
		"Now":      time.Now(),
	})
	if err != nil {
		slog.Error("worker: dashboard render failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
