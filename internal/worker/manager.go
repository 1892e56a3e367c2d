// Package worker orchestrates meeting-bot workers: one isolated process per
// external meeting, labelled so the fleet can be re-adopted after a restart,
// probed for liveness, and handed to a summary worker when it produced
// transcripts.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/longregen/clara/internal/config"
	"github.com/longregen/clara/internal/metrics"
	"github.com/longregen/clara/internal/session"
	"github.com/longregen/clara/shared/httpclient"
	"github.com/longregen/clara/shared/id"
)

// Meeting statuses.
const (
	StatusPending  = "pending"
	StatusAdmitted = "admitted"
	StatusRunning  = "running"
	StatusExited   = "exited"
)

const workerStatusPort = 8080

// Meeting is the orchestrator's record of one worker.
type Meeting struct {
	ID              string    `json:"meetingId"`
	ExternalURL     string    `json:"meetLink"`
	BotName         string    `json:"botName"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"startedAt"`
	TranscriptCount int       `json:"transcriptCount"`
	SessionKey      string    `json:"sessionKey"`

	containerID string
	address     string
}

// SessionCreator pre-creates the meet-<id> session a worker re-attaches to.
type SessionCreator interface {
	CreateWithID(sessionID string) *session.Session
}

// Manager tracks the worker fleet. The meetings map is mutated under mu;
// container lifecycle calls happen off the lock.
type Manager struct {
	cfg      config.WorkerConfig
	runtime  Runtime
	sessions SessionCreator
	client   *http.Client

	mu       sync.Mutex
	meetings map[string]*Meeting

	cancel context.CancelFunc
}

func NewManager(cfg config.WorkerConfig, runtime Runtime, sessions SessionCreator) *Manager {
	return &Manager{
		cfg:      cfg,
		runtime:  runtime,
		sessions: sessions,
		client:   httpclient.NewBrief(),
		meetings: make(map[string]*Meeting),
	}
}

// Start reconciles the existing fleet and launches the supervision loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.reconcile(ctx)
	go m.supervise(ctx)
}

// Stop halts supervision. Workers keep running; they are re-adopted on the
// next start.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Join launches a worker for the meeting and returns its identifier. The cap
// is enforced before any container work happens.
func (m *Manager) Join(ctx context.Context, meetLink, botName string) (string, error) {
	if meetLink == "" {
		return "", fmt.Errorf("meeting link is required")
	}
	if botName == "" {
		botName = "Clara"
	}

	meetingID := id.NewMeeting()
	sessionKey := "meet-" + meetingID
	meeting := &Meeting{
		ID:          meetingID,
		ExternalURL: meetLink,
		BotName:     botName,
		Status:      StatusPending,
		StartedAt:   time.Now(),
		SessionKey:  sessionKey,
	}

	m.mu.Lock()
	if len(m.meetings) >= m.cfg.MaxWorkers {
		n := len(m.meetings)
		m.mu.Unlock()
		metrics.WorkerJoinsTotal.WithLabelValues("cap").Inc()
		return "", fmt.Errorf("meeting cap reached: %d of %d workers active", n, m.cfg.MaxWorkers)
	}
	m.meetings[meetingID] = meeting
	m.mu.Unlock()

	containerID, err := m.runtime.Launch(ctx, LaunchSpec{
		Image: m.cfg.Image,
		Name:  "clara-meet-" + meetingID,
		Env: []string{
			"MEET_URL=" + meetLink,
			"BOT_NAME=" + botName,
			"SESSION_KEY=" + sessionKey,
			"CALLBACK_URL=" + m.cfg.CallbackURL,
		},
		Labels: map[string]string{
			LabelWorker:    "true",
			LabelMeetingID: meetingID,
			LabelMeetLink:  meetLink,
			LabelBotName:   botName,
		},
	})
	if err != nil {
		m.mu.Lock()
		delete(m.meetings, meetingID)
		m.mu.Unlock()
		metrics.WorkerJoinsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("launch meet worker: %w", err)
	}

	m.mu.Lock()
	meeting.containerID = containerID
	m.mu.Unlock()

	if m.sessions != nil {
		m.sessions.CreateWithID(sessionKey)
	}

	metrics.WorkerJoinsTotal.WithLabelValues("ok").Inc()
	m.updateGauge()
	slog.Info("worker: joined meeting", "meeting", meetingID, "container", containerID, "bot", botName)
	return meetingID, nil
}

// Leave stops the worker and removes the meeting.
func (m *Manager) Leave(ctx context.Context, meetingID string) error {
	m.mu.Lock()
	meeting, ok := m.meetings[meetingID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown meeting %q", meetingID)
	}

	if err := m.runtime.Stop(ctx, meeting.containerID); err != nil {
		slog.Warn("worker: stop failed, removing anyway", "meeting", meetingID, "error", err)
	}
	m.finalize(ctx, meeting, "left")
	return nil
}

// List snapshots the tracked meetings.
func (m *Manager) List() []Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Meeting, 0, len(m.meetings))
	for _, meeting := range m.meetings {
		out = append(out, *meeting)
	}
	return out
}

// Count returns the number of active meetings.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.meetings)
}

// UpdateStatus applies a worker callback.
func (m *Manager) UpdateStatus(meetingID, status string, transcriptCount int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	meeting, ok := m.meetings[meetingID]
	if !ok {
		return false
	}
	if status != "" {
		meeting.Status = status
	}
	if transcriptCount > meeting.TranscriptCount {
		meeting.TranscriptCount = transcriptCount
	}
	return true
}

func (m *Manager) supervise(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe inspects every tracked worker: exited containers are reaped with a
// synthesised leave, live ones have their state refreshed from the worker's
// local status endpoint.
func (m *Manager) probe(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*Meeting, 0, len(m.meetings))
	for _, meeting := range m.meetings {
		snapshot = append(snapshot, meeting)
	}
	m.mu.Unlock()

	for _, meeting := range snapshot {
		info, err := m.runtime.Inspect(ctx, meeting.containerID)
		if err != nil {
			slog.Warn("worker: inspect failed", "meeting", meeting.ID, "error", err)
			continue
		}
		if !info.Running {
			slog.Info("worker: exited", "meeting", meeting.ID, "exit_code", info.ExitCode)
			m.finalize(ctx, meeting, fmt.Sprintf("exit code %d", info.ExitCode))
			continue
		}
		m.refreshStatus(ctx, meeting, info.Address)
	}
}

type workerStatus struct {
	State           string `json:"state"`
	TranscriptCount int    `json:"transcriptCount"`
}

func (m *Manager) refreshStatus(ctx context.Context, meeting *Meeting, address string) {
	if address == "" {
		return
	}
	url := fmt.Sprintf("http://%s:%d/status", address, workerStatusPort)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		slog.Debug("worker: status probe failed", "meeting", meeting.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var status workerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return
	}
	m.UpdateStatus(meeting.ID, status.State, status.TranscriptCount)
}

// finalize removes the container, fires the summary handoff when the worker
// produced transcripts, and drops the meeting from the map.
func (m *Manager) finalize(ctx context.Context, meeting *Meeting, reason string) {
	if meeting.containerID != "" {
		if err := m.runtime.Remove(ctx, meeting.containerID); err != nil {
			slog.Warn("worker: remove failed", "meeting", meeting.ID, "error", err)
		}
	}

	m.mu.Lock()
	transcripts := meeting.TranscriptCount
	meeting.Status = StatusExited
	delete(m.meetings, meeting.ID)
	m.mu.Unlock()

	if transcripts > 0 {
		m.launchSummary(meeting)
	}
	m.updateGauge()
	slog.Info("worker: meeting closed", "meeting", meeting.ID, "reason", reason, "transcripts", transcripts)
}

// launchSummary starts the ephemeral post-meeting summary worker.
// Fire-and-forget: failures are logged, never propagated.
func (m *Manager) launchSummary(meeting *Meeting) {
	if m.cfg.SummaryImage == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, err := m.runtime.Launch(ctx, LaunchSpec{
			Image: m.cfg.SummaryImage,
			Name:  "clara-summary-" + meeting.ID,
			Env: []string{
				"MEETING_ID=" + meeting.ID,
				"MEET_DATA_DIR=/data/meetings/" + meeting.ID,
				"CALLBACK_URL=" + m.cfg.CallbackURL,
			},
			Labels: map[string]string{
				LabelSummary:   "true",
				LabelMeetingID: meeting.ID,
			},
		})
		if err != nil {
			slog.Error("worker: summary launch failed", "meeting", meeting.ID, "error", err)
			return
		}
		slog.Info("worker: summary worker launched", "meeting", meeting.ID)
	}()
}

// reconcile re-adopts running meet-workers left over from a previous process
// and clears out exited ones.
func (m *Manager) reconcile(ctx context.Context) {
	infos, err := m.runtime.ListByLabel(ctx, LabelWorker+"=true")
	if err != nil {
		slog.Warn("worker: reconcile listing failed", "error", err)
		return
	}

	adopted := 0
	for _, info := range infos {
		meetingID := info.Labels[LabelMeetingID]
		if meetingID == "" {
			continue
		}
		if !info.Running {
			if err := m.runtime.Remove(ctx, info.ID); err != nil {
				slog.Warn("worker: stale container removal failed", "container", info.ID, "error", err)
			}
			continue
		}

		meeting := &Meeting{
			ID:          meetingID,
			ExternalURL: info.Labels[LabelMeetLink],
			BotName:     info.Labels[LabelBotName],
			Status:      StatusRunning,
			StartedAt:   time.Now(),
			SessionKey:  "meet-" + meetingID,
			containerID: info.ID,
			address:     info.Address,
		}
		m.mu.Lock()
		m.meetings[meetingID] = meeting
		m.mu.Unlock()
		m.refreshStatus(ctx, meeting, info.Address)
		adopted++
	}
	m.updateGauge()
	if adopted > 0 || len(infos) > 0 {
		slog.Info("worker: reconciled fleet", "found", len(infos), "adopted", adopted)
	}
}

func (m *Manager) updateGauge() {
	m.mu.Lock()
	n := len(m.meetings)
	m.mu.Unlock()
	metrics.WorkersActive.Set(float64(n))
}
