package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/longregen/clara/internal/metrics"
	"github.com/longregen/clara/internal/session"
	"github.com/longregen/clara/pkg/protocol"
	"github.com/longregen/clara/shared/id"
)

const (
	authWindow     = 5 * time.Second
	writeTimeout   = 10 * time.Second
	commandTimeout = 30 * time.Second
)

// conn is one websocket connection bound to at most one session. It doubles
// as the session's delivery sink.
type conn struct {
	srv *Server
	ws  *websocket.Conn

	writeMu sync.Mutex
	sess    *session.Session

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.DeviceResponse
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade failed", "error", err)
		return
	}
	c := &conn{srv: s, ws: ws, pending: make(map[string]chan *protocol.DeviceResponse)}
	c.run(r.Context())
}

// Deliver implements session.Sink.
func (c *conn) Deliver(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// writeDirect sends an envelope outside any session, used only before auth
// succeeds.
func (c *conn) writeDirect(msg protocol.Outbound) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		slog.Error("ws: marshal failed", "type", msg.Kind(), "error", err)
		return
	}
	if err := c.Deliver(data); err != nil {
		slog.Debug("ws: pre-auth write failed", "error", err)
	}
}

func (c *conn) run(ctx context.Context) {
	defer c.ws.Close()

	if !c.authenticate() {
		return
	}
	defer c.sess.DetachSink(c)

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	c.ws.SetReadDeadline(time.Time{})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws: read failed", "session", c.sess.ID, "error", err)
			}
			return
		}

		in, err := protocol.ParseInbound(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				slog.Warn("ws: unknown envelope type dropped", "session", c.sess.ID, "error", err)
				continue
			}
			slog.Error("ws: malformed envelope, closing", "session", c.sess.ID, "error", err)
			return
		}
		if !c.sess.AcceptCseq(in.Cseq) {
			slog.Debug("ws: duplicate cseq dropped", "session", c.sess.ID, "cseq", in.Cseq)
			continue
		}
		c.dispatch(ctx, in)
	}
}

// authenticate enforces the auth grace window and binds the session. A prior
// session ID re-attaches when it is still alive; otherwise a fresh session is
// minted and the speaker-ID service reset so stale profiles do not leak in.
func (c *conn) authenticate() bool {
	c.ws.SetReadDeadline(time.Now().Add(authWindow))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		slog.Info("ws: no auth within grace window", "error", err)
		return false
	}

	in, err := protocol.ParseInbound(data)
	if err != nil || in.Type != protocol.TypeAuth || in.Auth == nil {
		c.writeDirect(protocol.NewAuthError("expected auth envelope"))
		return false
	}
	if token := c.srv.cfg.Server.AuthToken; token != "" && in.Auth.Token != token {
		slog.Warn("ws: bad auth token")
		c.writeDirect(protocol.NewAuthError("invalid token"))
		return false
	}

	fresh := true
	if in.Auth.SessionID != "" {
		if prior, ok := c.srv.sessions.Get(in.Auth.SessionID); ok {
			c.sess = prior
			fresh = false
		}
	}
	if c.sess == nil {
		c.sess = c.srv.sessions.Create()
	}

	serverSeq := c.sess.ServerSeq()
	c.sess.Attach(c)
	c.sess.Send(protocol.NewAuthAck(c.sess.ID, serverSeq))

	if fresh {
		if c.srv.speakers != nil {
			go func() {
				if err := c.srv.speakers.Reset(context.Background()); err != nil {
					slog.Debug("ws: speaker reset on fresh session failed", "error", err)
				}
			}()
		}
	} else {
		c.sess.Replay(in.Auth.LastServerSeq)
	}
	slog.Info("ws: authenticated", "session", c.sess.ID, "fresh", fresh)
	return true
}

func (c *conn) dispatch(ctx context.Context, in *protocol.Inbound) {
	s := c.sess
	switch in.Type {
	case protocol.TypeAudio:
		audio, ok := c.decodeAudio(in.Audio.Data)
		if !ok {
			return
		}
		go c.srv.pipeline.HandleAudio(ctx, s, audio, in.Audio.Prefix)

	case protocol.TypeAmbientAudio:
		audio, ok := c.decodeAudio(in.AmbientAudio.Data)
		if !ok {
			return
		}
		go c.srv.ambient.Process(ctx, s, audio)

	case protocol.TypeText:
		text := strings.TrimSpace(in.Text.Text)
		if text == "" {
			return
		}
		go c.srv.pipeline.HandleText(ctx, s, text, in.Text.Prefix)

	case protocol.TypeImage:
		data, err := base64.StdEncoding.DecodeString(in.Image.Data)
		if err != nil {
			s.Send(protocol.NewError("Invalid image payload."))
			return
		}
		go c.srv.pipeline.HandleImage(ctx, s, data, in.Image.Mime, in.Image.Caption)

	case protocol.TypeFile:
		data, err := base64.StdEncoding.DecodeString(in.File.Data)
		if err != nil {
			s.Send(protocol.NewError("Invalid file payload."))
			return
		}
		go c.srv.pipeline.HandleFile(ctx, s, data, in.File.Name)

	case protocol.TypeCancel:
		c.srv.pipeline.Cancel(s, false)

	case protocol.TypeBargeIn:
		c.srv.pipeline.Cancel(s, true)

	case protocol.TypeClearHistory:
		s.ClearHistory()
		s.Send(protocol.NewHistoryCleared())

	case protocol.TypeReplay:
		s.Replay(in.Replay.AfterSeq)

	case protocol.TypeSetBotName:
		name := strings.TrimSpace(in.SetBotName.Name)
		if name == "" {
			s.Send(protocol.NewError("Bot name must not be empty."))
			return
		}
		s.SetWakeName(name)
		c.sendSettings()

	case protocol.TypeEnrollAudio:
		c.handleEnroll(ctx, in.EnrollAudio)

	case protocol.TypeGetProfiles:
		go func() {
			if c.srv.speakers == nil {
				s.Send(protocol.NewProfileList(nil))
				return
			}
			profiles, err := c.srv.speakers.Profiles(ctx)
			if err != nil {
				slog.Warn("ws: profile listing failed", "session", s.ID, "error", err)
				s.Send(protocol.NewError("Speaker profiles are unavailable right now."))
				return
			}
			s.Send(protocol.NewProfileList(profiles))
		}()

	case protocol.TypeRenameSpeaker:
		oldName, newName := in.RenameSpeaker.Old, in.RenameSpeaker.New
		go func() {
			if c.srv.speakers == nil {
				s.Send(protocol.NewRenameResult(false, oldName, newName, "speaker identification is not configured"))
				return
			}
			if err := c.srv.speakers.Rename(ctx, oldName, newName); err != nil {
				s.Send(protocol.NewRenameResult(false, oldName, newName, err.Error()))
				return
			}
			s.Send(protocol.NewRenameResult(true, oldName, newName, ""))
		}()

	case protocol.TypeResetSpeakers:
		go func() {
			if c.srv.speakers == nil {
				s.Send(protocol.NewResetResult(false, "speaker identification is not configured"))
				return
			}
			if err := c.srv.speakers.Reset(ctx); err != nil {
				s.Send(protocol.NewResetResult(false, err.Error()))
				return
			}
			s.Send(protocol.NewResetResult(true, ""))
		}()

	case protocol.TypeSetTTSEngine:
		engine := in.SetTTSEngine.Engine
		if !protocol.ValidTTSEngine(engine) {
			s.Send(protocol.NewError("Unknown TTS engine: " + engine))
			return
		}
		s.SetTTSEngine(engine)
		s.Send(protocol.NewTTSEngineAck(engine, "ok"))

	case protocol.TypeGetSettings:
		c.sendSettings()

	case protocol.TypePing:
		s.Send(protocol.NewPong())

	case protocol.TypeCapabilities:
		s.SetCapabilities(in.Capabilities)
		slog.Info("ws: device capabilities registered", "session", s.ID, "platform", in.Capabilities.Platform)

	case protocol.TypeDeviceResponse:
		c.resolveDevice(in.DeviceResponse)
	}
}

func (c *conn) decodeAudio(encoded string) ([]byte, bool) {
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(audio) == 0 {
		c.sess.Send(protocol.NewError("Invalid audio payload."))
		return nil, false
	}
	return audio, true
}

func (c *conn) sendSettings() {
	s := c.sess
	s.Send(protocol.NewSettings(s.WakeName(), s.OwnerName(), s.TTSEngine(), c.srv.cfg.Assistant.Language))
}

func (c *conn) handleEnroll(ctx context.Context, enroll *protocol.EnrollAudio) {
	s := c.sess
	name := strings.TrimSpace(enroll.Name)
	if name == "" {
		s.Send(protocol.NewEnrollResult(false, "", "enrollment requires a speaker name"))
		return
	}
	audio, err := base64.StdEncoding.DecodeString(enroll.Data)
	if err != nil || len(audio) == 0 {
		s.Send(protocol.NewEnrollResult(false, name, "invalid enrollment audio"))
		return
	}
	if c.srv.speakers == nil {
		s.Send(protocol.NewEnrollResult(false, name, "speaker identification is not configured"))
		return
	}
	doAppend := enroll.Append
	go func() {
		if err := c.srv.speakers.Enroll(ctx, audio, name, doAppend); err != nil {
			s.Send(protocol.NewEnrollResult(false, name, err.Error()))
			return
		}
		s.Send(protocol.NewEnrollResult(true, name, ""))
	}()
}

// Command sends a device_command to the client and waits for the correlated
// device_response.
func (c *conn) Command(ctx context.Context, command string, params map[string]any) (*protocol.DeviceResponse, error) {
	cmdID := id.NewDevice()
	ch := make(chan *protocol.DeviceResponse, 1)

	c.pendingMu.Lock()
	c.pending[cmdID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, cmdID)
		c.pendingMu.Unlock()
	}()

	c.sess.Send(protocol.NewDeviceCommand(cmdID, command, params))

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) resolveDevice(resp *protocol.DeviceResponse) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	c.pendingMu.Unlock()
	if !ok {
		slog.Debug("ws: unmatched device response", "session", c.sess.ID, "id", resp.ID)
		return
	}
	ch <- resp
}
