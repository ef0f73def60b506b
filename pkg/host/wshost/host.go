// Package wshost is a websocket implementation of the voice-session platform.
//
// A device (or a bridge in front of it) connects to the handler with its user id, streams
// transcription frames and receives display frames back. Inbound transcriptions go through
// the event bus on the connection's topic, so the consuming session may live on another process
// when the bus runs on Redis Streams.
package wshost

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicerelay/pkg/eventbus"
	"github.com/go-go-golems/voicerelay/pkg/host"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxFrameBytes       = 64 << 10
)

type Config struct {
	BaseCtx context.Context
	Bus     *eventbus.Bus
	Handler host.SessionHandler
	// APIKey, when set, must match the X-API-Key header or the api_key query parameter.
	APIKey string
	// PackageName, when set, must match the X-Package-Name header or the package query
	// parameter.
	PackageName  string
	Upgrader     websocket.Upgrader
	WriteTimeout time.Duration
}

// Host accepts websocket connections and hands each one to the session handler.
//
// A session id belongs to one connection at a time. A reconnect by the same user replaces
// the earlier connection; another user presenting an id in use is refused.
type Host struct {
	cfg Config

	mu    sync.Mutex
	conns map[*Session]struct{}
	byID  map[string]*Session
	wg    sync.WaitGroup
}

var _ http.Handler = (*Host)(nil)

func New(cfg Config) (*Host, error) {
	if cfg.BaseCtx == nil {
		return nil, errors.New("wshost: base context is nil")
	}
	if cfg.Bus == nil {
		return nil, errors.New("wshost: event bus is nil")
	}
	if cfg.Handler == nil {
		return nil, errors.New("wshost: session handler is nil")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Host{cfg: cfg, conns: map[*Session]struct{}{}, byID: map[string]*Session{}}, nil
}

type connectRequest struct {
	sessionID string
	userID    string
}

func (h *Host) authorize(req *http.Request) (connectRequest, int, string) {
	q := req.URL.Query()
	if !CheckAPIKey(req, h.cfg.APIKey) {
		return connectRequest{}, http.StatusUnauthorized, "invalid api key"
	}
	if h.cfg.PackageName != "" {
		pkg := strings.TrimSpace(req.Header.Get("X-Package-Name"))
		if pkg == "" {
			pkg = strings.TrimSpace(q.Get("package"))
		}
		if pkg != h.cfg.PackageName {
			return connectRequest{}, http.StatusForbidden, "unknown package"
		}
	}
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		return connectRequest{}, http.StatusBadRequest, "missing user_id"
	}
	sessionID := strings.TrimSpace(q.Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if h.ownedByOther(sessionID, userID) {
		return connectRequest{}, http.StatusConflict, "session id in use"
	}
	return connectRequest{sessionID: sessionID, userID: userID}, 0, ""
}

func (h *Host) ownedByOther(sessionID, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.byID[sessionID]
	return ok && prev.userID != userID
}

// claim registers s under its session id. It returns the connection s replaces, if any, and
// false when another user took the id since authorize ran.
func (h *Host) claim(s *Session) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.byID[s.id]
	if prev != nil && prev.userID != s.userID {
		return nil, false
	}
	h.byID[s.id] = s
	h.conns[s] = struct{}{}
	h.wg.Add(1)
	return prev, true
}

func (h *Host) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	cr, status, msg := h.authorize(req)
	if status != 0 {
		log.Warn().Str("component", "wshost").Str("remote", req.RemoteAddr).Int("status", status).Msg(msg)
		http.Error(w, msg, status)
		return
	}

	conn, err := h.cfg.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "wshost").Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(h.cfg.BaseCtx)
	connID := uuid.NewString()
	s := &Session{
		id:           cr.sessionID,
		userID:       cr.userID,
		topic:        eventbus.TranscriptionTopic(cr.sessionID, connID),
		conn:         conn,
		bus:          h.cfg.Bus,
		writeTimeout: h.cfg.WriteTimeout,
		log: log.With().
			Str("component", "wshost").
			Str("remote", conn.RemoteAddr().String()).
			Str("session_id", cr.sessionID).
			Str("user_id", cr.userID).
			Str("conn_id", connID).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	prev, ok := h.claim(s)
	if !ok {
		s.log.Warn().Msg("session id taken by another user")
		_ = s.writeFrame(errorFrame{Type: FrameError, Message: "session id in use"})
		s.close()
		return
	}
	defer h.wg.Done()
	defer h.remove(s)
	defer s.close()

	if prev != nil {
		s.log.Info().Msg("replacing earlier connection for session")
		prev.close()
	}

	s.log.Info().Msg("ws connected")
	if err := h.cfg.Handler.OnSession(ctx, s); err != nil {
		s.log.Error().Err(err).Msg("session handler rejected connection")
		_ = s.writeFrame(errorFrame{Type: FrameError, Message: "session setup failed"})
		return
	}
	if err := s.writeFrame(ConnectedFrame{Type: FrameConnected, SessionID: s.id, UserID: s.userID}); err != nil {
		s.log.Warn().Err(err).Msg("ws hello failed")
		return
	}
	h.readLoop(s)
	s.log.Info().Msg("ws disconnected")
}

func (h *Host) readLoop(s *Session) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Debug().Err(err).Msg("ws read loop end")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(data)), FramePing) {
			_ = s.writeFrame(newPong())
			continue
		}

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Debug().Err(err).Msg("ignoring undecodable frame")
			_ = s.writeFrame(errorFrame{Type: FrameError, Message: "invalid frame"})
			continue
		}
		switch strings.ToLower(f.Type) {
		case FrameTranscription:
			payload, err := json.Marshal(host.TranscriptionEvent{
				Text:       f.Text,
				IsFinal:    f.IsFinal,
				ReceivedAt: time.Now(),
			})
			if err != nil {
				s.log.Error().Err(err).Msg("encoding transcription failed")
				continue
			}
			if err := h.cfg.Bus.Publish(s.topic, payload); err != nil {
				s.log.Warn().Err(err).Msg("publishing transcription failed")
			}
		case FramePing:
			_ = s.writeFrame(newPong())
		default:
			s.log.Debug().Str("type", f.Type).Msg("ignoring unknown frame type")
		}
	}
}

func (h *Host) remove(s *Session) {
	h.mu.Lock()
	delete(h.conns, s)
	if h.byID[s.id] == s {
		delete(h.byID, s.id)
	}
	h.mu.Unlock()
}

// Count returns the number of open connections.
func (h *Host) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close ends every open connection and waits until their cleanup handlers have run.
func (h *Host) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.conns))
	for s := range h.conns {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	h.wg.Wait()
}
