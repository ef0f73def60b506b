package wshost

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/voicerelay/pkg/eventbus"
	"github.com/go-go-golems/voicerelay/pkg/host"
)

// ErrConnectionClosed is returned by display writes after the connection ended.
var ErrConnectionClosed = errors.New("wshost: connection closed")

// Session is one websocket connection seen as a host.Session. It is its own event stream,
// display and cleanup registry.
type Session struct {
	id           string
	userID       string
	topic        string
	conn         *websocket.Conn
	bus          *eventbus.Bus
	writeTimeout time.Duration
	log          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	cleanups []func()
}

var (
	_ host.Session         = (*Session)(nil)
	_ host.EventStream     = (*Session)(nil)
	_ host.Layouts         = (*Session)(nil)
	_ host.CleanupRegistry = (*Session)(nil)
)

func (s *Session) ID() string                    { return s.id }
func (s *Session) UserID() string                { return s.userID }
func (s *Session) Events() host.EventStream      { return s }
func (s *Session) Layouts() host.Layouts         { return s }
func (s *Session) Cleanup() host.CleanupRegistry { return s }
func (s *Session) Context() context.Context      { return s.ctx }

// OnTranscription subscribes h to the transcriptions of this connection. h must not call
// the returned unsubscribe function itself.
func (s *Session) OnTranscription(h host.TranscriptionHandler) func() {
	ch, release, err := s.bus.Subscribe(s.ctx, s.topic)
	if err != nil {
		s.log.Error().Err(err).Str("topic", s.topic).Msg("transcription subscription failed")
		return func() {}
	}

	var (
		deliverMu sync.Mutex
		stopped   bool
	)
	go func() {
		for msg := range ch {
			var ev host.TranscriptionEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				s.log.Warn().Err(err).Msg("dropping undecodable transcription event")
				msg.Ack()
				continue
			}
			deliverMu.Lock()
			if !stopped {
				h(ev)
			}
			deliverMu.Unlock()
			msg.Ack()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			deliverMu.Lock()
			stopped = true
			deliverMu.Unlock()
			release()
		})
	}
}

func (s *Session) ShowTextWall(text string, opts host.DisplayOptions) error {
	return s.writeFrame(DisplayFrame{Type: FrameDisplay, Text: text, DurationMs: opts.DurationMs})
}

// AddCleanupHandler registers fn to run when the connection ends. Handlers registered after
// the end run immediately.
func (s *Session) AddCleanupHandler(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

func (s *Session) writeFrame(v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteJSON(v); err != nil {
		return errors.Wrap(err, "wshost: write frame")
	}
	return nil
}

// close runs the cleanup handlers exactly once, in registration order, then closes the
// socket.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fns := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	s.cancel()

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	_ = s.conn.Close()
}
