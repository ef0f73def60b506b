// Package session owns the per-connection relay pipeline: it subscribes to a host session's
// transcriptions, relays eligible utterances and renders the outcome.
//
// State per session is Idle while no relay is outstanding and AwaitingReply otherwise.
// Teardown is driven by the host through the cleanup registry; once the controller is
// closed no further directive reaches the display, and late relay results are discarded.
package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicerelay/pkg/host"
	"github.com/go-go-golems/voicerelay/pkg/persistence/relaylog"
	"github.com/go-go-golems/voicerelay/pkg/relay"
	"github.com/go-go-golems/voicerelay/pkg/render"
	"github.com/go-go-golems/voicerelay/pkg/transcript"
)

var (
	// ErrSessionClosed is reported for relay results that arrive after teardown.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionInUse is returned when another user presents a session id that is active.
	ErrSessionInUse = errors.New("session id in use by another user")
)

// State is the coarse status reported in Info: idle, or waiting on at least one relay.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingReply State = "awaiting_reply"
)

const recordTimeout = 5 * time.Second

// Info is a point-in-time view of a controller.
type Info struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	State        State     `json:"state"`
	InFlight     int       `json:"in_flight"`
	Queued       int       `json:"queued"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Controller runs one voice session. It subscribes to the host session's transcriptions,
// relays every eligible final utterance to the chat service and renders the outcome on the
// session display. Utterances arriving while a reply is pending are relayed concurrently or
// queued, depending on Options.Policy. After Close, late relay results are recorded as
// discarded and never rendered.
type Controller struct {
	sessionID string
	userID    string
	host      host.Session
	opts      Options
	renderer  *render.Renderer
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	closed       bool
	started      bool
	inFlight     int
	queue        []queuedUtterance
	unsubscribe  func()
	startedAt    time.Time
	lastActivity time.Time
	onClose      func(*Controller)

	relays sync.WaitGroup
}

// NewController builds a controller for s. The controller's relays are bound to ctx and to
// the controller's own lifetime.
func NewController(ctx context.Context, s host.Session, opts Options) (*Controller, error) {
	if ctx == nil {
		return nil, errors.New("session: ctx is nil")
	}
	if s == nil {
		return nil, errors.New("session: host session is nil")
	}
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}
	r, err := render.New(s.Layouts(), render.WithFallbackText(opts.FallbackText))
	if err != nil {
		return nil, errors.Wrap(err, "session: renderer")
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Controller{
		sessionID: s.ID(),
		userID:    s.UserID(),
		host:      s,
		opts:      opts,
		renderer:  r,
		log: log.With().
			Str("component", "session").
			Str("session_id", s.ID()).
			Str("user_id", s.UserID()).
			Logger(),
		ctx:       cctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}, nil
}

func (c *Controller) SessionID() string { return c.sessionID }
func (c *Controller) UserID() string    { return c.userID }

// Start subscribes to transcriptions and registers teardown with the host.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("session: already started")
	}
	c.started = true
	c.mu.Unlock()

	unsubscribe := c.host.Events().OnTranscription(c.HandleTranscription)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.host.Cleanup().AddCleanupHandler(c.Close)
	c.log.Info().Str("policy", string(c.opts.Policy)).Msg("session started")
	return nil
}

// HandleTranscription runs one event through filter, pending directive and relay.
func (c *Controller) HandleTranscription(ev host.TranscriptionEvent) {
	u := transcript.FromEvent(c.sessionID, c.userID, ev)
	msg, ok := c.opts.Filter.Accept(u)
	if !ok {
		c.log.Trace().Bool("is_final", u.IsFinal).Msg("transcription not eligible")
		return
	}
	c.log.Debug().Str("heard", msg).Msg("relaying utterance")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.lastActivity = u.ReceivedAt
	q := queuedUtterance{message: msg}

	if c.opts.Policy == PolicySerialized && c.isBusyLocked() {
		pos := c.enqueueLocked(q)
		if pos < 0 {
			c.log.Warn().Int("max_queue", c.opts.MaxQueue).Str("heard", msg).Msg("relay queue full, dropping utterance")
			return
		}
		c.log.Debug().Int("queue_position", pos).Msg("utterance queued")
		return
	}
	c.beginLocked(q)
}

// beginLocked moves the session to AwaitingReply for q.
func (c *Controller) beginLocked(q queuedUtterance) {
	if _, err := c.renderer.ShowPending(); err != nil {
		c.log.Warn().Err(err).Msg("showing pending indicator failed")
	}
	c.inFlight++
	c.relays.Add(1)
	go c.runRelay(q)
}

func (c *Controller) runRelay(q queuedUtterance) {
	defer c.relays.Done()

	ex := relaylog.Exchange{
		SessionID: c.sessionID,
		UserID:    c.userID,
		Message:   q.message,
		StartedAt: time.Now(),
	}
	reply, err := c.opts.Relay.Send(c.ctx, c.userID, q.message)
	ex.CompletedAt = time.Now()

	c.mu.Lock()
	c.inFlight--
	if c.closed {
		c.mu.Unlock()
		ex.Status = relaylog.StatusDiscarded
		ex.Error = ErrSessionClosed.Error()
		c.log.Debug().Err(err).Msg("discarding relay result for closed session")
		c.record(ex)
		return
	}
	c.renderOutcomeLocked(&ex, reply, err)
	if next, ok := c.dequeueLocked(); ok {
		c.log.Debug().Dur("queued_for", time.Since(next.enqueuedAt)).Msg("relaying queued utterance")
		c.beginLocked(next)
	}
	c.mu.Unlock()

	c.record(ex)
}

// renderOutcomeLocked shows the reply, or the fallback for any relay failure.
func (c *Controller) renderOutcomeLocked(ex *relaylog.Exchange, reply relay.Reply, err error) {
	var mre *relay.MalformedResponseError
	switch {
	case err == nil:
		ex.Status = relaylog.StatusOK
		ex.ShouldRespond = reply.ShouldRespond
		ex.ResponseText = reply.ResponseText
		c.log.Info().
			Bool("should_respond", reply.ShouldRespond).
			Str("reply", reply.ResponseText).
			Dur("elapsed", ex.CompletedAt.Sub(ex.StartedAt)).
			Msg("bot reply")
		if _, rerr := c.renderer.ShowReply(reply.ResponseText); rerr != nil {
			c.log.Warn().Err(rerr).Msg("showing reply failed")
		}
		return
	case stderrors.As(err, &mre):
		ex.Status = relaylog.StatusMalformed
		c.log.Error().Err(err).Str("raw", string(mre.Raw)).Msg("chat endpoint returned a malformed reply")
	default:
		ex.Status = relaylog.StatusTransportError
		c.log.Warn().Err(err).Msg("chat endpoint unavailable")
	}
	ex.Error = err.Error()
	if _, rerr := c.renderer.ShowFallback(); rerr != nil {
		c.log.Warn().Err(rerr).Msg("showing fallback failed")
	}
}

func (c *Controller) record(ex relaylog.Exchange) {
	if c.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), recordTimeout)
	defer cancel()
	if err := c.opts.Recorder.Record(ctx, ex); err != nil {
		c.log.Warn().Err(err).Msg("recording exchange failed")
	}
}

// Close releases the transcription subscription, cancels outstanding relays and drops queued
// utterances. It is idempotent and safe to call from the host's cleanup handler.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	dropped := len(c.queue)
	c.queue = nil
	inFlight := c.inFlight
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	onClose := c.onClose
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.cancel()
	c.log.Info().Int("in_flight", inFlight).Int("dropped", dropped).Msg("session ended")
	if onClose != nil {
		onClose(c)
	}
}

// Wait blocks until every relay started so far has resolved.
func (c *Controller) Wait() {
	c.relays.Wait()
}

func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := StateIdle
	if c.inFlight > 0 {
		state = StateAwaitingReply
	}
	return Info{
		SessionID:    c.sessionID,
		UserID:       c.userID,
		State:        state,
		InFlight:     c.inFlight,
		Queued:       len(c.queue),
		StartedAt:    c.startedAt,
		LastActivity: c.lastActivity,
	}
}
