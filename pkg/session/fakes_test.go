package session

import (
	"context"
	"sync"

	"github.com/go-go-golems/voicerelay/pkg/host"
	"github.com/go-go-golems/voicerelay/pkg/relay"
	"github.com/go-go-golems/voicerelay/pkg/render"
)

type fakeEvents struct {
	mu       sync.Mutex
	handlers map[int]host.TranscriptionHandler
	next     int
}

func (e *fakeEvents) OnTranscription(h host.TranscriptionHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = map[int]host.TranscriptionHandler{}
	}
	id := e.next
	e.next++
	e.handlers[id] = h
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

func (e *fakeEvents) emit(text string, final bool) {
	e.mu.Lock()
	hs := make([]host.TranscriptionHandler, 0, len(e.handlers))
	for _, h := range e.handlers {
		hs = append(hs, h)
	}
	e.mu.Unlock()
	for _, h := range hs {
		h(host.TranscriptionEvent{Text: text, IsFinal: final})
	}
}

func (e *fakeEvents) subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

type fakeLayouts struct {
	mu         sync.Mutex
	directives []render.Directive
}

func (l *fakeLayouts) ShowTextWall(text string, opts host.DisplayOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.directives = append(l.directives, render.Directive{Text: text, DurationMs: opts.DurationMs})
	return nil
}

func (l *fakeLayouts) snapshot() []render.Directive {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]render.Directive(nil), l.directives...)
}

type fakeCleanup struct {
	mu   sync.Mutex
	fns  []func()
	done bool
}

func (c *fakeCleanup) AddCleanupHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *fakeCleanup) run() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	fns := c.fns
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeSession struct {
	id      string
	userID  string
	events  *fakeEvents
	layouts *fakeLayouts
	cleanup *fakeCleanup
}

func newFakeSession(id, userID string) *fakeSession {
	return &fakeSession{
		id:      id,
		userID:  userID,
		events:  &fakeEvents{},
		layouts: &fakeLayouts{},
		cleanup: &fakeCleanup{},
	}
}

func (s *fakeSession) ID() string                    { return s.id }
func (s *fakeSession) UserID() string                { return s.userID }
func (s *fakeSession) Events() host.EventStream      { return s.events }
func (s *fakeSession) Layouts() host.Layouts         { return s.layouts }
func (s *fakeSession) Cleanup() host.CleanupRegistry { return s.cleanup }

type senderFunc func(ctx context.Context, userID, message string) (relay.Reply, error)

func (f senderFunc) Send(ctx context.Context, userID, message string) (relay.Reply, error) {
	return f(ctx, userID, message)
}

type sentMessage struct {
	userID  string
	message string
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	reply relay.Reply
	err   error
}

func (r *recordingSender) Send(_ context.Context, userID, message string) (relay.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{userID: userID, message: message})
	return r.reply, r.err
}

func (r *recordingSender) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}
