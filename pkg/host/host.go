// Package host describes the voice-session platform as seen by the relay pipeline.
//
// The platform owns connection establishment, audio capture, speech-to-text and the display
// surface. The pipeline only consumes the small surface declared here:
//   - a per-session stream of transcription events,
//   - a text display accepting a bounded duration,
//   - a cleanup registry whose handlers run exactly once when the session ends.
package host

import (
	"context"
	"time"
)

// TranscriptionEvent is one speech segment delivered by the platform.
type TranscriptionEvent struct {
	Text       string    `json:"text"`
	IsFinal    bool      `json:"isFinal"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}

// DisplayOptions controls how long a text wall stays visible.
type DisplayOptions struct {
	DurationMs int `json:"durationMs"`
}

// TranscriptionHandler is invoked once per delivered event, in delivery order.
type TranscriptionHandler func(TranscriptionEvent)

// EventStream delivers transcription events for one session.
type EventStream interface {
	// OnTranscription registers h and returns a function that removes the subscription.
	// After unsubscribe returns, h is not invoked again.
	OnTranscription(h TranscriptionHandler) (unsubscribe func())
}

// Layouts is the display surface of a session.
type Layouts interface {
	ShowTextWall(text string, opts DisplayOptions) error
}

// CleanupRegistry collects teardown callbacks for a session.
type CleanupRegistry interface {
	AddCleanupHandler(fn func())
}

// Session is one user's connection to the platform.
type Session interface {
	ID() string
	UserID() string
	Events() EventStream
	Layouts() Layouts
	Cleanup() CleanupRegistry
}

// SessionHandler is called by the platform adapter whenever a user connects.
type SessionHandler interface {
	OnSession(ctx context.Context, s Session) error
}

// SessionHandlerFunc adapts a function to SessionHandler.
type SessionHandlerFunc func(ctx context.Context, s Session) error

func (f SessionHandlerFunc) OnSession(ctx context.Context, s Session) error {
	return f(ctx, s)
}
