// Package render turns relay outcomes into timed text walls on the host display.
package render

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/voicerelay/pkg/host"
)

const (
	PendingText       = "thinking..."
	PendingDurationMs = 1000
	ReplyDurationMs   = 7000

	DefaultFallbackText = "Sorry, something went wrong. Please try again."
)

// Directive is one instruction to the display surface.
type Directive struct {
	Text       string `json:"text"`
	DurationMs int    `json:"durationMs"`
}

// Renderer emits fire-and-forget directives. It does not track whether a previous
// directive is still visible.
type Renderer struct {
	layouts      host.Layouts
	fallbackText string
}

type Option func(*Renderer)

// WithFallbackText overrides the message shown when a relay fails.
func WithFallbackText(text string) Option {
	return func(r *Renderer) {
		if text != "" {
			r.fallbackText = text
		}
	}
}

func New(layouts host.Layouts, opts ...Option) (*Renderer, error) {
	if layouts == nil {
		return nil, errors.New("render: layouts is nil")
	}
	r := &Renderer{layouts: layouts, fallbackText: DefaultFallbackText}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ShowPending shows the thinking indicator.
func (r *Renderer) ShowPending() (Directive, error) {
	return r.emit(Directive{Text: PendingText, DurationMs: PendingDurationMs})
}

// ShowReply shows the reply text.
func (r *Renderer) ShowReply(text string) (Directive, error) {
	return r.emit(Directive{Text: text, DurationMs: ReplyDurationMs})
}

// ShowFallback shows the apology message in place of a reply.
func (r *Renderer) ShowFallback() (Directive, error) {
	return r.ShowReply(r.fallbackText)
}

func (r *Renderer) FallbackText() string { return r.fallbackText }

func (r *Renderer) emit(d Directive) (Directive, error) {
	if err := r.layouts.ShowTextWall(d.Text, host.DisplayOptions{DurationMs: d.DurationMs}); err != nil {
		return d, errors.Wrap(err, "render: show text wall")
	}
	return d, nil
}
