package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voicerelay/pkg/host"
)

type recordingLayouts struct {
	shown []Directive
	err   error
}

func (l *recordingLayouts) ShowTextWall(text string, opts host.DisplayOptions) error {
	l.shown = append(l.shown, Directive{Text: text, DurationMs: opts.DurationMs})
	return l.err
}

func TestRendererDirectives(t *testing.T) {
	l := &recordingLayouts{}
	r, err := New(l)
	require.NoError(t, err)

	d, err := r.ShowPending()
	require.NoError(t, err)
	require.Equal(t, Directive{Text: "thinking...", DurationMs: 1000}, d)

	_, err = r.ShowReply("It's 3 PM.")
	require.NoError(t, err)
	_, err = r.ShowFallback()
	require.NoError(t, err)

	require.Equal(t, []Directive{
		{Text: "thinking...", DurationMs: 1000},
		{Text: "It's 3 PM.", DurationMs: 7000},
		{Text: DefaultFallbackText, DurationMs: 7000},
	}, l.shown)
}

func TestRendererFallbackOverride(t *testing.T) {
	l := &recordingLayouts{}
	r, err := New(l, WithFallbackText("oops"), WithFallbackText(""))
	require.NoError(t, err)
	require.Equal(t, "oops", r.FallbackText())

	_, err = r.ShowFallback()
	require.NoError(t, err)
	require.Equal(t, []Directive{{Text: "oops", DurationMs: 7000}}, l.shown)
}

func TestRendererWrapsDisplayErrors(t *testing.T) {
	l := &recordingLayouts{err: errors.New("socket closed")}
	r, err := New(l)
	require.NoError(t, err)

	_, err = r.ShowPending()
	require.ErrorContains(t, err, "socket closed")

	_, err = New(nil)
	require.Error(t, err)
}
