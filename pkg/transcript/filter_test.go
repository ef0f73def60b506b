package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voicerelay/pkg/host"
)

func TestFilterRejectsInterim(t *testing.T) {
	f := Filter{}
	for _, text := range []string{"", "hello", "  Computer, what time is it?  "} {
		u := Utterance{Text: text, IsFinal: false}
		require.False(t, f.IsEligible(u), text)
		msg, ok := f.Accept(u)
		require.False(t, ok)
		require.Empty(t, msg)
	}
}

func TestFilterNormalizesFinal(t *testing.T) {
	f := Filter{}
	msg, ok := f.Accept(Utterance{Text: "  Computer, What TIME is it?\n", IsFinal: true})
	require.True(t, ok)
	require.Equal(t, "computer, what time is it?", msg)
}

func TestFilterEmptyTextPolicy(t *testing.T) {
	u := Utterance{Text: "   ", IsFinal: true}

	msg, ok := Filter{}.Accept(u)
	require.True(t, ok)
	require.Equal(t, "", msg)

	_, ok = Filter{RequireText: true}.Accept(u)
	require.False(t, ok)
}

func TestNormalizeUnicode(t *testing.T) {
	require.Equal(t, "über straße", Normalize("\tÜBER Straße "))
}

func TestFromEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	u := FromEvent("s1", "u1", host.TranscriptionEvent{Text: "Hi", IsFinal: true, ReceivedAt: at})
	require.Equal(t, Utterance{SessionID: "s1", UserID: "u1", Text: "Hi", IsFinal: true, ReceivedAt: at}, u)

	u = FromEvent("s1", "u1", host.TranscriptionEvent{Text: "Hi"})
	require.False(t, u.ReceivedAt.IsZero())
}
