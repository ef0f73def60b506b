package transcript

import (
	"strings"
	"time"

	"github.com/go-go-golems/voicerelay/pkg/host"
)

// Utterance is a transcription event bound to the session that produced it.
type Utterance struct {
	SessionID  string
	UserID     string
	Text       string
	IsFinal    bool
	ReceivedAt time.Time
}

// FromEvent binds a host event to its session. A zero ReceivedAt is replaced with now.
func FromEvent(sessionID, userID string, ev host.TranscriptionEvent) Utterance {
	at := ev.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	return Utterance{
		SessionID:  sessionID,
		UserID:     userID,
		Text:       ev.Text,
		IsFinal:    ev.IsFinal,
		ReceivedAt: at,
	}
}

// Filter decides which utterances are relayed to the chat service.
// The zero value accepts every final utterance, including ones that normalize to "".
type Filter struct {
	// RequireText rejects utterances whose normalized text is empty.
	RequireText bool
}

// Normalize case-folds text and trims surrounding whitespace.
func Normalize(text string) string {
	return strings.TrimSpace(strings.ToLower(text))
}

// IsEligible reports whether u should be relayed.
func (f Filter) IsEligible(u Utterance) bool {
	_, ok := f.Accept(u)
	return ok
}

// Accept returns the normalized message to forward and whether u is eligible.
// Interim utterances are never eligible.
func (f Filter) Accept(u Utterance) (string, bool) {
	if !u.IsFinal {
		return "", false
	}
	msg := Normalize(u.Text)
	if f.RequireText && msg == "" {
		return "", false
	}
	return msg, true
}
