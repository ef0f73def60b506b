// Package relaylog records relay cycles (utterance in, reply or failure out) for later inspection.
// Recording is never on the rendering path: callers log store failures and move on.
package relaylog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOK             Status = "ok"
	StatusTransportError Status = "transport_error"
	StatusMalformed      Status = "malformed"
	StatusDiscarded      Status = "discarded"
)

// Exchange is one relay cycle of a session.
type Exchange struct {
	ID            string    `json:"id" yaml:"id"`
	SessionID     string    `json:"session_id" yaml:"session_id"`
	UserID        string    `json:"user_id" yaml:"user_id"`
	Message       string    `json:"message" yaml:"message"`
	ShouldRespond bool      `json:"should_respond" yaml:"should_respond"`
	ResponseText  string    `json:"response_text" yaml:"response_text"`
	Status        Status    `json:"status" yaml:"status"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	CompletedAt   time.Time `json:"completed_at" yaml:"completed_at"`
}

// Store persists exchanges.
type Store interface {
	Record(ctx context.Context, ex Exchange) error
	// List returns the most recent exchanges first. An empty sessionID lists all sessions.
	// limit <= 0 means no limit.
	List(ctx context.Context, sessionID string, limit int) ([]Exchange, error)
	Close() error
}

// normalizeExchange fills in the ID and timestamps a caller left empty.
func normalizeExchange(ex Exchange) Exchange {
	ex.ID = strings.TrimSpace(ex.ID)
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.StartedAt.IsZero() {
		ex.StartedAt = time.Now()
	}
	if ex.CompletedAt.IsZero() {
		ex.CompletedAt = ex.StartedAt
	}
	return ex
}
