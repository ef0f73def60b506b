package session

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicerelay/pkg/host"
)

// Manager creates one Controller per connected host session and tracks the live ones.
// It is the host.SessionHandler the platform adapter calls on connect.
type Manager struct {
	baseCtx context.Context
	opts    Options

	mu       sync.Mutex
	sessions map[string]*Controller
}

var _ host.SessionHandler = (*Manager)(nil)

func NewManager(baseCtx context.Context, opts Options) (*Manager, error) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}
	return &Manager{
		baseCtx:  baseCtx,
		opts:     opts,
		sessions: map[string]*Controller{},
	}, nil
}

// OnSession starts a controller for s. A controller already registered under the same
// session id is closed first when it belongs to the same user; a different user gets
// ErrSessionInUse.
func (m *Manager) OnSession(ctx context.Context, s host.Session) error {
	if s == nil {
		return errors.New("session: host session is nil")
	}
	if ctx == nil {
		ctx = m.baseCtx
	}
	c, err := NewController(ctx, s, m.opts)
	if err != nil {
		return err
	}
	c.onClose = m.remove

	m.mu.Lock()
	prev := m.sessions[c.sessionID]
	if prev != nil && prev.userID != c.userID {
		m.mu.Unlock()
		c.Close()
		return errors.Wrapf(ErrSessionInUse, "session %s", c.sessionID)
	}
	m.sessions[c.sessionID] = c
	m.mu.Unlock()

	if prev != nil {
		log.Warn().Str("component", "session").Str("session_id", c.sessionID).Msg("replacing existing session")
		prev.Close()
	}
	if err := c.Start(); err != nil {
		m.remove(c)
		return errors.Wrap(err, "start session")
	}
	return nil
}

func (m *Manager) remove(c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[c.sessionID]; ok && cur == c {
		delete(m.sessions, c.sessionID)
	}
}

func (m *Manager) Get(sessionID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[sessionID]
	return c, ok
}

// List returns a snapshot of live sessions ordered by start time.
func (m *Manager) List() []Info {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// CloseAll closes every live controller and waits for their relays to resolve.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
	for _, c := range controllers {
		c.Wait()
	}
}
