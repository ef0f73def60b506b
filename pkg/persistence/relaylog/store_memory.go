package relaylog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryStore keeps the last maxPerSession exchanges per session.
type InMemoryStore struct {
	mu            sync.RWMutex
	maxPerSession int
	sessions      map[string][]Exchange
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore(maxPerSession int) *InMemoryStore {
	if maxPerSession <= 0 {
		maxPerSession = 100
	}
	return &InMemoryStore{
		maxPerSession: maxPerSession,
		sessions:      map[string][]Exchange{},
	}
}

func (s *InMemoryStore) Record(_ context.Context, ex Exchange) error {
	if s == nil {
		return errors.New("in-memory relay log: store is nil")
	}
	ex.SessionID = strings.TrimSpace(ex.SessionID)
	if ex.SessionID == "" {
		return errors.New("in-memory relay log: sessionID is empty")
	}
	ex = normalizeExchange(ex)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return errors.New("in-memory relay log: store is closed")
	}
	list := append(s.sessions[ex.SessionID], ex)
	if len(list) > s.maxPerSession {
		list = list[len(list)-s.maxPerSession:]
	}
	s.sessions[ex.SessionID] = list
	return nil
}

func (s *InMemoryStore) List(_ context.Context, sessionID string, limit int) ([]Exchange, error) {
	if s == nil {
		return nil, errors.New("in-memory relay log: store is nil")
	}
	sessionID = strings.TrimSpace(sessionID)

	s.mu.RLock()
	var out []Exchange
	if sessionID != "" {
		out = append(out, s.sessions[sessionID]...)
	} else {
		for _, list := range s.sessions {
			out = append(out, list...)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	return nil
}
