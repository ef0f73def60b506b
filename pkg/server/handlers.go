package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voicerelay/pkg/host/wshost"
	"github.com/go-go-golems/voicerelay/pkg/persistence/relaylog"
)

const defaultExchangeLimit = 50

// Handler returns the HTTP routes: the websocket endpoint, health and the read-only API.
// The API answers only requests carrying the device API key.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/sessions", s.handleSessions)
	api.HandleFunc("GET /api/sessions/{id}/exchanges", s.handleExchanges)

	mux := http.NewServeMux()
	mux.Handle("/ws", s.host)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/api/", wshost.RequireAPIKey(s.apiKey, api))
	return mux
}

type healthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Sessions:    len(s.sessions.List()),
		Connections: s.host.Count(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleExchanges(w http.ResponseWriter, req *http.Request) {
	if s.store == nil {
		http.Error(w, "relay log not enabled", http.StatusNotFound)
		return
	}
	sessionID := strings.TrimSpace(req.PathValue("id"))
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	limit := defaultExchangeLimit
	if v := strings.TrimSpace(req.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	exchanges, err := s.store.List(req.Context(), sessionID, limit)
	if err != nil {
		log.Error().Err(err).Str("component", "server").Str("session_id", sessionID).Msg("listing exchanges failed")
		http.Error(w, "listing exchanges failed", http.StatusInternalServerError)
		return
	}
	if exchanges == nil {
		exchanges = []relaylog.Exchange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "exchanges": exchanges})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "server").Msg("response write failed")
	}
}
