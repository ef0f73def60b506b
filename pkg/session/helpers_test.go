package session

import (
	"encoding/json"
	"net/http"

	"github.com/go-go-golems/voicerelay/pkg/host"
)

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

func transcriptEvent(text string) host.TranscriptionEvent {
	return host.TranscriptionEvent{Text: text, IsFinal: true}
}
