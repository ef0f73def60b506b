package wshost

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// CheckAPIKey reports whether req presents key in the X-API-Key header or the api_key query
// parameter. An empty key accepts every request.
func CheckAPIKey(req *http.Request, key string) bool {
	if key == "" {
		return true
	}
	got := strings.TrimSpace(req.Header.Get("X-API-Key"))
	if got == "" {
		got = strings.TrimSpace(req.URL.Query().Get("api_key"))
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
}

// RequireAPIKey answers 401 to requests failing CheckAPIKey and passes the rest to next.
func RequireAPIKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !CheckAPIKey(req, key) {
			log.Warn().Str("component", "wshost").Str("remote", req.RemoteAddr).Str("path", req.URL.Path).Msg("invalid api key")
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}
