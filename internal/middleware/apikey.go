package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/mediavault/service/internal/response"
)

// InvalidAPIKeyMessage is the body returned when the key check fails.
const InvalidAPIKeyMessage = "Invalid API Key!"

// RequireAPIKey returns middleware that compares the "key" query parameter
// against secret. An empty secret rejects every request.
func RequireAPIKey(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.Query().Get("key")
			if secret == "" || subtle.ConstantTimeCompare([]byte(key), []byte(secret)) != 1 {
				response.Text(w, http.StatusForbidden, InvalidAPIKeyMessage)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
