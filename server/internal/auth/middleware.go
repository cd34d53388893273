package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// QueryParam carries the key on WebSocket upgrades, where browsers cannot
// set custom headers.
const QueryParam = "api_key"

// APIKey returns HTTP middleware that enforces API key authentication.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all requests are allowed (pass-through).
//   - Requests whose path is listed in exempt are allowed.
//   - Otherwise the value of header must equal key. WebSocket upgrade
//     requests may send the key in the api_key query parameter instead.
//   - A missing, empty, or incorrect key is answered with 401.
func APIKey(mode, header, key string, exempt ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode != "apikey" || key == "" {
			return next
		}
		skip := make(map[string]bool, len(exempt))
		for _, p := range exempt {
			skip[p] = true
		}
		want := []byte(key)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(header)
			if got == "" && isUpgrade(r) {
				got = r.URL.Query().Get(QueryParam)
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
