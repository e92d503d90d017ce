// Package middleware provides HTTP middleware for TaskForge.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/Strob0t/TaskForge/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID threads a correlation id through the request: an incoming
// X-Request-ID is honored, otherwise a fresh one is minted. The id lands in
// the logging context and is echoed on the response so callers can quote it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			var buf [16]byte
			_, _ = rand.Read(buf[:])
			id = hex.EncodeToString(buf[:])
		}

		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
