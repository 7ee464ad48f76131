package middleware

import (
	"net/http"
	"strings"
)

// StreamPathPrefix is the route prefix of raw media responses.
const StreamPathPrefix = "/stream/"

// SkipCompressionForStreams wraps a compression middleware so raw media and
// event-stream responses bypass it. Compressors buffer output, which stalls
// live video.
func SkipCompressionForStreams(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, StreamPathPrefix) ||
				strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
