package middleware

import (
	"net/http"
	"strings"

	"vidproxy/work/types"
)

const (
	// MediaAllowMethods are the methods browsers may use against the media routes.
	MediaAllowMethods = "GET, HEAD, OPTIONS"
	// MediaAllowHeaders are the request headers browsers may send to the media routes.
	MediaAllowHeaders = "Origin, Content-Type, Accept, Range"
)

var exposedHeaders = strings.Join(types.ExposedHeaders, ", ")

// SetMediaCORS writes the CORS headers every media response carries,
// including the X-Resolved-* expose whitelist.
func SetMediaCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", MediaAllowMethods)
	h.Set("Access-Control-Allow-Headers", MediaAllowHeaders)
	h.Set("Access-Control-Expose-Headers", exposedHeaders)
}

// MediaCORS answers preflight requests for media routes and decorates all
// other responses with the media CORS headers.
func MediaCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetMediaCORS(w.Header())
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// APICORS is the permissive policy for the JSON API.
func APICORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
