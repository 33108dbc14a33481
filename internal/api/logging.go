package api

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerWithRequest returns a logger carrying the request id, method and path.
func loggerWithRequest(r *http.Request) zerolog.Logger {
	if r == nil {
		return log.With().Str("component", "api").Logger()
	}

	return log.With().
		Str("component", "api").
		Str("request_id", GetRequestID(r)).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()
}
