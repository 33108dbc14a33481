package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter, r *http.Request)
		wantStatus int
		wantCode   ErrorCode
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) { BadRequest(w, r, "bad") }, http.StatusBadRequest, ErrCodeBadRequest},
		{"not found", func(w http.ResponseWriter, r *http.Request) { NotFound(w, r, "gone") }, http.StatusNotFound, ErrCodeNotFound},
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed},
		{"internal", func(w http.ResponseWriter, r *http.Request) { InternalError(w, r, errors.New("boom")) }, http.StatusInternalServerError, ErrCodeInternal},
		{"store", func(w http.ResponseWriter, r *http.Request) { StoreError(w, r, errors.New("down")) }, http.StatusInternalServerError, ErrCodeStoreError},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) { ServiceUnavailable(w, r, "later") }, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.write(rr, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, string(tt.wantCode), resp.Code)
		})
	}
}

func TestTooManyRequestsRetryAfter(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "1"},
		{in: -time.Second, want: "1"},
		{in: 300 * time.Millisecond, want: "1"},
		{in: 59*time.Second + time.Millisecond, want: "60"},
	}

	for _, tt := range tests {
		rr := httptest.NewRecorder()
		TooManyRequests(rr, httptest.NewRequest(http.MethodPost, "/v1/scrape", nil), "slow down", tt.in)
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, tt.want, rr.Header().Get("Retry-After"), "retry after %s", tt.in)
	}
}
