package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"relgit/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("forwarded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "abc", seen)
		assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
	})
}

func TestLoggerAndRecover(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := &logging.Logger{Logger: zap.New(core)}

	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := Chain(panicky, Recover(logger), Logger(logger), RequestID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"INTERNAL"`)

	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	done := logs.FilterMessage("request completed").All()
	require.Len(t, done, 1)
	assert.Equal(t, zap.WarnLevel, done[0].Level)
	fields := done[0].ContextMap()
	assert.Equal(t, "/x", fields["path"])
	assert.EqualValues(t, http.StatusInternalServerError, fields["status"])
	assert.NotEmpty(t, fields["request_id"])
}
