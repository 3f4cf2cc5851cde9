package request

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("reuses caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "abc-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))
	})

	t.Run("mints an id when absent or oversized", func(t *testing.T) {
		for _, header := range []string{"", strings.Repeat("x", maxRequestIDLength+1)} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(HeaderRequestID, header)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			require.NotEmpty(t, seen)
			assert.NotEqual(t, header, seen)
			assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
		}
	})
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/admin/certificates/expiring", nil)
	req.Header.Set(HeaderRequestID, "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	assert.Contains(t, line, `"status":418`)
	assert.Contains(t, line, `"path":"/admin/certificates/expiring"`)
	assert.Contains(t, line, `"request_id":"req-7"`)
}
