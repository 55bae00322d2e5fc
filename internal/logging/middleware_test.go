package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerMiddleware(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, request *http.Request) map[string]any {
		t.Helper()

		buf := &bytes.Buffer{}
		middleware := logging.NewRequestLoggerMiddleware(slog.New(slog.NewJSONHandler(buf, nil)))

		handler := middleware(func(w http.ResponseWriter, r *http.Request) {
			logging.FromContext(r.Context()).Info("test")
		})

		handler(httptest.NewRecorder(), request)

		var logEntry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
		require.Equal(t, "test", logEntry["msg"])
		require.Equal(t, "INFO", logEntry["level"])
		return logEntry
	}

	t.Run("all props", func(t *testing.T) {
		t.Parallel()

		request := httptest.NewRequest(http.MethodGet, "http://example.com/api/users", nil)
		request.Header.Set("X-Request-Id", "request-id")
		request.Header.Set("User-Agent", "user-agent/1.0")

		logEntry := run(t, request)
		require.Equal(t, "request-id", logEntry["requestId"])
		require.Equal(t, "user-agent/1.0", logEntry["userAgent"])
		require.Equal(t, "GET /api/users", logEntry["methodPath"])
	})

	t.Run("missing props", func(t *testing.T) {
		t.Parallel()

		request := httptest.NewRequest(http.MethodPost, "http://example.com/api/form", nil)
		request.Header.Del("User-Agent")

		logEntry := run(t, request)
		require.NotEmpty(t, logEntry["requestId"])
		require.Equal(t, "<missing>", logEntry["userAgent"])
		require.Equal(t, "POST /api/form", logEntry["methodPath"])
	})
}
